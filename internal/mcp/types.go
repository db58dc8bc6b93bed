package mcp

// MCP 工具参数结构体定义，jsonschema 标签生成输入schema

// GeneralSearchArgs 综合搜索参数
type GeneralSearchArgs struct {
	Keyword string `json:"keyword" jsonschema:"搜索关键词，1-100个字符"`
}

// VideoInfoArgs 视频信息参数
type VideoInfoArgs struct {
	Aid int64 `json:"aid" jsonschema:"视频AV号，正整数"`
}

// UserInfoArgs 用户信息参数
type UserInfoArgs struct {
	UID int64 `json:"uid" jsonschema:"用户UID，正整数"`
}

// VideoCommentsArgs 视频评论参数
//
// Page 用指针区分未传（默认第1页）与显式传0（参数错误）。
type VideoCommentsArgs struct {
	Aid  int64 `json:"aid" jsonschema:"视频AV号，正整数"`
	Page *int  `json:"page,omitempty" jsonschema:"评论页码，从1开始，默认1"`
}

// PopularVideosArgs 热门视频无参数
type PopularVideosArgs struct{}

// defaultCommentPage 未指定页码时的默认值
const defaultCommentPage = 1

// page 返回页码，未传时为默认值
func (a VideoCommentsArgs) page() int {
	if a.Page == nil {
		return defaultCommentPage
	}
	return *a.Page
}
