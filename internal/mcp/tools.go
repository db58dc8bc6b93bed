package mcp

import (
	"context"
	"encoding/json"

	"github.com/SpacervalLam/bilibili-mcp/internal/gateway"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerTools 注册五个只读工具
func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        gateway.ToolGeneralSearch,
		Description: "在B站按关键词进行综合搜索，返回B站接口的原始搜索结果；失败时返回带 error 字段的对象",
	}, func(ctx context.Context, req *gomcp.CallToolRequest, args GeneralSearchArgs) (*gomcp.CallToolResult, map[string]any, error) {
		return s.toolResult(s.gateway.GeneralSearch(ctx, args.Keyword))
	})

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        gateway.ToolVideoInfo,
		Description: "按AV号获取B站视频信息；失败时返回带 error 字段的对象",
	}, func(ctx context.Context, req *gomcp.CallToolRequest, args VideoInfoArgs) (*gomcp.CallToolResult, map[string]any, error) {
		return s.toolResult(s.gateway.VideoInfo(ctx, args.Aid))
	})

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        gateway.ToolUserInfo,
		Description: "按UID获取B站用户信息；失败时返回带 error 字段的对象",
	}, func(ctx context.Context, req *gomcp.CallToolRequest, args UserInfoArgs) (*gomcp.CallToolResult, map[string]any, error) {
		return s.toolResult(s.gateway.UserInfo(ctx, args.UID))
	})

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        gateway.ToolVideoComments,
		Description: "按AV号获取B站视频评论，可指定页码（默认第1页）；失败时返回带 error 字段的对象",
	}, func(ctx context.Context, req *gomcp.CallToolRequest, args VideoCommentsArgs) (*gomcp.CallToolResult, map[string]any, error) {
		return s.toolResult(s.gateway.VideoComments(ctx, args.Aid, args.page()))
	})

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        gateway.ToolPopularVideos,
		Description: "获取B站综合热门视频列表；失败时返回带 error 字段的对象",
	}, func(ctx context.Context, req *gomcp.CallToolRequest, args PopularVideosArgs) (*gomcp.CallToolResult, map[string]any, error) {
		return s.toolResult(s.gateway.PopularVideos(ctx))
	})
}

// toolResult 把网关结果转换为工具结果
//
// 参数错误直接返回 error，由SDK以 isError 结果带外上报；
// 其余情况文档同时放在文本内容和结构化内容中。
func (s *Server) toolResult(res gateway.Result, err error) (*gomcp.CallToolResult, map[string]any, error) {
	if err != nil {
		return nil, nil, err
	}

	doc := res.Document()
	text, mErr := json.Marshal(doc)
	if mErr != nil {
		s.log.WithError(mErr).Error("编码工具结果失败")
		doc = map[string]any{"error": mErr.Error()}
		text, _ = json.Marshal(doc)
	}

	return &gomcp.CallToolResult{
		Content: []gomcp.Content{
			&gomcp.TextContent{Text: string(text)},
		},
	}, doc, nil
}
