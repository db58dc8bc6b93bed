// Package gateway 实现五个只读B站工具的参数校验与转发。
//
// 参数不合法时返回 *InvalidArgumentError（带外）；下游调用失败时
// 不返回 error，而是把消息放进 Result（带内）。
package gateway

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/SpacervalLam/bilibili-mcp/pkg/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MaxKeywordLength 搜索关键词的最大字符数
const MaxKeywordLength = 100

// 工具名称
const (
	ToolGeneralSearch = "general_search"
	ToolVideoInfo     = "video_info"
	ToolUserInfo      = "user_info"
	ToolVideoComments = "video_comments"
	ToolPopularVideos = "popular_videos"
)

// ErrInvalidArgument 参数校验失败
var ErrInvalidArgument = errors.New("invalid argument")

// InvalidArgumentError 参数校验失败，在任何下游调用之前返回
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string {
	return e.Message
}

// Is 使 errors.Is(err, ErrInvalidArgument) 成立
func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// IsInvalidArgument 判断是否为参数校验错误
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// Platform B站数据能力，每个方法阻塞到单次调用完成
type Platform interface {
	Search(ctx context.Context, keyword string) (map[string]any, error)
	GetVideoInfo(ctx context.Context, aid int64) (map[string]any, error)
	GetUserInfo(ctx context.Context, uid int64) (map[string]any, error)
	GetComments(ctx context.Context, aid int64, page int) (map[string]any, error)
	GetPopular(ctx context.Context) (map[string]any, error)
}

// Result 工具结果：成功时为平台原样返回的文档，失败时为错误消息
type Result struct {
	data    map[string]any
	message string
	failed  bool
}

// Success 成功结果，文档不做任何修改
func Success(data map[string]any) Result {
	return Result{data: data}
}

// Failure 下游失败结果
func Failure(message string) Result {
	return Result{message: message, failed: true}
}

// Failed 是否为下游失败
func (r Result) Failed() bool {
	return r.failed
}

// Message 失败消息，成功时为空
func (r Result) Message() string {
	return r.message
}

// Data 成功时的原始文档
func (r Result) Data() map[string]any {
	return r.data
}

// Document 返回对外的结果映射，失败时为 {"error": msg}
func (r Result) Document() map[string]any {
	if r.failed {
		return map[string]any{"error": r.message}
	}
	if r.data == nil {
		return map[string]any{}
	}
	return r.data
}

// Gateway 工具网关，无状态，可并发调用
type Gateway struct {
	platform Platform
	log      *logrus.Logger
}

// New 创建工具网关
func New(platform Platform, log *logrus.Logger) *Gateway {
	if log == nil {
		log = logger.Discard()
	}
	return &Gateway{platform: platform, log: log}
}

// GeneralSearch 综合搜索，关键词需为1-100个字符
func (g *Gateway) GeneralSearch(ctx context.Context, keyword string) (Result, error) {
	fields := logrus.Fields{"keyword": keyword}

	if n := utf8.RuneCountInString(keyword); n == 0 || n > MaxKeywordLength {
		return Result{}, g.invalid(fields, "Keyword must be 1-100 characters long")
	}

	return g.dispatch(ctx, ToolGeneralSearch, fields, func(ctx context.Context) (map[string]any, error) {
		return g.platform.Search(ctx, keyword)
	}), nil
}

// VideoInfo 按AV号获取视频信息
func (g *Gateway) VideoInfo(ctx context.Context, aid int64) (Result, error) {
	fields := logrus.Fields{"aid": aid}

	if aid <= 0 {
		return Result{}, g.invalid(fields, fmt.Sprintf("Invalid AID: %d", aid))
	}

	return g.dispatch(ctx, ToolVideoInfo, fields, func(ctx context.Context) (map[string]any, error) {
		return g.platform.GetVideoInfo(ctx, aid)
	}), nil
}

// UserInfo 按UID获取用户信息
func (g *Gateway) UserInfo(ctx context.Context, uid int64) (Result, error) {
	fields := logrus.Fields{"uid": uid}

	if uid <= 0 {
		return Result{}, g.invalid(fields, fmt.Sprintf("Invalid UID: %d", uid))
	}

	return g.dispatch(ctx, ToolUserInfo, fields, func(ctx context.Context) (map[string]any, error) {
		return g.platform.GetUserInfo(ctx, uid)
	}), nil
}

// VideoComments 获取视频评论，page 从1开始
func (g *Gateway) VideoComments(ctx context.Context, aid int64, page int) (Result, error) {
	fields := logrus.Fields{"aid": aid, "page": page}

	if aid <= 0 || page < 1 {
		return Result{}, g.invalid(fields, "AID must be positive and page >= 1")
	}

	return g.dispatch(ctx, ToolVideoComments, fields, func(ctx context.Context) (map[string]any, error) {
		return g.platform.GetComments(ctx, aid, page)
	}), nil
}

// PopularVideos 获取热门视频，没有参数因此不会校验失败
func (g *Gateway) PopularVideos(ctx context.Context) (Result, error) {
	return g.dispatch(ctx, ToolPopularVideos, logrus.Fields{}, func(ctx context.Context) (map[string]any, error) {
		return g.platform.GetPopular(ctx)
	}), nil
}

// invalid 记录并返回参数错误
func (g *Gateway) invalid(fields logrus.Fields, msg string) error {
	g.log.WithFields(fields).Error(msg)
	return &InvalidArgumentError{Message: msg}
}

// dispatch 调用下游一次并把失败转换为带内错误
func (g *Gateway) dispatch(ctx context.Context, tool string, fields logrus.Fields, call func(context.Context) (map[string]any, error)) (result Result) {
	entry := g.log.WithFields(fields).WithField("tool", tool)

	// 下游panic同样按执行失败处理
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			entry.WithField("error", msg).Error("调用失败")
			result = Failure(msg)
		}
	}()

	entry.Info("开始调用B站接口")

	data, err := call(ctx)
	if err != nil {
		entry.WithError(err).Error("调用失败")
		return Failure(err.Error())
	}

	entry.Info("调用完成")
	return Success(data)
}
