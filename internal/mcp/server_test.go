package mcp

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/SpacervalLam/bilibili-mcp/internal/gateway"
	"github.com/SpacervalLam/bilibili-mcp/pkg/config"
	"github.com/SpacervalLam/bilibili-mcp/pkg/logger"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
)

// stubPlatform 按方法返回预设结果并记录参数
type stubPlatform struct {
	mu    sync.Mutex
	calls []string
	pages []int

	data map[string]any
	err  error
}

func (p *stubPlatform) record(call string) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.data, p.err
}

func (p *stubPlatform) Search(_ context.Context, keyword string) (map[string]any, error) {
	return p.record("search")
}

func (p *stubPlatform) GetVideoInfo(_ context.Context, aid int64) (map[string]any, error) {
	return p.record("video")
}

func (p *stubPlatform) GetUserInfo(_ context.Context, uid int64) (map[string]any, error) {
	return p.record("user")
}

func (p *stubPlatform) GetComments(_ context.Context, aid int64, page int) (map[string]any, error) {
	p.mu.Lock()
	p.pages = append(p.pages, page)
	p.mu.Unlock()
	return p.record("comments")
}

func (p *stubPlatform) GetPopular(_ context.Context) (map[string]any, error) {
	return p.record("popular")
}

func (p *stubPlatform) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// connect 通过内存传输建立客户端会话
func connect(t *testing.T, platform gateway.Platform) *gomcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	log := logger.Discard()
	srv := NewServer(config.Default(), gateway.New(platform, log), log)

	clientTransport, serverTransport := gomcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatalf("server connect failed: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v1.0.0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect failed: %v", err)
	}
	t.Cleanup(func() { cs.Close() })

	return cs
}

func callTool(t *testing.T, cs *gomcp.ClientSession, name string, args map[string]any) (*gomcp.CallToolResult, error) {
	t.Helper()
	return cs.CallTool(context.Background(), &gomcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

// rejection 返回工具调用被拒绝时的消息（协议错误或 isError 结果）
func rejection(res *gomcp.CallToolResult, err error) (string, bool) {
	if err != nil {
		return err.Error(), true
	}
	if res == nil || !res.IsError {
		return "", false
	}
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String(), true
}

// document 解析结果中的文本内容
func document(t *testing.T, res *gomcp.CallToolResult) map[string]any {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(res.Content))
	}
	tc, ok := res.Content[0].(*gomcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &doc); err != nil {
		t.Fatalf("content is not a JSON object: %v", err)
	}
	return doc
}

func TestListTools(t *testing.T) {
	cs := connect(t, &stubPlatform{})

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}

	names := make(map[string]*gomcp.Tool)
	for _, tool := range res.Tools {
		names[tool.Name] = tool
	}
	for _, want := range []string{
		gateway.ToolGeneralSearch,
		gateway.ToolVideoInfo,
		gateway.ToolUserInfo,
		gateway.ToolVideoComments,
		gateway.ToolPopularVideos,
	} {
		if names[want] == nil {
			t.Errorf("missing tool %q", want)
		}
	}
	if len(res.Tools) != 5 {
		t.Errorf("expected 5 tools, got %d", len(res.Tools))
	}

	schema, err := json.Marshal(names[gateway.ToolVideoComments].InputSchema)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	if !strings.Contains(string(schema), `"required":["aid"]`) {
		t.Errorf("expected only aid required, got %s", schema)
	}
}

func TestVideoInfo_PassThrough(t *testing.T) {
	p := &stubPlatform{data: map[string]any{"title": "t"}}
	cs := connect(t, p)

	res, err := callTool(t, cs, gateway.ToolVideoInfo, map[string]any{"aid": 42})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatal("unexpected isError result")
	}

	want := map[string]any{"title": "t"}
	if got := document(t, res); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if !reflect.DeepEqual(res.StructuredContent, want) {
		t.Errorf("expected structured content %v, got %#v", want, res.StructuredContent)
	}
}

func TestGeneralSearch_DownstreamErrorInBand(t *testing.T) {
	p := &stubPlatform{err: errors.New("timeout")}
	cs := connect(t, p)

	res, err := callTool(t, cs, gateway.ToolGeneralSearch, map[string]any{"keyword": "x"})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatal("downstream failure must be reported in-band")
	}
	if got := document(t, res); !reflect.DeepEqual(got, map[string]any{"error": "timeout"}) {
		t.Errorf("expected {error: timeout}, got %v", got)
	}
}

func TestGeneralSearch_EmptyKeywordRejected(t *testing.T) {
	p := &stubPlatform{}
	cs := connect(t, p)

	msg, rejected := rejection(callTool(t, cs, gateway.ToolGeneralSearch, map[string]any{"keyword": ""}))
	if !rejected {
		t.Fatal("expected validation rejection")
	}
	if !strings.Contains(msg, "Keyword must be 1-100 characters long") {
		t.Errorf("unexpected message %q", msg)
	}
	if p.callCount() != 0 {
		t.Error("platform must not be called")
	}
}

func TestVideoComments_DefaultPage(t *testing.T) {
	p := &stubPlatform{data: map[string]any{"replies": []any{}}}
	cs := connect(t, p)

	res, err := callTool(t, cs, gateway.ToolVideoComments, map[string]any{"aid": 5})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatal("unexpected isError result")
	}
	if len(p.pages) != 1 || p.pages[0] != 1 {
		t.Errorf("expected default page 1, got %v", p.pages)
	}
}

func TestVideoComments_PageZeroRejected(t *testing.T) {
	p := &stubPlatform{}
	cs := connect(t, p)

	msg, rejected := rejection(callTool(t, cs, gateway.ToolVideoComments, map[string]any{"aid": 5, "page": 0}))
	if !rejected {
		t.Fatal("expected validation rejection for page 0")
	}
	if !strings.Contains(msg, "AID must be positive and page >= 1") {
		t.Errorf("unexpected message %q", msg)
	}

	res, err := callTool(t, cs, gateway.ToolVideoComments, map[string]any{"aid": 5, "page": 1})
	if err != nil || res.IsError {
		t.Fatalf("page 1 should be accepted: %v", err)
	}
}

func TestVideoInfo_NonIntegerRejected(t *testing.T) {
	p := &stubPlatform{}
	cs := connect(t, p)

	for _, aid := range []any{3.5, "42", -1} {
		if _, rejected := rejection(callTool(t, cs, gateway.ToolVideoInfo, map[string]any{"aid": aid})); !rejected {
			t.Errorf("aid %v: expected rejection", aid)
		}
	}
	if p.callCount() != 0 {
		t.Errorf("platform must not be called, got %d calls", p.callCount())
	}
}

func TestUserInfo_Rejected(t *testing.T) {
	p := &stubPlatform{}
	cs := connect(t, p)

	msg, rejected := rejection(callTool(t, cs, gateway.ToolUserInfo, map[string]any{"uid": 0}))
	if !rejected || !strings.Contains(msg, "Invalid UID: 0") {
		t.Errorf("expected Invalid UID rejection, got %q", msg)
	}
}

func TestPopularVideos_NoArguments(t *testing.T) {
	p := &stubPlatform{err: errors.New("connection reset")}
	cs := connect(t, p)

	res, err := callTool(t, cs, gateway.ToolPopularVideos, map[string]any{})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.IsError {
		t.Fatal("popular_videos must not fail validation")
	}
	if got := document(t, res)["error"]; got != "connection reset" {
		t.Errorf("expected in-band error, got %v", got)
	}
}

func TestToolResult_UnencodableDocument(t *testing.T) {
	srv := &Server{log: logger.Discard()}

	res, doc, err := srv.toolResult(gateway.Success(map[string]any{"ch": make(chan int)}), nil)
	if err != nil {
		t.Fatalf("toolResult failed: %v", err)
	}
	if _, ok := doc["error"]; !ok {
		t.Errorf("expected in-band error document, got %v", doc)
	}
	if res.IsError {
		t.Error("encoding failure is an execution error, not a validation error")
	}
}
