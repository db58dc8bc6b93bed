package mcp

import (
	"context"
	"time"

	"github.com/SpacervalLam/bilibili-mcp/internal/gateway"
	"github.com/SpacervalLam/bilibili-mcp/pkg/config"
	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Server MCP服务器
type Server struct {
	config  *config.Config
	gateway *gateway.Gateway
	log     *logrus.Logger
	server  *gomcp.Server
}

// NewServer 创建MCP服务器并注册工具
func NewServer(cfg *config.Config, gw *gateway.Gateway, log *logrus.Logger) *Server {
	s := &Server{
		config:  cfg,
		gateway: gw,
		log:     log,
		server: gomcp.NewServer(&gomcp.Implementation{
			Name:    cfg.Server.Name,
			Version: cfg.Server.Version,
		}, nil),
	}

	s.server.AddReceivingMiddleware(s.loggingMiddleware)
	s.registerTools()
	return s
}

// MCPServer 返回底层SDK服务器
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// Run 通过stdio提供服务，阻塞直到客户端断开或ctx取消
func (s *Server) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"name":    s.config.Server.Name,
		"version": s.config.Server.Version,
	}).Info("MCP服务器通过stdio启动")

	if err := s.server.Run(ctx, &gomcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "MCP服务器运行失败")
	}

	s.log.Info("MCP服务器已停止")
	return nil
}

// Connect 在指定传输上建立会话，用于自定义传输
func (s *Server) Connect(ctx context.Context, transport gomcp.Transport) (*gomcp.ServerSession, error) {
	return s.server.Connect(ctx, transport, nil)
}

// loggingMiddleware 记录每个收到的MCP请求
func (s *Server) loggingMiddleware(next gomcp.MethodHandler) gomcp.MethodHandler {
	return func(ctx context.Context, method string, req gomcp.Request) (gomcp.Result, error) {
		start := time.Now()
		entry := s.log.WithField("method", method)
		if p, ok := req.GetParams().(*gomcp.CallToolParamsRaw); ok {
			entry = entry.WithField("tool", p.Name)
		}

		entry.Debug("收到MCP请求")
		result, err := next(ctx, method, req)
		if err != nil {
			entry.WithError(err).Warn("MCP请求失败")
			return result, err
		}

		entry.WithField("elapsed", time.Since(start)).Debug("MCP请求完成")
		return result, nil
	}
}
