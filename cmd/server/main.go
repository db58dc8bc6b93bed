package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SpacervalLam/bilibili-mcp/internal/bilibili/api"
	"github.com/SpacervalLam/bilibili-mcp/internal/browser"
	"github.com/SpacervalLam/bilibili-mcp/internal/gateway"
	"github.com/SpacervalLam/bilibili-mcp/internal/mcp"
	"github.com/SpacervalLam/bilibili-mcp/pkg/config"
	"github.com/SpacervalLam/bilibili-mcp/pkg/logger"
	"github.com/sirupsen/logrus"
)

func main() {
	// 解析命令行参数
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志系统
	log, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志系统失败: %v\n", err)
		os.Exit(1)
	}

	log.Info("bilibili-mcp 服务启动中...")
	log.Infof("配置文件: %s", configPath)

	// 收到中断信号时结束stdio循环
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(api.Options{
		APIURL:    cfg.Bilibili.APIURL,
		BaseURL:   cfg.Bilibili.BaseURL,
		UserAgent: cfg.Bilibili.UserAgent,
		Timeout:   cfg.Bilibili.Timeout,
		Cookies:   api.ParseCookieHeader(cfg.Bilibili.Cookie),
		Logger:    log,
	})

	if cfg.Browser.Enabled {
		bootstrapCookies(ctx, cfg, log, client)
	}

	gw := gateway.New(client, log)
	server := mcp.NewServer(cfg, gw, log)

	if err := server.Run(ctx); err != nil {
		log.Errorf("服务异常退出: %v", err)
		os.Exit(1)
	}

	log.Info("服务器已关闭")
}

// bootstrapCookies 用浏览器获取访客cookie，失败时退回接口获取
func bootstrapCookies(ctx context.Context, cfg *config.Config, log *logrus.Logger, client *api.Client) {
	log.Info("通过浏览器获取访客cookie...")

	cookies, err := browser.NewCookieSource(cfg, log).Fetch(ctx)
	if err != nil {
		log.Warnf("浏览器获取cookie失败，将使用接口获取: %v", err)
		return
	}

	// 配置中显式提供的cookie优先
	client.SetCookies(api.MergeCookies(cookies, api.ParseCookieHeader(cfg.Bilibili.Cookie)))
}
