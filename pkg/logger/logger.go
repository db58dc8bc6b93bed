package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/SpacervalLam/bilibili-mcp/pkg/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// New 根据配置创建日志实例
//
// 日志只写stderr（以及可选的日志文件），stdout留给MCP stdio传输。
func New(cfg *config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// 设置日志格式
	if cfg.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	output := cfg.GetResolvedLogOutput()
	if output != "" {
		// 确保日志目录存在
		if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
			return nil, errors.Wrap(err, "创建日志目录失败")
		}

		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, errors.Wrap(err, "打开日志文件失败")
		}

		// 同时输出到文件和stderr
		log.SetOutput(io.MultiWriter(os.Stderr, file))
	}

	return log, nil
}

// Discard 返回丢弃所有输出的日志实例，用于未注入日志的场景
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
