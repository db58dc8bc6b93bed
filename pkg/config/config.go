package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Bilibili BilibiliConfig `mapstructure:"bilibili"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// 运行时解析的路径（不保存到文件）
	resolved *ResolvedPaths
}

// ServerConfig MCP服务标识
type ServerConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// BilibiliConfig B站相关配置
type BilibiliConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIURL    string        `mapstructure:"api_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// Cookie 可选的原始Cookie请求头，由使用者自行提供
	Cookie string `mapstructure:"cookie"`
}

// BrowserConfig 浏览器配置（仅用于获取匿名指纹cookie）
type BrowserConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Headless bool          `mapstructure:"headless"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ResolvedPaths 运行时解析的路径
type ResolvedPaths struct {
	LogOutput string
}

// EnvPrefix 环境变量前缀，如 BILIBILI_MCP_LOGGING_LEVEL
const EnvPrefix = "BILIBILI_MCP"

// Load 加载配置文件，如果文件不存在则使用默认值
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// 尝试读取配置文件，如果文件不存在则使用默认值
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			// 其他错误（如格式错误）仍然返回错误
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	resolved, err := createResolvedPaths(&config)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}
	config.resolved = resolved

	return &config, nil
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// 默认值均为基础类型，解码不会失败
	_ = v.Unmarshal(&config)
	config.resolved = &ResolvedPaths{}
	return &config
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "bilibili_mcp")
	v.SetDefault("server.version", "1.0.0")

	v.SetDefault("bilibili.base_url", "https://www.bilibili.com")
	v.SetDefault("bilibili.api_url", "https://api.bilibili.com")
	v.SetDefault("bilibili.user_agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("bilibili.timeout", "30s")
	v.SetDefault("bilibili.cookie", "")

	v.SetDefault("browser.enabled", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	// 为空时只输出到stderr，stdout留给stdio传输
	v.SetDefault("logging.output", "")
}

// createResolvedPaths 创建解析后的路径结构，不修改原始配置
func createResolvedPaths(config *Config) (*ResolvedPaths, error) {
	resolved := &ResolvedPaths{}
	var err error

	if config.Logging.Output != "" {
		resolved.LogOutput, err = resolvePath(config.Logging.Output)
		if err != nil {
			return nil, fmt.Errorf("解析log output失败: %w", err)
		}
	}

	return resolved, nil
}

// resolvePath 解析单个路径，支持：
// 1. 环境变量替换 (${VAR} 或 $VAR)
// 2. 用户目录展开 (~)
// 3. 相对路径转绝对路径
func resolvePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	originalPath := path

	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("无法获取用户目录: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("无法转换为绝对路径 '%s': %w", originalPath, err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// GetResolvedLogOutput 获取解析后的日志输出路径
func (c *Config) GetResolvedLogOutput() string {
	if c.resolved != nil && c.resolved.LogOutput != "" {
		return c.resolved.LogOutput
	}
	return c.Logging.Output
}
