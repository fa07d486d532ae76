package config

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// PipelineMode 流水线模式
type PipelineMode string

const (
	ModeMock PipelineMode = "mock"
	ModeLive PipelineMode = "live"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	ASR      ASRConfig      `mapstructure:"asr"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	DBPath      string `mapstructure:"db_path"`      // SQLite 数据库文件路径
	ProjectsDir string `mapstructure:"projects_dir"` // 项目工作目录根
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type PipelineConfig struct {
	Mode      PipelineMode `mapstructure:"mode"`       // mock 或 live
	YtDlpBin  string       `mapstructure:"yt_dlp_bin"` // yt-dlp 可执行文件
	FfmpegBin string       `mapstructure:"ffmpeg_bin"` // ffmpeg 可执行文件
}

type ASRConfig struct {
	APIURL string `mapstructure:"api_url"` // DashScope API 地址
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"` // Fun-ASR 模型标识
}

type OSSConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// ContinuationPrompt 响应被 MAX_TOKENS 截断时发送的续写提示词
	ContinuationPrompt string `mapstructure:"continuation_prompt"`
	// TwdRate 美元转新台币汇率，用于成本换算
	TwdRate float64 `mapstructure:"twd_rate"`
}

func Load() *Config {
	setDefaults()

	// 读取配置
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("未找到配置文件，使用默认配置")
		} else {
			log.Fatalf("读取配置文件出错: %v", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")
	viper.SetDefault("server.db_path", "data/grillmaster.db")
	viper.SetDefault("server.projects_dir", "projects")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// 流水线默认配置
	viper.SetDefault("pipeline.mode", "mock")
	viper.SetDefault("pipeline.yt_dlp_bin", "yt-dlp")
	viper.SetDefault("pipeline.ffmpeg_bin", "ffmpeg")

	// 供应商默认配置
	viper.SetDefault("asr.api_url", "https://dashscope.aliyuncs.com/api/v1")
	viper.SetDefault("asr.model", "fun-asr-2025-11-07")
	viper.SetDefault("gemini.model", "gemini-3-pro-preview")
	viper.SetDefault("gemini.continuation_prompt", "繼續")
	viper.SetDefault("gemini.twd_rate", 32.0)
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.Pipeline.Mode != ModeMock && config.Pipeline.Mode != ModeLive {
		return fmt.Errorf("无效的流水线模式: %s", config.Pipeline.Mode)
	}
	return nil
}

// ValidateLive 检查 live 模式所需的凭据，缺失时返回包含全部缺失项的错误
func (c *Config) ValidateLive() error {
	if c.Pipeline.Mode != ModeLive {
		return nil
	}

	required := map[string]string{
		"asr.api_key":           c.ASR.APIKey,
		"oss.region":            c.OSS.Region,
		"oss.bucket":            c.OSS.Bucket,
		"oss.access_key_id":     c.OSS.AccessKeyID,
		"oss.access_key_secret": c.OSS.AccessKeySecret,
		"gemini.api_key":        c.Gemini.APIKey,
	}

	var missing []string
	for name, value := range required {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("live 模式缺少必要配置: %s", strings.Join(missing, ", "))
	}
	return nil
}
