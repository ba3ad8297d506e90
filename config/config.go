package config

import (
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Dialogue DialogueConfig `yaml:"dialogue"`
	Safety   SafetyConfig   `yaml:"safety"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

type DatabaseConfig struct {
	Type string `yaml:"type"` // sqlite, mysql
	DSN  string `yaml:"dsn"`
}

type LLMConfig struct {
	APIURL            string  `yaml:"api_url"`
	APIKey            string  `yaml:"api_key"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float32 `yaml:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second"` // <=0 表示不限速
	Burst             int     `yaml:"burst"`
}

// DialogueConfig 对话编排相关配置
type DialogueConfig struct {
	MaxSupervisorCalls int           `yaml:"max_supervisor_calls"` // 每轮 Supervisor 最大调用次数
	HistoryWindow      int           `yaml:"history_window"`       // 传给模型的历史消息上限
	MaxToolRounds      int           `yaml:"max_tool_rounds"`      // 专科 Agent 最大工具调用轮数
	MaxConcurrentTurns int           `yaml:"max_concurrent_turns"` // 同时执行的对话轮数
	TurnTimeout        time.Duration `yaml:"turn_timeout"`
}

// SafetyConfig 安全闸门配置
type SafetyConfig struct {
	AlertThreshold float64 `yaml:"alert_threshold"`
	// FailClosed 为 true 时，无法解析的风险值按高风险处理
	FailClosed bool `yaml:"fail_closed"`
}

var (
	cfg  *Config
	once sync.Once
)

func GetConfig() *Config {
	once.Do(func() {
		cfg = loadConfig()
	})
	return cfg
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "./data/careguide.db",
		},
		LLM: LLMConfig{
			APIURL:            "https://api.openai.com/v1",
			Model:             "gpt-4.1-mini",
			MaxTokens:         1024,
			Temperature:       0.1,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Dialogue: DialogueConfig{
			MaxSupervisorCalls: 7,
			HistoryWindow:      20,
			MaxToolRounds:      5,
			MaxConcurrentTurns: 16,
			TurnTimeout:        2 * time.Minute,
		},
		Safety: SafetyConfig{
			AlertThreshold: 0.4,
			FailClosed:     false,
		},
	}
}

func loadConfig() *Config {
	// .env 文件不存在时忽略
	_ = godotenv.Load()

	config := Default()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, config); err != nil {
			klog.Warningf("配置文件解析失败，使用默认配置: path=%s, error=%v", configPath, err)
		}
	}

	applyEnv(config)
	return config
}

// applyEnv 环境变量优先级高于配置文件
func applyEnv(config *Config) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.LLM.APIURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL_NAME"); model != "" {
		config.LLM.Model = model
	}

	if dbType := os.Getenv("DB_TYPE"); dbType != "" {
		config.Database.Type = dbType
	}
	if dbDSN := os.Getenv("DB_DSN"); dbDSN != "" {
		config.Database.DSN = dbDSN
	}

	if port := os.Getenv("SERVER_PORT"); port != "" {
		config.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		config.Server.Mode = mode
	}

	if v := os.Getenv("SAFETY_FAIL_CLOSED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			config.Safety.FailClosed = b
		}
	}
	if v := os.Getenv("SAFETY_ALERT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Safety.AlertThreshold = f
		}
	}
}

// Dump 以 YAML 输出配置，API Key 做脱敏处理
func (c *Config) Dump(w io.Writer) error {
	masked := *c
	if masked.LLM.APIKey != "" {
		masked.LLM.APIKey = "******"
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return err
	}
	return enc.Close()
}
