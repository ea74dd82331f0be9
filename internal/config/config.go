package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Weaviate WeaviateConfig `mapstructure:"weaviate"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	// TokenSecret signs and verifies the HMAC credential tokens issued to
	// tenants. The resolver rejects everything when it is empty.
	TokenSecret string `mapstructure:"token_secret"`
}

type DatabaseConfig struct {
	DSN                string `mapstructure:"dsn"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

type RedisConfig struct {
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	AuditListKey string `mapstructure:"audit_list_key"`
	AuditListMax int    `mapstructure:"audit_list_max"`
}

type WeaviateConfig struct {
	Host      string `mapstructure:"host"`
	Scheme    string `mapstructure:"scheme"`
	ClassName string `mapstructure:"class_name"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

type LLMConfig struct {
	// APIKey may also come from RAGGATE_LLM_API_KEY or a secrets file; it
	// is moved into a locked buffer at startup and never logged.
	APIKey         string `mapstructure:"api_key"`
	APIKeyFile     string `mapstructure:"api_key_file"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	TimeoutMs      int    `mapstructure:"timeout_ms"`
	MaxTokens      int    `mapstructure:"max_tokens"`
}

type PolicyConfig struct {
	RulesPath string  `mapstructure:"rules_path"`
	Watch     bool    `mapstructure:"watch"`
	QPS       float64 `mapstructure:"qps"`
	Burst     int     `mapstructure:"burst"`
}

type AuditConfig struct {
	LogDir    string `mapstructure:"log_dir"`
	QueueSize int    `mapstructure:"queue_size"`
	BufferMax int    `mapstructure:"buffer_max"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. RAGGATE_LLM_API_KEY
	viper.SetEnvPrefix("raggate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("redis.audit_list_key", "audit_records")
	viper.SetDefault("redis.audit_list_max", 10000)
	viper.SetDefault("database.audit_retention_days", 30)
	viper.SetDefault("weaviate.scheme", "http")
	viper.SetDefault("weaviate.class_name", "DocumentChunk")
	viper.SetDefault("weaviate.timeout_ms", 3000)
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.timeout_ms", 30000)
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("policy.rules_path", "./configs/rules.yaml")
	viper.SetDefault("policy.watch", true)
	viper.SetDefault("policy.qps", 10)
	viper.SetDefault("policy.burst", 20)
	viper.SetDefault("audit.log_dir", "./logs")
	viper.SetDefault("audit.queue_size", 1000)
	viper.SetDefault("audit.buffer_max", 1000)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
