package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Supported dedup cache backends.
const (
	DedupBackendRedis    = "redis"
	DedupBackendBadger   = "badger"
	DedupBackendSQLite   = "sqlite"
	DedupBackendPostgres = "postgres"
)

// AIEndpoint is one OpenAI-compatible completion endpoint.
type AIEndpoint struct {
	URL    string `mapstructure:"url"`
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// Config holds the application configuration.
type Config struct {
	// Cluster access
	Kubeconfig string `mapstructure:"kubeconfig"`
	Namespace  string `mapstructure:"namespace"`

	LogLevel string `mapstructure:"log_level"`

	// Dedup cache
	DedupBackend       string `mapstructure:"dedup_backend"`
	DedupWindowSeconds int    `mapstructure:"dedup_window_seconds"`
	RedisAddr          string `mapstructure:"redis_addr"`
	RedisPassword      string `mapstructure:"redis_password"`
	RedisDB            int    `mapstructure:"redis_db"`
	BadgerPath         string `mapstructure:"badger_path"`
	SQLitePath         string `mapstructure:"sqlite_path"`
	PostgresURL        string `mapstructure:"postgres_url"`

	// AI analysis
	OpenAIAPIKey        string       `mapstructure:"openai_api_key"`
	AIModel             string       `mapstructure:"ai_model"`
	AIBaseURL           string       `mapstructure:"ai_base_url"`
	AIFallbackEndpoints []AIEndpoint `mapstructure:"ai_fallback_endpoints"`

	// Reporting
	SlackWebhookURL          string `mapstructure:"slack_webhook_url"`
	FailureThresholdForAlert int    `mapstructure:"failure_threshold_for_alert"`

	HealthPort int `mapstructure:"health_port"`
}

// configFileUsed records the config file read by the last Load call.
var configFileUsed string

// setDefaults configures default values in viper.
func setDefaults() {
	viper.SetDefault("kubeconfig", "")
	viper.SetDefault("namespace", "")
	viper.SetDefault("log_level", "info")

	viper.SetDefault("dedup_backend", DedupBackendRedis)
	viper.SetDefault("dedup_window_seconds", 300)
	viper.SetDefault("redis_addr", "localhost:6379")
	viper.SetDefault("redis_password", "")
	viper.SetDefault("redis_db", 0)
	viper.SetDefault("badger_path", "./crashwatch-dedup")
	viper.SetDefault("sqlite_path", "./crashwatch.db")
	viper.SetDefault("postgres_url", "")

	viper.SetDefault("openai_api_key", "")
	viper.SetDefault("ai_model", "gpt-4o-mini")
	viper.SetDefault("ai_base_url", "https://api.openai.com/v1")

	viper.SetDefault("slack_webhook_url", "")
	viper.SetDefault("failure_threshold_for_alert", 3)

	viper.SetDefault("health_port", 8080)
}

// bindEnvVars maps config keys to their environment variables.
func bindEnvVars() {
	bindings := map[string]string{
		"kubeconfig":                  "KUBECONFIG",
		"namespace":                   "WATCH_NAMESPACE",
		"log_level":                   "LOG_LEVEL",
		"dedup_backend":               "DEDUP_BACKEND",
		"dedup_window_seconds":        "DEDUP_WINDOW_SECONDS",
		"redis_addr":                  "REDIS_ADDR",
		"redis_password":              "REDIS_PASSWORD",
		"redis_db":                    "REDIS_DB",
		"badger_path":                 "BADGER_PATH",
		"sqlite_path":                 "SQLITE_PATH",
		"postgres_url":                "POSTGRES_URL",
		"openai_api_key":              "OPENAI_API_KEY",
		"ai_model":                    "AI_MODEL",
		"ai_base_url":                 "AI_BASE_URL",
		"slack_webhook_url":           "SLACK_WEBHOOK_URL",
		"failure_threshold_for_alert": "FAILURE_THRESHOLD_FOR_ALERT",
		"health_port":                 "HEALTH_PORT",
	}
	for key, env := range bindings {
		_ = viper.BindEnv(key, env)
	}
}

// BindFlags binds command-line flags to viper keys so that flags take
// precedence over env vars and the config file.
func BindFlags(flags *pflag.FlagSet) {
	flagKeys := map[string]string{
		"kubeconfig":    "kubeconfig",
		"namespace":     "namespace",
		"log-level":     "log_level",
		"dedup-backend": "dedup_backend",
		"health-port":   "health_port",
	}
	for flag, key := range flagKeys {
		if f := flags.Lookup(flag); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}

// Load reads configuration from env vars and a config.yaml found in the
// standard search paths.
func Load() (*Config, error) {
	return LoadWithConfigFile("")
}

// LoadWithConfigFile reads configuration with precedence
// flags > env vars > config file > defaults.
// If configFile is empty, config.yaml is searched in ., ./configs and /etc/crashwatch.
func LoadWithConfigFile(configFile string) (*Config, error) {
	setDefaults()
	bindEnvVars()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/crashwatch")
	}

	configFileUsed = ""
	if err := viper.ReadInConfig(); err != nil {
		// An explicitly named file must exist; a searched one is optional.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		configFileUsed = viper.ConfigFileUsed()
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.DedupBackend = strings.ToLower(strings.TrimSpace(cfg.DedupBackend))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// GetConfigFile returns the config file read by the last Load, or "" if none.
func GetConfigFile() string {
	return configFileUsed
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	if c.DedupWindowSeconds < 1 {
		return fmt.Errorf("dedup_window_seconds must be >= 1, got %d", c.DedupWindowSeconds)
	}

	switch c.DedupBackend {
	case DedupBackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required when dedup_backend is %q", DedupBackendRedis)
		}
	case DedupBackendBadger:
		if c.BadgerPath == "" {
			return fmt.Errorf("badger_path is required when dedup_backend is %q", DedupBackendBadger)
		}
	case DedupBackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required when dedup_backend is %q", DedupBackendSQLite)
		}
	case DedupBackendPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required when dedup_backend is %q", DedupBackendPostgres)
		}
	default:
		return fmt.Errorf("unsupported dedup_backend %q (want redis, badger, sqlite or postgres)", c.DedupBackend)
	}

	if c.AIModel == "" {
		return fmt.Errorf("ai_model is required")
	}
	for i, ep := range c.AIFallbackEndpoints {
		if ep.URL == "" || ep.Model == "" {
			return fmt.Errorf("ai_fallback_endpoints[%d]: url and model are required", i)
		}
	}

	if c.FailureThresholdForAlert < 1 {
		return fmt.Errorf("failure_threshold_for_alert must be >= 1, got %d", c.FailureThresholdForAlert)
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("health_port must be between 0 and 65535, got %d", c.HealthPort)
	}

	return nil
}

// AIEndpoints returns the primary endpoint followed by any fallbacks.
// Fallback endpoints without their own key reuse the primary key.
func (c *Config) AIEndpoints() []AIEndpoint {
	endpoints := []AIEndpoint{{URL: c.AIBaseURL, Model: c.AIModel, APIKey: c.OpenAIAPIKey}}
	for _, ep := range c.AIFallbackEndpoints {
		if ep.APIKey == "" {
			ep.APIKey = c.OpenAIAPIKey
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}
