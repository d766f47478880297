package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete agent configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Upload    UploadConfig    `mapstructure:"upload"`
	Goal      GoalConfig      `mapstructure:"goal"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Classify  ClassifyConfig  `mapstructure:"classify"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig defines local API and metrics listener settings.
type ServerConfig struct {
	APIPort         int     `mapstructure:"api_port"`
	MetricsPort     int     `mapstructure:"metrics_port"`
	BindAddress     string  `mapstructure:"bind_address"`
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec"`
	RateLimitBurst  int     `mapstructure:"rate_limit_burst"`
	ReportCacheTTL  string  `mapstructure:"report_cache_ttl"`
}

// StorageConfig defines storage backend settings.
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings.
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// SyncConfig defines daily sync scheduling behavior.
type SyncConfig struct {
	TargetTime    string `mapstructure:"target_time"` // HH:MM local time
	Timezone      string `mapstructure:"timezone"`    // IANA name, "" = system local
	NoiseFloor    string `mapstructure:"noise_floor"`
	BackoffBase   string `mapstructure:"backoff_base"`
	MaxRetries    int    `mapstructure:"max_retries"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// UploadConfig defines the cloud backend sink.
type UploadConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Timeout   string `mapstructure:"timeout"`
	AuthToken string `mapstructure:"auth_token"`
}

// GoalConfig defines goal derivation defaults.
type GoalConfig struct {
	Default       string  `mapstructure:"default"`        // fallback when no baseline exists
	BaselineRatio float64 `mapstructure:"baseline_ratio"` // default goal = ratio * baseline
}

// ReconcileConfig defines event reconciliation thresholds.
type ReconcileConfig struct {
	LaunchDebounce  string `mapstructure:"launch_debounce"`
	MaxSession      string `mapstructure:"max_session"`
	MaxDailyTotal   string `mapstructure:"max_daily_total"`
}

// ClassifyConfig extends the built-in category tables.
type ClassifyConfig struct {
	SocialMedia   []string `mapstructure:"social_media"`
	Entertainment []string `mapstructure:"entertainment"`
}

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("TIMELEAK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8439)
	v.SetDefault("server.metrics_port", 9439)
	v.SetDefault("server.bind_address", "127.0.0.1")
	v.SetDefault("server.rate_limit_per_sec", 10.0)
	v.SetDefault("server.rate_limit_burst", 5)
	v.SetDefault("server.report_cache_ttl", "30s")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/timeleak/timeleak.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 5)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Sync defaults
	v.SetDefault("sync.target_time", "23:59")
	v.SetDefault("sync.timezone", "")
	v.SetDefault("sync.noise_floor", "60s")
	v.SetDefault("sync.backoff_base", "15m")
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.retention_days", 35)

	// Upload defaults
	v.SetDefault("upload.base_url", "")
	v.SetDefault("upload.timeout", "30s")
	v.SetDefault("upload.auth_token", "")

	// Goal defaults
	v.SetDefault("goal.default", "4h30m")
	v.SetDefault("goal.baseline_ratio", 0.9)

	// Reconcile defaults
	v.SetDefault("reconcile.launch_debounce", "2s")
	v.SetDefault("reconcile.max_session", "4h")
	v.SetDefault("reconcile.max_daily_total", "24h")

	// Classify defaults: built-in tables apply, these only extend them
	v.SetDefault("classify.social_media", []string{})
	v.SetDefault("classify.entertainment", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if _, err := parseClockTime(cfg.Sync.TargetTime); err != nil {
		return fmt.Errorf("invalid sync.target_time: %w", err)
	}
	if cfg.Sync.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Sync.Timezone); err != nil {
			return fmt.Errorf("invalid sync.timezone: %w", err)
		}
	}
	for key, value := range map[string]string{
		"sync.noise_floor":          cfg.Sync.NoiseFloor,
		"sync.backoff_base":         cfg.Sync.BackoffBase,
		"upload.timeout":            cfg.Upload.Timeout,
		"goal.default":              cfg.Goal.Default,
		"reconcile.launch_debounce": cfg.Reconcile.LaunchDebounce,
		"reconcile.max_session":     cfg.Reconcile.MaxSession,
		"reconcile.max_daily_total": cfg.Reconcile.MaxDailyTotal,
		"server.report_cache_ttl":   cfg.Server.ReportCacheTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	if cfg.Goal.BaselineRatio <= 0 || cfg.Goal.BaselineRatio > 1 {
		return fmt.Errorf("goal.baseline_ratio must be in (0, 1], got %v", cfg.Goal.BaselineRatio)
	}

	switch cfg.Storage.Type {
	case "", "bolt":
		cfg.Storage.Type = "bolt"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
	default:
		return fmt.Errorf("unknown storage type: %q", cfg.Storage.Type)
	}

	return nil
}

// parseClockTime parses an HH:MM time of day.
func parseClockTime(s string) (time.Time, error) {
	return time.Parse("15:04", s)
}

// ParseDuration parses a duration string with a fallback.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
