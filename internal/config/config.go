package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DefaultNeoWsBaseURL = "https://api.nasa.gov/neo/rest/v1/feed"

	// NeoWs rejects feed windows longer than seven days.
	maxHarvestWindowDays = 7
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	NeoWsBaseURL        string        `mapstructure:"neows_base_url"`
	NeoWsAPIKey         string        `mapstructure:"neows_api_key"`
	NeoWsUserAgent      string        `mapstructure:"neows_user_agent"`
	NeoWsTimeoutSeconds int64         `mapstructure:"neows_timeout_seconds"`
	NeoWsTimeout        time.Duration `mapstructure:"-"`

	PublishersFile         string        `mapstructure:"publishers_file"`
	HarvestIntervalSeconds int64         `mapstructure:"harvest_interval"`
	HarvestInterval        time.Duration `mapstructure:"-"`
	HarvestWindowDays      int           `mapstructure:"harvest_window_days"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "neows-harvester")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("neows_base_url", DefaultNeoWsBaseURL)
	v.SetDefault("neows_api_key", "")
	v.SetDefault("neows_user_agent", "neows-harvester/1.0")
	v.SetDefault("neows_timeout_seconds", 15)
	v.SetDefault("publishers_file", "./configs/publishers.yaml")
	v.SetDefault("harvest_interval", 3600) // seconds
	v.SetDefault("harvest_window_days", maxHarvestWindowDays)
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/cache.db")
	v.SetDefault("storage_ttl_seconds", int64((5*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.NeoWsBaseURL = strings.TrimSpace(c.NeoWsBaseURL)
	c.NeoWsAPIKey = strings.TrimSpace(c.NeoWsAPIKey)

	if c.NeoWsBaseURL == "" {
		return fmt.Errorf("neows_base_url is required")
	}
	if c.NeoWsAPIKey == "" {
		return fmt.Errorf("neows_api_key is required (set NEOWS_API_KEY)")
	}
	if c.NeoWsTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid neows_timeout_seconds (must be positive seconds)")
	}
	c.NeoWsTimeout = time.Duration(c.NeoWsTimeoutSeconds) * time.Second

	if c.HarvestIntervalSeconds <= 0 {
		return fmt.Errorf("invalid harvest_interval (must be positive seconds)")
	}
	c.HarvestInterval = time.Duration(c.HarvestIntervalSeconds) * time.Second

	if c.HarvestWindowDays < 1 || c.HarvestWindowDays > maxHarvestWindowDays {
		return fmt.Errorf("invalid harvest_window_days %d (must be between 1 and %d)", c.HarvestWindowDays, maxHarvestWindowDays)
	}

	if c.StorageTTLSeconds <= 0 {
		return fmt.Errorf("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if c.StorageCleanupSeconds <= 0 {
		return fmt.Errorf("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	c.StorageTTL = time.Duration(c.StorageTTLSeconds) * time.Second
	c.StorageCleanupInterval = time.Duration(c.StorageCleanupSeconds) * time.Second

	return nil
}

// Redacted returns a copy safe for logging: the API key is masked.
func (c Config) Redacted() Config {
	c.NeoWsAPIKey = maskSecret(c.NeoWsAPIKey)
	return c
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}
