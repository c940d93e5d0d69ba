package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// Analyzer connectivity
	MLLPReadTimeoutSec  int `mapstructure:"MLLP_READ_TIMEOUT_SEC"`
	MLLPWriteTimeoutSec int `mapstructure:"MLLP_WRITE_TIMEOUT_SEC"`

	// Result handling
	DeltaCheckDefaultPercent float64 `mapstructure:"DELTA_CHECK_DEFAULT_PERCENT"`

	// Outbound notifications (result-ready, critical alerts)
	NotifyWebhookURL   string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyTimeoutSec   int    `mapstructure:"NOTIFY_TIMEOUT_SEC"`
	NotifyRetryCount   int    `mapstructure:"NOTIFY_RETRY_COUNT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("MLLP_READ_TIMEOUT_SEC", 300)
	v.SetDefault("MLLP_WRITE_TIMEOUT_SEC", 10)
	v.SetDefault("DELTA_CHECK_DEFAULT_PERCENT", 50)
	v.SetDefault("NOTIFY_TIMEOUT_SEC", 5)
	v.SetDefault("NOTIFY_RETRY_COUNT", 2)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("MLLP_READ_TIMEOUT_SEC")
	v.BindEnv("MLLP_WRITE_TIMEOUT_SEC")
	v.BindEnv("DELTA_CHECK_DEFAULT_PERCENT")
	v.BindEnv("NOTIFY_WEBHOOK_URL")
	v.BindEnv("NOTIFY_TIMEOUT_SEC")
	v.BindEnv("NOTIFY_RETRY_COUNT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be \"development\", \"staging\", or \"production\", got %q", c.Env)
	}
	if c.DeltaCheckDefaultPercent <= 0 {
		return fmt.Errorf("DELTA_CHECK_DEFAULT_PERCENT must be positive, got %v", c.DeltaCheckDefaultPercent)
	}
	if c.MLLPReadTimeoutSec <= 0 || c.MLLPWriteTimeoutSec <= 0 {
		return fmt.Errorf("MLLP timeouts must be positive")
	}
	return nil
}
