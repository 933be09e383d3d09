package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides is the environment surface inherited from the original
// deployment plus the Go-side additions. Pointer fields distinguish
// "unset" from explicit zero values.
type envOverrides struct {
	APIBaseURL *string `env:"GOSZAKUP_API_URL"`
	APIToken   *string `env:"GOSZAKUP_API_TOKEN"`

	DBHost     *string `env:"GOSZAKUP_DB_HOST"`
	DBPort     *int    `env:"GOSZAKUP_DB_PORT"`
	DBName     *string `env:"GOSZAKUP_DB_NAME"`
	DBUser     *string `env:"GOSZAKUP_DB_USER"`
	DBPassword *string `env:"GOSZAKUP_DB_PASSWORD"`
	DBSSLMode  *string `env:"GOSZAKUP_DB_SSLMODE"`

	RetryCount   *int `env:"ETL_RETRY_COUNT"`
	DelaySeconds *int `env:"ETL_DELAY_SECONDS"`
	Workers      *int `env:"ETL_WORKERS"`

	LogLevel  *string `env:"LOG_LEVEL"`
	LogFormat *string `env:"LOG_FORMAT"`

	MetricsAddr *string `env:"METRICS_ADDR"`
}

// ApplyEnv overlays environment variables onto the configuration. Only
// variables that are actually set override file or default values.
func (c *Config) ApplyEnv() error {
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if ov.APIBaseURL != nil {
		c.API.BaseURL = *ov.APIBaseURL
	}
	if ov.APIToken != nil {
		c.API.Token = *ov.APIToken
	}
	if ov.DBHost != nil {
		c.DB.Host = *ov.DBHost
	}
	if ov.DBPort != nil {
		c.DB.Port = *ov.DBPort
	}
	if ov.DBName != nil {
		c.DB.Name = *ov.DBName
	}
	if ov.DBUser != nil {
		c.DB.User = *ov.DBUser
	}
	if ov.DBPassword != nil {
		c.DB.Password = *ov.DBPassword
	}
	if ov.DBSSLMode != nil {
		c.DB.SSLMode = *ov.DBSSLMode
	}
	if ov.RetryCount != nil {
		c.Retry.MaxAttempts = *ov.RetryCount
	}
	if ov.DelaySeconds != nil {
		// The original deployment expressed pacing in whole seconds.
		c.Retry.PerRequestDelay = time.Duration(*ov.DelaySeconds) * time.Second
	}
	if ov.Workers != nil {
		c.Run.Workers = *ov.Workers
	}
	if ov.LogLevel != nil {
		c.Logging.Level = *ov.LogLevel
	}
	if ov.LogFormat != nil {
		c.Logging.Format = *ov.LogFormat
	}
	if ov.MetricsAddr != nil {
		c.Observability.MetricsAddr = *ov.MetricsAddr
	}

	return nil
}
