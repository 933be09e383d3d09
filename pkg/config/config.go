// Package config provides the configuration system for goszakup-etl.
// A single Config structure covers the API client, the PostgreSQL
// destination, retry/pacing behavior, and the run orchestration knobs.
//
// Configuration is resolved in three layers: built-in defaults, an
// optional YAML file (with ${VAR} environment substitution), and finally
// environment variables using the names the original deployment used
// (GOSZAKUP_DB_HOST, GOSZAKUP_API_TOKEN, ETL_RETRY_COUNT, ...).
//
// Example usage:
//
//	cfg := config.New()
//	if err := config.Load("goszakup.yaml", cfg); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ApplyEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/qazdata/goszakup-etl/internal/version"
)

// DefaultBaseURL is the public OWS endpoint of the procurement registry.
const DefaultBaseURL = "https://ows.goszakup.gov.kz"

// Config is the root configuration structure.
type Config struct {
	// API configures the registry HTTP client
	API APIConfig `yaml:"api" json:"api"`

	// DB configures the PostgreSQL destination
	DB DBConfig `yaml:"db" json:"db"`

	// Retry configures retry, backoff and request pacing
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Run configures DAG execution
	Run RunConfig `yaml:"run" json:"run"`

	// Logging configures structured log output
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Observability configures metrics and tracing
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// APIConfig contains settings for the remote registry API.
type APIConfig struct {
	// BaseURL is the API root; paginated next_page URLs are resolved
	// against it
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Token is the bearer token; empty means anonymous access
	Token string `yaml:"token" json:"token"`
	// RequestTimeout bounds each individual HTTP request
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// UserAgent identifies this client to the registry
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// InsecureSkipVerify disables TLS certificate verification
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// DBConfig contains settings for the PostgreSQL destination.
type DBConfig struct {
	// Host of the PostgreSQL server
	Host string `yaml:"host" json:"host"`
	// Port of the PostgreSQL server
	Port int `yaml:"port" json:"port"`
	// Name of the database
	Name string `yaml:"name" json:"name"`
	// User to authenticate as
	User string `yaml:"user" json:"user"`
	// Password for the user
	Password string `yaml:"password" json:"password"`
	// SSLMode passed through to the connection string
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode"`
	// MaxConns caps the connection pool
	MaxConns int32 `yaml:"max_conns" json:"max_conns"`
	// MinConns keeps warm connections in the pool
	MinConns int32 `yaml:"min_conns" json:"min_conns"`
	// MaxConnLifetime recycles connections after this age
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" json:"max_conn_lifetime"`
	// MaxConnIdleTime closes idle connections after this duration
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" json:"max_conn_idle_time"`
}

// RetryConfig contains retry, backoff and pacing settings shared by all
// fetchers in a run.
type RetryConfig struct {
	// MaxAttempts is the per-page attempt budget (>= 1)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// BaseDelay is the first backoff delay
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`
	// Multiplier grows the backoff exponentially
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
	// MaxDelay caps any single backoff wait
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`
	// PerRequestDelay is the fixed pacing delay after each successful
	// request
	PerRequestDelay time.Duration `yaml:"per_request_delay" json:"per_request_delay"`
}

// DependentPolicy decides what happens to the dependents of a failed node.
type DependentPolicy string

const (
	// SkipOnFailure skips dependents of failed or skipped nodes
	SkipOnFailure DependentPolicy = "skip"
	// RunAlways runs dependents regardless of ancestor outcome
	RunAlways DependentPolicy = "always"
)

// RunConfig contains DAG execution settings.
type RunConfig struct {
	// Workers bounds concurrent entity loads
	Workers int `yaml:"workers" json:"workers"`
	// DependentPolicy is "skip" or "always"
	DependentPolicy DependentPolicy `yaml:"dependent_policy" json:"dependent_policy"`
	// EnsureTables creates missing append-mode tables before loading
	EnsureTables bool `yaml:"ensure_tables" json:"ensure_tables"`
}

// LoggingConfig contains log output settings.
type LoggingConfig struct {
	// Level sets verbosity (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`
	// Format selects the encoder (json or console)
	Format string `yaml:"format" json:"format"`
	// Development enables colored console output and stacktraces
	Development bool `yaml:"development" json:"development"`
}

// ObservabilityConfig contains metrics and tracing settings.
type ObservabilityConfig struct {
	// MetricsAddr serves Prometheus metrics when non-empty (e.g. ":9090")
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates the OpenTelemetry trace pipeline
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
	// TracingSampleRate controls trace sampling (0.0-1.0)
	TracingSampleRate float64 `yaml:"tracing_sample_rate" json:"tracing_sample_rate"`
}

// New creates a Config with production defaults matching the original
// deployment where one existed (3 attempts, 1s pacing, 30s request
// timeout).
func New() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        DefaultBaseURL,
			RequestTimeout: 30 * time.Second,
			UserAgent:      "goszakup-etl/" + version.Version,
		},
		DB: DBConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "goszakup",
			User:            "goszakup",
			SSLMode:         "disable",
			MaxConns:        8,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 15 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			BaseDelay:       time.Second,
			Multiplier:      2.0,
			MaxDelay:        30 * time.Second,
			PerRequestDelay: time.Second,
		},
		Run: RunConfig{
			Workers:         3,
			DependentPolicy: SkipOnFailure,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Observability: ObservabilityConfig{
			TracingSampleRate: 0.1,
		},
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if _, err := url.Parse(c.API.BaseURL); err != nil {
		return fmt.Errorf("api.base_url is not a valid URL: %w", err)
	}
	if c.API.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be positive")
	}
	if c.DB.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		return fmt.Errorf("db.port must be in (0, 65535]")
	}
	if c.DB.Name == "" {
		return fmt.Errorf("db.name is required")
	}
	if c.DB.User == "" {
		return fmt.Errorf("db.user is required")
	}
	if c.DB.MaxConns <= 0 {
		return fmt.Errorf("db.max_conns must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.PerRequestDelay < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if c.Run.Workers < 1 {
		return fmt.Errorf("run.workers must be at least 1")
	}
	switch c.Run.DependentPolicy {
	case SkipOnFailure, RunAlways:
	default:
		return fmt.Errorf("run.dependent_policy must be %q or %q", SkipOnFailure, RunAlways)
	}
	if c.Observability.TracingSampleRate < 0 || c.Observability.TracingSampleRate > 1 {
		return fmt.Errorf("observability.tracing_sample_rate must be in [0, 1]")
	}
	return nil
}

// DSN returns a pgx-compatible connection string.
func (d *DBConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
