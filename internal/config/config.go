// Package config loads daemon configuration from YAML with environment
// overrides. Configuration is loaded once at startup and never mutated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML files can say "30m" or "90s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ClickHouse holds warehouse connection settings.
type ClickHouse struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"gte=1,lte=65535"`
	HTTPPort int    `yaml:"http_port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user" validate:"required"`
	Password string `yaml:"password"`
	Database string `yaml:"database" validate:"required"`
}

// DSN renders the native-protocol connection string.
func (c ClickHouse) DSN() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// HTTPDSN renders the HTTP fallback connection string.
func (c ClickHouse) HTTPDSN() string {
	return fmt.Sprintf("http://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.HTTPPort, c.Database)
}

// Postgres holds the optional run-log store settings. An empty DSN
// selects the in-memory store.
type Postgres struct {
	DSN string `yaml:"dsn"`
}

// Retry holds the backoff policy applied to retryable failures.
type Retry struct {
	MaxAttempts    int      `yaml:"max_attempts" validate:"gte=1,lte=20"`
	InitialBackoff Duration `yaml:"initial_backoff"`
	MaxBackoff     Duration `yaml:"max_backoff"`
	Multiplier     float64  `yaml:"multiplier" validate:"gte=1"`
}

// Breaker holds the default circuit breaker settings per source.
type Breaker struct {
	FailureThreshold uint32   `yaml:"failure_threshold" validate:"gte=1"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// Validation holds rule engine settings.
type Validation struct {
	FailOnErrors      bool    `yaml:"fail_on_errors"`
	SliceSize         int     `yaml:"slice_size" validate:"gte=1"`
	MaxPriceChangePct float64 `yaml:"max_price_change_pct" validate:"gt=0"`
}

// Writer holds lake writer settings.
type Writer struct {
	Compression string `yaml:"compression" validate:"oneof=snappy gzip zstd"`
}

// Loader holds warehouse loader settings.
type Loader struct {
	BatchSize   int `yaml:"batch_size" validate:"gte=1"`
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1,lte=10"`
}

// SourceConfig holds per-source fetch parameters.
type SourceConfig struct {
	URL           string `yaml:"url" validate:"required"`
	SchemaVersion string `yaml:"schema_version" validate:"required"`
	Referer       string `yaml:"referer"`

	// Symbols lists the fan-out targets of per-instrument sources:
	// index names for constituents, underlyings for option chains,
	// company symbols for filings.
	Symbols []string `yaml:"symbols"`

	MaxAttempts      int      `yaml:"max_attempts"`
	FailureThreshold uint32   `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// Config is the root configuration consumed by every component.
type Config struct {
	LakeRoot          string                  `yaml:"lake_root" validate:"required"`
	QuarantineDir     string                  `yaml:"quarantine_dir"`
	MetricsPort       int                     `yaml:"metrics_port" validate:"gte=1,lte=65535"`
	PoolSize          int                     `yaml:"pool_size" validate:"gte=1,lte=64"`
	RunDeadline       Duration                `yaml:"run_deadline"`
	MLflowTrackingURI string                  `yaml:"mlflow_tracking_uri"`
	ClickHouse        ClickHouse              `yaml:"clickhouse"`
	Postgres          Postgres                `yaml:"postgres"`
	Retry             Retry                   `yaml:"retry"`
	Breaker           Breaker                 `yaml:"breaker"`
	Validation        Validation              `yaml:"validation"`
	Writer            Writer                  `yaml:"writer"`
	Loader            Loader                  `yaml:"loader"`
	Sources           map[string]SourceConfig `yaml:"sources"`
	Schedules         map[string]string       `yaml:"schedules"`
}

// Default returns the configuration used when no YAML file overrides it.
func Default() *Config {
	return &Config{
		LakeRoot:    "./lake",
		MetricsPort: 9090,
		PoolSize:    4,
		RunDeadline: Duration(30 * time.Minute),
		ClickHouse: ClickHouse{
			Host:     "localhost",
			Port:     9000,
			HTTPPort: 8123,
			User:     "default",
			Database: "marketlake",
		},
		Retry: Retry{
			MaxAttempts:    3,
			InitialBackoff: Duration(2 * time.Second),
			MaxBackoff:     Duration(60 * time.Second),
			Multiplier:     2.0,
		},
		Breaker: Breaker{
			FailureThreshold: 5,
			RecoveryTimeout:  Duration(60 * time.Second),
		},
		Validation: Validation{
			FailOnErrors:      true,
			SliceSize:         10000,
			MaxPriceChangePct: 0.20,
		},
		Writer: Writer{
			Compression: "snappy",
		},
		Loader: Loader{
			BatchSize:   100000,
			MaxAttempts: 3,
		},
		Sources:   map[string]SourceConfig{},
		Schedules: map[string]string{},
	}
}

// Load builds the configuration: defaults, then the YAML file if given,
// then environment overrides, then validation. A .env file in the
// working directory is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.QuarantineDir == "" {
		cfg.QuarantineDir = cfg.LakeRoot + "/_quarantine"
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays the environment variables named in the operational
// contract on top of file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("LAKE_ROOT"); v != "" {
		cfg.LakeRoot = v
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		cfg.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.ClickHouse.Port = p
		}
	}
	if v := os.Getenv("CLICKHOUSE_USER"); v != "" {
		cfg.ClickHouse.User = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		cfg.ClickHouse.Database = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("MLFLOW_TRACKING_URI"); v != "" {
		cfg.MLflowTrackingURI = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.MetricsPort = p
		}
	}
}

// Source returns the named source config with daemon-level retry and
// breaker defaults filled in.
func (c *Config) Source(name string) (SourceConfig, error) {
	sc, ok := c.Sources[name]
	if !ok {
		return SourceConfig{}, fmt.Errorf("source %q not configured", name)
	}
	return c.FillSource(sc), nil
}

// FillSource applies the daemon-level retry and breaker defaults to a
// source config built outside the Sources map.
func (c *Config) FillSource(sc SourceConfig) SourceConfig {
	if sc.MaxAttempts == 0 {
		sc.MaxAttempts = c.Retry.MaxAttempts
	}
	if sc.FailureThreshold == 0 {
		sc.FailureThreshold = c.Breaker.FailureThreshold
	}
	if sc.RecoveryTimeout == 0 {
		sc.RecoveryTimeout = c.Breaker.RecoveryTimeout
	}
	return sc
}
