// Package config loads process configuration from ANCHOR_* environment
// variables. Command-line flags override these values; see internal/cli.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds everything the anchor CLI needs to assemble an engine.
type Config struct {
	DB          string `env:"ANCHOR_DB"           envDefault:"anchor.db"`
	PostgresDSN string `env:"ANCHOR_POSTGRES_DSN"`

	Key    string `env:"ANCHOR_KEY"`
	Policy string `env:"ANCHOR_POLICY"`
	Format string `env:"ANCHOR_FORMAT" envDefault:"text"`

	RedisAddr     string `env:"ANCHOR_REDIS_ADDR"`
	RedisPassword string `env:"ANCHOR_REDIS_PASSWORD"`
	RedisDB       int    `env:"ANCHOR_REDIS_DB"      envDefault:"0"`
	RedisChannel  string `env:"ANCHOR_REDIS_CHANNEL" envDefault:"anchor.notifications"`

	OTLPEndpoint string `env:"ANCHOR_OTLP_ENDPOINT"`
	TraceStdout  bool   `env:"ANCHOR_TRACE_STDOUT"`

	// RequestSkew bounds the age of a signed request. Zero disables the check.
	RequestSkew time.Duration `env:"ANCHOR_REQUEST_SKEW" envDefault:"5m"`
}

// Backend names the storage substrate selected by the configuration.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Backend returns BackendPostgres when a DSN is configured.
func (c Config) Backend() Backend {
	if c.PostgresDSN != "" {
		return BackendPostgres
	}
	return BackendSQLite
}

// Validate reports configuration that cannot be used.
func (c Config) Validate() error {
	var errs []error
	if c.Backend() == BackendSQLite && c.DB == "" {
		errs = append(errs, errors.New("database path is empty"))
	}
	if c.Format != "text" && c.Format != "json" {
		errs = append(errs, fmt.Errorf("unknown format %q (want text or json)", c.Format))
	}
	if c.RedisDB < 0 {
		errs = append(errs, fmt.Errorf("redis db must be >= 0, got %d", c.RedisDB))
	}
	if c.RequestSkew < 0 {
		errs = append(errs, fmt.Errorf("request skew must be >= 0, got %s", c.RequestSkew))
	}
	return errors.Join(errs...)
}
