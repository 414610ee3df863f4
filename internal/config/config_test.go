package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "anchor.db", cfg.DB)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "anchor.notifications", cfg.RedisChannel)
	assert.Equal(t, 5*time.Minute, cfg.RequestSkew)
	assert.Equal(t, BackendSQLite, cfg.Backend())
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("ANCHOR_DB", "/var/lib/anchor/records.db")
	t.Setenv("ANCHOR_POSTGRES_DSN", "postgres://anchor@localhost/anchor?sslmode=disable")
	t.Setenv("ANCHOR_KEY", "/etc/anchor/owner.key")
	t.Setenv("ANCHOR_FORMAT", "json")
	t.Setenv("ANCHOR_REDIS_ADDR", "localhost:6379")
	t.Setenv("ANCHOR_REDIS_DB", "3")
	t.Setenv("ANCHOR_TRACE_STDOUT", "true")
	t.Setenv("ANCHOR_REQUEST_SKEW", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/anchor/records.db", cfg.DB)
	assert.Equal(t, BackendPostgres, cfg.Backend())
	assert.Equal(t, "/etc/anchor/owner.key", cfg.Key)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.True(t, cfg.TraceStdout)
	assert.Equal(t, 30*time.Second, cfg.RequestSkew)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("ANCHOR_REDIS_DB", "not-an-int")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty db", func(c *Config) { c.DB = "" }, "database path is empty"},
		{"bad format", func(c *Config) { c.Format = "xml" }, `unknown format "xml"`},
		{"negative redis db", func(c *Config) { c.RedisDB = -1 }, "redis db"},
		{"negative skew", func(c *Config) { c.RequestSkew = -time.Second }, "request skew"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestValidate_PostgresIgnoresDB(t *testing.T) {
	cfg := Config{PostgresDSN: "postgres://x", Format: "text"}
	assert.NoError(t, cfg.Validate())
}
