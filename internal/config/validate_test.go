package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad base url", func(c *Config) { c.Provider.BaseURL = "quickbooks.local" }, "provider.base_url"},
		{"empty provider", func(c *Config) { c.Provider.Name = "" }, "provider.name"},
		{"minor version", func(c *Config) { c.Provider.MinorVersion = 0 }, "provider.minor_version"},
		{"too many attempts", func(c *Config) { c.Retry.MaxAttempts = 11 }, "retry.max_attempts"},
		{"negative delay", func(c *Config) { c.Retry.BaseDelay = "-1s" }, "retry.base_delay"},
		{"sweep too often", func(c *Config) { c.Sweeper.Interval = "1s" }, "sweeper.interval"},
		{"short lease", func(c *Config) { c.Sweeper.LeaseTimeout = "10s" }, "sweeper.lease_timeout"},
		{"no workers", func(c *Config) { c.Sweeper.Concurrency = 0 }, "sweeper.concurrency"},
		{"batch", func(c *Config) { c.Sweeper.BatchSize = 5000 }, "sweeper.batch_size"},
		{
			"unknown entity override",
			func(c *Config) { c.Sweeper.Entity["widget"] = EntityRetryConfig{Ceiling: 2} },
			"sweeper.entity.widget",
		},
		{
			"bad entity delay",
			func(c *Config) { c.Sweeper.Entity["bill"] = EntityRetryConfig{BaseDelay: "later"} },
			"sweeper.entity.bill.base_delay",
		},
		{
			"entity ceiling",
			func(c *Config) { c.Sweeper.Entity["payment"] = EntityRetryConfig{Ceiling: 99} },
			"sweeper.entity.payment.ceiling",
		},
		{"listen", func(c *Config) { c.Server.Listen = "8080" }, "server.listen"},
		{"server batch", func(c *Config) { c.Server.MaxBatch = 0 }, "server.max_batch"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "logging.log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
		{"retention", func(c *Config) { c.Logging.LogRetentionDays = 0 }, "logging.log_retention_days"},
		{"connect timeout", func(c *Config) { c.Network.ConnectTimeout = "10ms" }, "network.connect_timeout"},
		{"refresh window", func(c *Config) { c.Token.RefreshWindow = "x" }, "token.refresh_window"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_EntityOverrideInheritsWhenZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sweeper.Entity["bill"] = EntityRetryConfig{}

	require.NoError(t, Validate(cfg))
}

func TestValidateServe(t *testing.T) {
	cfg := DefaultConfig()

	err := ValidateServe(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.jwt_secret")
	assert.Contains(t, err.Error(), "provider.client_id")
	assert.Contains(t, err.Error(), "provider.client_secret")

	cfg.Server.JWTSecret = "0123456789abcdef"
	cfg.Provider.ClientID = "id"
	cfg.Provider.ClientSecret = "secret"

	require.NoError(t, ValidateServe(cfg))
}
