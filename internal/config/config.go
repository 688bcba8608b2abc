// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for acctsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// Secrets may also come from a .env file, which is loaded into the process
// environment before the environment layer is read.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Retry    RetryConfig    `toml:"retry"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
	Token    TokenConfig    `toml:"token"`
	Store    StoreConfig    `toml:"store"`
	Server   ServerConfig   `toml:"server"`
	Accounts AccountsConfig `toml:"accounts"`
	Logging  LoggingConfig  `toml:"logging"`
	Network  NetworkConfig  `toml:"network"`
}

// ProviderConfig locates the accounting provider's API and OAuth client.
// client_secret is usually left out of the file and supplied through
// ACCTSYNC_CLIENT_SECRET.
type ProviderConfig struct {
	Name         string `toml:"name"`
	BaseURL      string `toml:"base_url"`
	TokenURL     string `toml:"token_url"`
	MinorVersion int    `toml:"minor_version"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

// RetryConfig bounds the in-call retry loop around every provider request.
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	BaseDelay   string `toml:"base_delay"`
}

// SweeperConfig controls the background retry sweeper. Entity sections
// ([sweeper.entity.bill]) override ceiling and base_delay per entity type;
// fields they leave unset inherit the values here.
type SweeperConfig struct {
	Interval     string                       `toml:"interval"`
	Ceiling      int                          `toml:"ceiling"`
	BaseDelay    string                       `toml:"base_delay"`
	BatchSize    int                          `toml:"batch_size"`
	Concurrency  int                          `toml:"concurrency"`
	LeaseTimeout string                       `toml:"lease_timeout"`
	Entity       map[string]EntityRetryConfig `toml:"entity"`
}

// EntityRetryConfig is a per-entity-type sweeper override.
type EntityRetryConfig struct {
	Ceiling   int    `toml:"ceiling"`
	BaseDelay string `toml:"base_delay"`
}

// TokenConfig controls credential refresh.
type TokenConfig struct {
	RefreshWindow string `toml:"refresh_window"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path        string `toml:"path"`
	BusyTimeout string `toml:"busy_timeout"`
}

// ServerConfig controls the HTTP trigger surface started by `serve`.
// jwt_secret is usually supplied through ACCTSYNC_JWT_SECRET.
type ServerConfig struct {
	Listen          string `toml:"listen"`
	JWTSecret       string `toml:"jwt_secret"`
	MaxBatch        int    `toml:"max_batch"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// AccountsConfig names the provider accounts used when a local category has
// no explicit mapping.
type AccountsConfig struct {
	DefaultExpenseAccount string `toml:"default_expense_account"`
	DefaultIncomeItem     string `toml:"default_income_item"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
	LogMaxSizeMB     int    `toml:"log_max_size_mb"`
}

// NetworkConfig controls HTTP client behavior toward the provider.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	DataTimeout    string `toml:"data_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DBPath     *string // --db flag
	LogLevel   *string // derived from --verbose / --quiet
}

// BaseDelayDuration returns the in-call retry base delay.
func (r RetryConfig) BaseDelayDuration() time.Duration { return durationOrZero(r.BaseDelay) }

// IntervalDuration returns the time between sweeps.
func (s SweeperConfig) IntervalDuration() time.Duration { return durationOrZero(s.Interval) }

// BaseDelayDuration returns the default sweeper backoff base.
func (s SweeperConfig) BaseDelayDuration() time.Duration { return durationOrZero(s.BaseDelay) }

// LeaseTimeoutDuration returns how long a processing claim stays live.
func (s SweeperConfig) LeaseTimeoutDuration() time.Duration { return durationOrZero(s.LeaseTimeout) }

// RefreshWindowDuration returns how close to expiry a token is refreshed.
func (t TokenConfig) RefreshWindowDuration() time.Duration { return durationOrZero(t.RefreshWindow) }

// BusyTimeoutDuration returns the SQLite busy timeout.
func (s StoreConfig) BusyTimeoutDuration() time.Duration { return durationOrZero(s.BusyTimeout) }

// ShutdownTimeoutDuration returns the graceful shutdown budget for serve.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration { return durationOrZero(s.ShutdownTimeout) }

// ConnectTimeoutDuration returns the dial timeout for provider requests.
func (n NetworkConfig) ConnectTimeoutDuration() time.Duration { return durationOrZero(n.ConnectTimeout) }

// DataTimeoutDuration returns the overall per-request timeout.
func (n NetworkConfig) DataTimeoutDuration() time.Duration { return durationOrZero(n.DataTimeout) }

// durationOrZero parses s. Validate rejects bad durations, so the zero
// fallback is only reached for configs that skipped validation.
func durationOrZero(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
