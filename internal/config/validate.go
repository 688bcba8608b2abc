package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/tonimelisma/acctsync/internal/store"
)

// Validation range constants.
const (
	maxRetryAttempts   = 10
	maxSweepCeiling    = 50
	maxSweepBatch      = 1000
	maxSweepWorkers    = 32
	maxServerBatch     = 1000
	minLogRetention    = 1
	minSweepInterval   = 10 * time.Second
	minLeaseTimeout    = 1 * time.Minute
	minConnectTimeout  = 1 * time.Second
	minDataTimeout     = 5 * time.Second
	minShutdownTimeout = 1 * time.Second
	minJWTSecretBytes  = 16
)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateProvider(&cfg.Provider)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateSweeper(&cfg.Sweeper)...)
	errs = append(errs, validateDuration("token.refresh_window", cfg.Token.RefreshWindow, 0)...)
	errs = append(errs, validateDuration("store.busy_timeout", cfg.Store.BusyTimeout, 0)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateServe checks what `serve` needs beyond Validate: a JWT secret
// long enough to sign with and OAuth client credentials for refreshes.
func ValidateServe(cfg *Config) error {
	var errs []error

	if len(cfg.Server.JWTSecret) < minJWTSecretBytes {
		errs = append(errs, fmt.Errorf("server.jwt_secret: must be at least %d bytes (set %s)",
			minJWTSecretBytes, EnvJWTSecret))
	}

	errs = append(errs, ValidateClient(cfg))

	return errors.Join(errs...)
}

// ValidateClient checks the OAuth client credentials needed to refresh
// tokens.
func ValidateClient(cfg *Config) error {
	var errs []error

	if cfg.Provider.ClientID == "" {
		errs = append(errs, fmt.Errorf("provider.client_id: required (set %s)", EnvClientID))
	}

	if cfg.Provider.ClientSecret == "" {
		errs = append(errs, fmt.Errorf("provider.client_secret: required (set %s)", EnvClientSecret))
	}

	return errors.Join(errs...)
}

func validateProvider(p *ProviderConfig) []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, errors.New("provider.name: must not be empty"))
	}

	errs = append(errs, validateURL("provider.base_url", p.BaseURL)...)
	errs = append(errs, validateURL("provider.token_url", p.TokenURL)...)

	if p.MinorVersion < 1 {
		errs = append(errs, fmt.Errorf("provider.minor_version: must be positive, got %d", p.MinorVersion))
	}

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxAttempts < 1 || r.MaxAttempts > maxRetryAttempts {
		errs = append(errs, fmt.Errorf("retry.max_attempts: must be between 1 and %d, got %d",
			maxRetryAttempts, r.MaxAttempts))
	}

	errs = append(errs, validateDuration("retry.base_delay", r.BaseDelay, 0)...)

	return errs
}

func validateSweeper(s *SweeperConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("sweeper.interval", s.Interval, minSweepInterval)...)
	errs = append(errs, validateDuration("sweeper.base_delay", s.BaseDelay, time.Second)...)
	errs = append(errs, validateDuration("sweeper.lease_timeout", s.LeaseTimeout, minLeaseTimeout)...)

	if s.Ceiling < 1 || s.Ceiling > maxSweepCeiling {
		errs = append(errs, fmt.Errorf("sweeper.ceiling: must be between 1 and %d, got %d", maxSweepCeiling, s.Ceiling))
	}

	if s.BatchSize < 1 || s.BatchSize > maxSweepBatch {
		errs = append(errs, fmt.Errorf("sweeper.batch_size: must be between 1 and %d, got %d", maxSweepBatch, s.BatchSize))
	}

	if s.Concurrency < 1 || s.Concurrency > maxSweepWorkers {
		errs = append(errs, fmt.Errorf("sweeper.concurrency: must be between 1 and %d, got %d",
			maxSweepWorkers, s.Concurrency))
	}

	for name, o := range s.Entity {
		prefix := "sweeper.entity." + name

		if _, err := store.ParseEntityType(name); err != nil {
			errs = append(errs, fmt.Errorf("%s: unknown entity type", prefix))
			continue
		}

		if o.Ceiling < 0 || o.Ceiling > maxSweepCeiling {
			errs = append(errs, fmt.Errorf("%s.ceiling: must be between 0 and %d, got %d", prefix, maxSweepCeiling, o.Ceiling))
		}

		if o.BaseDelay != "" {
			errs = append(errs, validateDuration(prefix+".base_delay", o.BaseDelay, time.Second)...)
		}
	}

	return errs
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		errs = append(errs, fmt.Errorf("server.listen: %w", err))
	}

	if s.MaxBatch < 1 || s.MaxBatch > maxServerBatch {
		errs = append(errs, fmt.Errorf("server.max_batch: must be between 1 and %d, got %d", maxServerBatch, s.MaxBatch))
	}

	errs = append(errs, validateDuration("server.shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("logging.log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	if l.LogMaxSizeMB < 1 {
		errs = append(errs, fmt.Errorf("logging.log_max_size_mb: must be positive, got %d", l.LogMaxSizeMB))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("network.connect_timeout", n.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDuration("network.data_timeout", n.DataTimeout, minDataTimeout)...)

	return errs
}

// validateDuration parses s and enforces a lower bound. A zero minimum only
// rules out negative values.
func validateDuration(field, s string, minimum time.Duration) []error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, s, err)}
	}

	if d < minimum || d < 0 {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, s)}
	}

	return nil
}

func validateURL(field, s string) []error {
	u, err := url.Parse(s)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, s)}
	}

	return nil
}
