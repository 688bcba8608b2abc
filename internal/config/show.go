package config

import (
	"fmt"
	"io"
	"sort"
)

// redacted replaces secret values in rendered output.
const redacted = "********"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers `config show`. Secrets are masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	renderProvider(ew, &cfg.Provider)
	renderRetry(ew, &cfg.Retry)
	renderSweeper(ew, &cfg.Sweeper)

	ew.printf("[token]\n")
	ew.printf("  refresh_window = %q\n\n", cfg.Token.RefreshWindow)

	ew.printf("[store]\n")
	ew.printf("  path         = %q\n", cfg.Store.Path)
	ew.printf("  busy_timeout = %q\n\n", cfg.Store.BusyTimeout)

	ew.printf("[server]\n")
	ew.printf("  listen           = %q\n", cfg.Server.Listen)
	ew.printf("  jwt_secret       = %q\n", mask(cfg.Server.JWTSecret))
	ew.printf("  max_batch        = %d\n", cfg.Server.MaxBatch)
	ew.printf("  shutdown_timeout = %q\n\n", cfg.Server.ShutdownTimeout)

	ew.printf("[accounts]\n")
	ew.printf("  default_expense_account = %q\n", cfg.Accounts.DefaultExpenseAccount)
	ew.printf("  default_income_item     = %q\n\n", cfg.Accounts.DefaultIncomeItem)

	renderLogging(ew, &cfg.Logging)
	renderNetwork(ew, &cfg.Network)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return redacted
}

func renderProvider(ew *errWriter, p *ProviderConfig) {
	ew.printf("[provider]\n")
	ew.printf("  name          = %q\n", p.Name)
	ew.printf("  base_url      = %q\n", p.BaseURL)
	ew.printf("  token_url     = %q\n", p.TokenURL)
	ew.printf("  minor_version = %d\n", p.MinorVersion)
	ew.printf("  client_id     = %q\n", p.ClientID)
	ew.printf("  client_secret = %q\n", mask(p.ClientSecret))
	ew.printf("\n")
}

func renderRetry(ew *errWriter, r *RetryConfig) {
	ew.printf("[retry]\n")
	ew.printf("  max_attempts = %d\n", r.MaxAttempts)
	ew.printf("  base_delay   = %q\n", r.BaseDelay)
	ew.printf("\n")
}

func renderSweeper(ew *errWriter, s *SweeperConfig) {
	ew.printf("[sweeper]\n")
	ew.printf("  interval      = %q\n", s.Interval)
	ew.printf("  ceiling       = %d\n", s.Ceiling)
	ew.printf("  base_delay    = %q\n", s.BaseDelay)
	ew.printf("  batch_size    = %d\n", s.BatchSize)
	ew.printf("  concurrency   = %d\n", s.Concurrency)
	ew.printf("  lease_timeout = %q\n", s.LeaseTimeout)
	ew.printf("\n")

	names := make([]string, 0, len(s.Entity))
	for name := range s.Entity {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		o := s.Entity[name]

		ew.printf("[sweeper.entity.%s]\n", name)

		if o.Ceiling > 0 {
			ew.printf("  ceiling    = %d\n", o.Ceiling)
		}

		if o.BaseDelay != "" {
			ew.printf("  base_delay = %q\n", o.BaseDelay)
		}

		ew.printf("\n")
	}
}

func renderLogging(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", l.LogLevel)

	if l.LogFile != "" {
		ew.printf("  log_file           = %q\n", l.LogFile)
	}

	ew.printf("  log_format         = %q\n", l.LogFormat)
	ew.printf("  log_retention_days = %d\n", l.LogRetentionDays)
	ew.printf("  log_max_size_mb    = %d\n", l.LogMaxSizeMB)
	ew.printf("\n")
}

func renderNetwork(ew *errWriter, n *NetworkConfig) {
	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", n.ConnectTimeout)
	ew.printf("  data_timeout    = %q\n", n.DataTimeout)

	if n.UserAgent != "" {
		ew.printf("  user_agent      = %q\n", n.UserAgent)
	}
}
