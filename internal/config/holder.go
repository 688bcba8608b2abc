package config

import "sync"

// Holder is the live config of a serve process. Only the [sweeper] section
// takes effect on reload: the sweeper loop is rebuilt from Config after every
// Swap. Every other section, [accounts] included, is read once at startup
// and needs a restart; Swap reports which of those changed.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewHolder wraps the startup config and the file it was loaded from.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{cfg: cfg, path: path}
}

// Config returns the current snapshot. Callers must not modify it.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file a reload reads.
func (h *Holder) Path() string {
	return h.path
}

// Swap installs next and returns the startup-only sections whose values
// differ from the previous config. Those changes are stored but have no
// effect until the process restarts.
func (h *Holder) Swap(next *Config) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	stale := RestartRequired(h.cfg, next)
	h.cfg = next

	return stale
}

// RestartRequired names the sections that differ between old and next but
// are only read at startup. Sweeper changes never appear.
func RestartRequired(old, next *Config) []string {
	var stale []string

	check := func(name string, changed bool) {
		if changed {
			stale = append(stale, name)
		}
	}

	check("provider", old.Provider != next.Provider)
	check("retry", old.Retry != next.Retry)
	check("token", old.Token != next.Token)
	check("store", old.Store != next.Store)
	check("server", old.Server != next.Server)
	check("accounts", old.Accounts != next.Accounts)
	check("logging", old.Logging != next.Logging)
	check("network", old.Network != next.Network)

	return stale
}
