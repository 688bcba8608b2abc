package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHolder(t *testing.T) {
	cfg := DefaultConfig()
	h := NewHolder(cfg, "/etc/acctsync/config.toml")

	require.NotNil(t, h)
	assert.Same(t, cfg, h.Config())
	assert.Equal(t, "/etc/acctsync/config.toml", h.Path())
}

func TestHolder_SwapSweeperIsLive(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/tmp/config.toml")

	next := DefaultConfig()
	next.Sweeper.Interval = "10m"
	next.Sweeper.Ceiling = 9
	next.Sweeper.Entity["bill"] = EntityRetryConfig{Ceiling: 2}

	assert.Empty(t, h.Swap(next))
	assert.Same(t, next, h.Config())
}

func TestHolder_SwapReportsStartupOnlySections(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/tmp/config.toml")

	next := DefaultConfig()
	next.Accounts.DefaultExpenseAccount = "acct-99"
	next.Server.Listen = "127.0.0.1:9999"
	next.Provider.MinorVersion = 70

	assert.Equal(t, []string{"provider", "server", "accounts"}, h.Swap(next))
	assert.Same(t, next, h.Config(), "stored even though it needs a restart")

	// Swapping the same values again reports nothing.
	assert.Empty(t, h.Swap(next))
}

func TestHolder_ConcurrentReadWrite(t *testing.T) {
	h := NewHolder(DefaultConfig(), "/tmp/config.toml")

	var wg sync.WaitGroup

	for range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				assert.NotNil(t, h.Config())
			}
		}()
	}

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 100 {
				h.Swap(DefaultConfig())
			}
		}()
	}

	wg.Wait()
}
