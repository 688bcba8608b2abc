package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/acctsync/internal/adapter"
	"github.com/tonimelisma/acctsync/internal/audit"
	"github.com/tonimelisma/acctsync/internal/config"
	"github.com/tonimelisma/acctsync/internal/contacts"
	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/retry"
	"github.com/tonimelisma/acctsync/internal/store"
	isync "github.com/tonimelisma/acctsync/internal/sync"
	"github.com/tonimelisma/acctsync/internal/token"
)

const dialKeepAlive = 30 * time.Second

// services is the wired engine for one CLI invocation. Commands that only
// read or write local state open the store alone; commands that talk to the
// provider build the full engine.
type services struct {
	store        *store.Store
	audit        *audit.Logger
	tokens       *token.Manager
	orchestrator *isync.Orchestrator
	logger       *slog.Logger
}

// openStore opens the sync database and the audit logger backed by it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	st, err := store.Open(ctx, cfg.Store.Path, cfg.Store.BusyTimeoutDuration(), logger)
	if err != nil {
		return nil, err
	}

	return &services{
		store:  st,
		audit:  audit.New(st, logger),
		logger: logger,
	}, nil
}

// openEngine opens the store and wires the token manager, provider client,
// adapters and orchestrator on top of it.
func openEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services, error) {
	if err := config.ValidateClient(cfg); err != nil {
		return nil, err
	}

	svc, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	httpClient := newHTTPClient(cfg.Network)

	svc.tokens = token.NewManager(token.Config{
		ClientID:      cfg.Provider.ClientID,
		ClientSecret:  cfg.Provider.ClientSecret,
		TokenURL:      cfg.Provider.TokenURL,
		RefreshWindow: cfg.Token.RefreshWindowDuration(),
		HTTPClient:    httpClient,
	}, svc.store, svc.audit, logger)

	api := qbo.NewClient(cfg.Provider.BaseURL, httpClient, logger,
		userAgent(cfg.Network), cfg.Provider.MinorVersion)

	env := &adapter.Env{
		API:      api,
		Entities: svc.store,
		Contacts: contacts.New(svc.store, logger),
		Retry:    retry.New(logger),
		Policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelayDuration(),
		},
		Audit: svc.audit,
		Accounts: adapter.Accounts{
			DefaultExpenseAccount: cfg.Accounts.DefaultExpenseAccount,
			DefaultIncomeItem:     cfg.Accounts.DefaultIncomeItem,
		},
		Logger: logger,
	}

	svc.orchestrator, err = isync.NewOrchestrator(isync.Config{
		Provider:     cfg.Provider.Name,
		LeaseTimeout: cfg.Sweeper.LeaseTimeoutDuration(),
		Logger:       logger,
	}, svc.store, svc.tokens, adapter.All(env), svc.audit)
	if err != nil {
		return nil, errors.Join(err, svc.Close())
	}

	return svc, nil
}

// newSweeper builds a sweeper from the [sweeper] section. Called again on
// reload so ceilings and delays pick up the new values.
func (s *services) newSweeper(cfg *config.Config) (*isync.Sweeper, error) {
	perType, err := sweeperPolicies(cfg.Sweeper)
	if err != nil {
		return nil, err
	}

	return isync.NewSweeper(isync.SweeperConfig{
		Default: isync.RetryPolicy{
			Ceiling:   cfg.Sweeper.Ceiling,
			BaseDelay: cfg.Sweeper.BaseDelayDuration(),
		},
		PerType:      perType,
		BatchSize:    cfg.Sweeper.BatchSize,
		Concurrency:  cfg.Sweeper.Concurrency,
		LeaseTimeout: cfg.Sweeper.LeaseTimeoutDuration(),
		Logger:       s.logger,
	}, s.orchestrator, s.store, s.audit), nil
}

// sweeperPolicies converts [sweeper.entity.<type>] sections. Zero fields are
// passed through so the sweeper inherits the default for them.
func sweeperPolicies(sc config.SweeperConfig) (map[store.EntityType]isync.RetryPolicy, error) {
	policies := make(map[store.EntityType]isync.RetryPolicy, len(sc.Entity))

	for name, o := range sc.Entity {
		t, err := store.ParseEntityType(name)
		if err != nil {
			return nil, fmt.Errorf("sweeper.entity.%s: %w", name, err)
		}

		var delay time.Duration
		if o.BaseDelay != "" {
			delay, err = time.ParseDuration(o.BaseDelay)
			if err != nil {
				return nil, fmt.Errorf("sweeper.entity.%s.base_delay: %w", name, err)
			}
		}

		policies[t] = isync.RetryPolicy{Ceiling: o.Ceiling, BaseDelay: delay}
	}

	return policies, nil
}

func (s *services) Close() error {
	return s.store.Close()
}

// newHTTPClient returns the client used for both API and token requests.
// connect_timeout bounds the dial; data_timeout bounds the whole request.
func newHTTPClient(n config.NetworkConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   n.ConnectTimeoutDuration(),
		KeepAlive: dialKeepAlive,
	}).DialContext

	return &http.Client{
		Timeout:   n.DataTimeoutDuration(),
		Transport: transport,
	}
}

func userAgent(n config.NetworkConfig) string {
	if n.UserAgent != "" {
		return n.UserAgent
	}

	return "acctsync/" + version
}
