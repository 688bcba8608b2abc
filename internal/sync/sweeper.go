package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/acctsync/internal/audit"
	"github.com/tonimelisma/acctsync/internal/retry"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// Sweeper defaults.
const (
	DefaultCeiling     = 5
	DefaultBaseDelay   = 60 * time.Second
	DefaultBatchSize   = 100
	DefaultConcurrency = 4
)

// RetryPolicy bounds automatic retries for one entity type.
type RetryPolicy struct {
	Ceiling   int
	BaseDelay time.Duration
}

// SweeperConfig holds the inputs for creating a Sweeper.
type SweeperConfig struct {
	Default      RetryPolicy
	PerType      map[store.EntityType]RetryPolicy
	BatchSize    int
	Concurrency  int
	LeaseTimeout time.Duration
	Logger       *slog.Logger
}

// Syncer is the orchestrator entry point the sweeper re-feeds records into.
type Syncer interface {
	Sync(ctx context.Context, actorID string, key store.Key) (Outcome, error)
	Provider() string
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Candidates int `json:"candidates"`
	Stale      int `json:"stale"`
	Retried    int `json:"retried"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Sweeper periodically re-enqueues failed records whose backoff has elapsed,
// and recovers records stuck in processing past the lease timeout.
type Sweeper struct {
	syncer  Syncer
	records RecordStore
	audit   *audit.Logger
	cfg     SweeperConfig
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewSweeper creates a Sweeper. Zero config values take the defaults.
func NewSweeper(cfg SweeperConfig, syncer Syncer, records RecordStore, auditLog *audit.Logger) *Sweeper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Default.Ceiling <= 0 {
		cfg.Default.Ceiling = DefaultCeiling
	}

	if cfg.Default.BaseDelay <= 0 {
		cfg.Default.BaseDelay = DefaultBaseDelay
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = DefaultLeaseTimeout
	}

	return &Sweeper{
		syncer:  syncer,
		records: records,
		audit:   auditLog,
		cfg:     cfg,
		logger:  cfg.Logger,
		nowFunc: time.Now,
	}
}

// policy returns the effective retry policy for t. Override fields left zero
// inherit the default.
func (s *Sweeper) policy(t store.EntityType) RetryPolicy {
	p := s.cfg.Default

	if o, ok := s.cfg.PerType[t]; ok {
		if o.Ceiling > 0 {
			p.Ceiling = o.Ceiling
		}

		if o.BaseDelay > 0 {
			p.BaseDelay = o.BaseDelay
		}
	}

	return p
}

// maxCeiling is the widest ceiling across all types, used for the candidate
// query; per-type ceilings are then applied in memory.
func (s *Sweeper) maxCeiling() int {
	ceiling := s.cfg.Default.Ceiling

	for _, p := range s.cfg.PerType {
		if p.Ceiling > ceiling {
			ceiling = p.Ceiling
		}
	}

	return ceiling
}

// Due reports whether a failed record's backoff has elapsed:
// now - last_synced_at >= baseDelay * 2^retries.
func (s *Sweeper) Due(rec *store.SyncRecord, now time.Time) bool {
	p := s.policy(rec.Key.Type)

	return now.Sub(rec.LastSyncedAt) >= retry.Backoff(p.BaseDelay, rec.Retries)
}

// Run performs one sweep. Individual record failures are counted, not
// returned; the error is non-nil only when the sweep itself could not run.
func (s *Sweeper) Run(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	provider := s.syncer.Provider()
	now := s.nowFunc()
	staleBefore := now.Add(-s.cfg.LeaseTimeout)

	candidates, err := s.records.ListRetryCandidates(ctx, store.RetryQuery{
		Provider:          provider,
		MaxRetries:        s.maxCeiling(),
		ExcludeErrorTypes: []string{syncerr.CategoryCustomerError, syncerr.CategoryTokenExpired},
		Limit:             s.cfg.BatchSize,
	})
	if err != nil {
		return report, fmt.Errorf("sync: listing retry candidates: %w", err)
	}

	stale, err := s.records.ListStaleProcessing(ctx, provider, staleBefore, s.cfg.BatchSize)
	if err != nil {
		return report, fmt.Errorf("sync: listing stale records: %w", err)
	}

	report.Candidates = len(candidates)
	report.Stale = len(stale)

	var due []store.SyncRecord

	for i := range candidates {
		rec := &candidates[i]

		if rec.Retries >= s.policy(rec.Key.Type).Ceiling || !s.Due(rec, now) {
			report.Skipped++
			continue
		}

		due = append(due, *rec)
	}

	due = append(due, stale...)

	var retried, succeeded, failed, skipped atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i := range due {
		rec := due[i]

		g.Go(func() error {
			r := &recordRunner{key: rec.Key}
			res := r.run(gctx, func(ctx context.Context) (bool, error) {
				return s.retryOne(ctx, &rec, staleBefore)
			})

			switch {
			case res.attempted && res.err == nil:
				retried.Add(1)
				succeeded.Add(1)
			case res.attempted:
				retried.Add(1)
				failed.Add(1)
			case res.err != nil:
				failed.Add(1)
			default:
				skipped.Add(1)
			}

			return nil
		})
	}

	// Workers never return errors; Wait only joins them.
	_ = g.Wait()

	report.Retried = int(retried.Load())
	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
	report.Skipped += int(skipped.Load())

	s.audit.Info(ctx, "", "sweeper.run", map[string]any{
		"candidates": report.Candidates,
		"stale":      report.Stale,
		"retried":    report.Retried,
		"succeeded":  report.Succeeded,
		"failed":     report.Failed,
		"skipped":    report.Skipped,
	})

	s.logger.Info("sweep complete",
		slog.Int("candidates", report.Candidates),
		slog.Int("stale", report.Stale),
		slog.Int("retried", report.Retried),
		slog.Int("failed", report.Failed),
		slog.Int("skipped", report.Skipped),
	)

	return report, ctx.Err()
}

// retryOne resets rec to pending and syncs it. attempted is false when the
// record changed state since it was listed.
func (s *Sweeper) retryOne(ctx context.Context, rec *store.SyncRecord, staleBefore time.Time) (bool, error) {
	reset, err := s.records.Requeue(ctx, rec.Key, staleBefore)
	if err != nil {
		return false, err
	}

	if !reset {
		s.logger.Debug("record changed since listing, skipping", slog.String("key", rec.Key.String()))
		return false, nil
	}

	s.logger.Debug("retrying record",
		slog.String("key", rec.Key.String()),
		slog.Int("retries", rec.Retries),
		slog.String("previous_status", string(rec.Status)),
	)

	_, err = s.syncer.Sync(ctx, rec.ActorID, rec.Key)

	return true, err
}

// Loop runs a sweep immediately and then every interval until ctx is done.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("sweep failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
