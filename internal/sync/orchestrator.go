// Package sync drives local entities through the sync state machine
// (pending → processing → success | error) against the accounting provider,
// resolving dependencies first, and re-feeds failed records through the
// retry sweeper.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/acctsync/internal/adapter"
	"github.com/tonimelisma/acctsync/internal/audit"
	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// DefaultProvider is the provider column value for the single supported
// accounting provider.
const DefaultProvider = "quickbooks"

// DefaultLeaseTimeout bounds how long a processing record may be held before
// another caller may reclaim it.
const DefaultLeaseTimeout = 15 * time.Minute

// ErrInProgress is returned when another caller holds a live lease on the
// record. The record is left untouched.
var ErrInProgress = errors.New("sync: already in progress")

// ErrUnknownType is returned for an entity type with no registered adapter.
var ErrUnknownType = errors.New("sync: unknown entity type")

// ErrNotOwned is wrapped into the customer-error returned when an actor
// triggers an entity that belongs to someone else.
var ErrNotOwned = errors.New("sync: entity not found for actor")

// ErrNoRemoteID is wrapped into the failure of a create that reported
// success without a provider id.
var ErrNoRemoteID = errors.New("sync: provider returned no id")

// rank orders entity types for dependency resolution. A dependency must have
// a strictly lower rank than its dependent, so resolution terminates.
var rank = map[store.EntityType]int{
	store.EntityVendor:   0,
	store.EntityCustomer: 0,
	store.EntityProject:  1,
	store.EntityBill:     2,
	store.EntityInvoice:  2,
	store.EntityPayment:  3,
}

// RecordStore is the sync record persistence the engine needs.
// *store.Store satisfies it.
type RecordStore interface {
	EntityOwner(ctx context.Context, t store.EntityType, id string) (string, error)
	GetRecord(ctx context.Context, key store.Key) (*store.SyncRecord, error)
	Enqueue(ctx context.Context, key store.Key, actorID string) (bool, error)
	Claim(ctx context.Context, key store.Key, actorID string, staleBefore time.Time) (*store.SyncRecord, error)
	ClaimNextPending(ctx context.Context, entityType store.EntityType, provider, actorID string) (*store.SyncRecord, error)
	MarkSuccess(ctx context.Context, key store.Key, providerRef string, meta map[string]any) error
	MarkError(ctx context.Context, key store.Key, message, errorType string, meta map[string]any) error
	Requeue(ctx context.Context, key store.Key, staleBefore time.Time) (bool, error)
	ListRetryCandidates(ctx context.Context, q store.RetryQuery) ([]store.SyncRecord, error)
	ListStaleProcessing(ctx context.Context, provider string, staleBefore time.Time, limit int) ([]store.SyncRecord, error)
}

// Tokens hands out valid credentials. *token.Manager satisfies it.
type Tokens interface {
	EnsureValid(ctx context.Context, actorID string) (*store.Credential, error)
	Invalidate(ctx context.Context, actorID, reason string) error
}

// Outcome is the result of one sync call.
type Outcome struct {
	Key          store.Key
	Status       store.Status
	ProviderRef  string
	Meta         map[string]any
	ErrorType    string
	ErrorMessage string

	// Cached is true when the record was already synced and no adapter ran.
	Cached bool
}

// Config holds the inputs for creating an Orchestrator.
type Config struct {
	Provider     string
	LeaseTimeout time.Duration
	Logger       *slog.Logger
}

// Orchestrator runs the per-record state machine.
type Orchestrator struct {
	records      RecordStore
	tokens       Tokens
	adapters     map[store.EntityType]adapter.Adapter
	audit        *audit.Logger
	provider     string
	leaseTimeout time.Duration
	locks        *keyedMutex
	logger       *slog.Logger
	nowFunc      func() time.Time
}

// NewOrchestrator registers adapters. Every adapter's type must appear in
// the rank table and be registered once.
func NewOrchestrator(
	cfg Config, records RecordStore, tokens Tokens, adapters []adapter.Adapter, auditLog *audit.Logger,
) (*Orchestrator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	provider := cfg.Provider
	if provider == "" {
		provider = DefaultProvider
	}

	lease := cfg.LeaseTimeout
	if lease <= 0 {
		lease = DefaultLeaseTimeout
	}

	byType := make(map[store.EntityType]adapter.Adapter, len(adapters))

	for _, a := range adapters {
		t := a.Type()
		if _, ok := rank[t]; !ok {
			return nil, fmt.Errorf("sync: adapter for %q has no dependency rank", t)
		}

		if _, dup := byType[t]; dup {
			return nil, fmt.Errorf("sync: duplicate adapter for %q", t)
		}

		byType[t] = a
	}

	return &Orchestrator{
		records:      records,
		tokens:       tokens,
		adapters:     byType,
		audit:        auditLog,
		provider:     provider,
		leaseTimeout: lease,
		locks:        newKeyedMutex(),
		logger:       logger,
		nowFunc:      time.Now,
	}, nil
}

// Provider returns the provider column value records are keyed under.
func (o *Orchestrator) Provider() string {
	return o.provider
}

// Key builds the record key for an entity under this orchestrator's provider.
func (o *Orchestrator) Key(t store.EntityType, id string) store.Key {
	return store.Key{Type: t, ID: id, Provider: o.provider}
}

// Enqueue marks an entity pending. Success, pending and processing records
// are left alone; reports whether anything changed.
func (o *Orchestrator) Enqueue(ctx context.Context, actorID string, key store.Key) (bool, error) {
	key = o.withProvider(key)

	if _, ok := o.adapters[key.Type]; !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownType, key.Type)
	}

	if err := o.checkOwner(ctx, actorID, key); err != nil {
		return false, err
	}

	changed, err := o.records.Enqueue(ctx, key, actorID)
	if err != nil {
		return false, err
	}

	if changed {
		o.audit.Info(ctx, actorID, "sync.enqueue", keyPayload(key))
	}

	return changed, nil
}

// Sync drives one entity to a terminal state. A record that already reached
// success returns its cached outcome without calling the provider.
func (o *Orchestrator) Sync(ctx context.Context, actorID string, key store.Key) (Outcome, error) {
	key = o.withProvider(key)

	a, ok := o.adapters[key.Type]
	if !ok {
		return Outcome{Key: key}, fmt.Errorf("%w: %q", ErrUnknownType, key.Type)
	}

	unlock := o.locks.lock(key.String())
	defer unlock()

	if err := o.checkOwner(ctx, actorID, key); err != nil {
		// A record already held under the caller's id is claimed so run can
		// fail it out of the retry queue. Anyone else's record is untouched.
		rec, getErr := o.records.GetRecord(ctx, key)
		if getErr != nil || rec.ActorID != actorID {
			return o.refuse(ctx, actorID, key, err)
		}
	}

	if out, done := o.cached(ctx, key); done {
		return out, nil
	}

	rec, err := o.records.Claim(ctx, key, actorID, o.staleBefore())
	if err != nil {
		if !errors.Is(err, store.ErrClaimRefused) {
			return Outcome{Key: key}, err
		}

		// Another process may have finished between the guard and the claim.
		if out, done := o.cached(ctx, key); done {
			return out, nil
		}

		o.logger.Info("sync skipped, record held by another caller", slog.String("key", key.String()))

		return Outcome{Key: key, Status: store.StatusProcessing},
			syncerr.New(syncerr.KindConnectivity, "sync.claim", fmt.Errorf("%s: %w", key, ErrInProgress))
	}

	return o.run(ctx, a, rec, actorID)
}

// SyncNext pops the oldest pending record of entityType and syncs it. A
// non-empty actorID only pops that actor's records. ok is false when the
// queue is empty.
func (o *Orchestrator) SyncNext(ctx context.Context, actorID string, entityType store.EntityType) (Outcome, bool, error) {
	a, found := o.adapters[entityType]
	if !found {
		return Outcome{}, false, fmt.Errorf("%w: %q", ErrUnknownType, entityType)
	}

	rec, err := o.records.ClaimNextPending(ctx, entityType, o.provider, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return Outcome{}, false, nil
	}

	if err != nil {
		return Outcome{}, false, err
	}

	unlock := o.locks.lock(rec.Key.String())
	defer unlock()

	out, err := o.run(ctx, a, rec, rec.ActorID)

	return out, true, err
}

// checkOwner fails when the local entity belongs to an actor other than
// actorID. A missing entity passes; the adapter reports it on load.
func (o *Orchestrator) checkOwner(ctx context.Context, actorID string, key store.Key) error {
	owner, err := o.records.EntityOwner(ctx, key.Type, key.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}

	if err != nil {
		return syncerr.New(syncerr.KindUnknown, "sync.owner", err)
	}

	if owner != actorID {
		return syncerr.New(syncerr.KindCustomerError, "sync.owner", fmt.Errorf("%s: %w", key, ErrNotOwned))
	}

	return nil
}

// refuse reports a sync that was rejected before any record was claimed.
func (o *Orchestrator) refuse(ctx context.Context, actorID string, key store.Key, err error) (Outcome, error) {
	category := syncerr.Category(err)

	o.audit.Failure(ctx, actorID, "sync."+string(key.Type), keyPayload(key), err)
	o.logger.Warn("sync refused",
		slog.String("key", key.String()),
		slog.String("actor", actorID),
		slog.String("error", err.Error()),
	)

	return Outcome{Key: key, ErrorType: category, ErrorMessage: err.Error()}, err
}

// cached returns the outcome of an already-successful record.
func (o *Orchestrator) cached(ctx context.Context, key store.Key) (Outcome, bool) {
	rec, err := o.records.GetRecord(ctx, key)
	if err != nil || rec.Status != store.StatusSuccess {
		return Outcome{}, false
	}

	return Outcome{
		Key:         key,
		Status:      store.StatusSuccess,
		ProviderRef: rec.ProviderRef,
		Meta:        rec.ProviderMeta,
		Cached:      true,
	}, true
}

// run executes the claimed record on behalf of actorID: ownership,
// credential, dependencies, remote create, outcome. Every failure path
// downgrades the record to error.
func (o *Orchestrator) run(ctx context.Context, a adapter.Adapter, rec *store.SyncRecord, actorID string) (Outcome, error) {
	key := rec.Key
	start := o.nowFunc()

	o.audit.Info(ctx, actorID, "sync.start", keyPayload(key))

	if err := o.checkOwner(ctx, actorID, key); err != nil {
		return o.fail(ctx, rec, err, nil)
	}

	cred, err := o.tokens.EnsureValid(ctx, actorID)
	if err != nil {
		return o.fail(ctx, rec, err, nil)
	}

	refs, err := o.resolveDependencies(ctx, a, rec, actorID)
	if err != nil {
		return o.fail(ctx, rec, err, nil)
	}

	res, err := a.CreateRemote(ctx, adapter.Request{
		ActorID:  actorID,
		EntityID: key.ID,
		Auth:     qbo.Auth{AccessToken: cred.AccessToken, RealmID: cred.RealmID},
		Deps:     refs,
		PriorRef: priorRef(rec),
	})
	if err != nil {
		if syncerr.Classify(err) == syncerr.KindTokenExpired {
			o.invalidate(ctx, actorID, err)
		}

		return o.fail(ctx, rec, err, nil)
	}

	if res.RemoteID == "" {
		return o.fail(ctx, rec, syncerr.New(syncerr.KindUnknown, "sync.create",
			fmt.Errorf("%s: %w", key, ErrNoRemoteID)), res.Meta)
	}

	meta := res.Meta
	if meta == nil {
		meta = make(map[string]any)
	}

	if len(refs) > 0 {
		deps := make(map[string]any, len(refs))
		for t, ref := range refs {
			deps[string(t)] = ref
		}

		meta["dependencies"] = deps
	}

	if err := o.records.MarkSuccess(ctx, key, res.RemoteID, meta); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			return o.leaseLost(ctx, key, err)
		}

		// The remote object exists; remember it so the next attempt finds it.
		return o.fail(ctx, rec, syncerr.New(syncerr.KindUnknown, "sync.persist", err),
			map[string]any{"remote_id": res.RemoteID})
	}

	payload := keyPayload(key)
	payload["provider_ref"] = res.RemoteID
	payload["operation"] = meta["operation"]
	o.audit.Info(ctx, actorID, "sync.success", payload)

	o.logger.Info("entity synced",
		slog.String("key", key.String()),
		slog.String("provider_ref", res.RemoteID),
		slog.Any("operation", meta["operation"]),
		slog.Duration("elapsed", o.nowFunc().Sub(start)),
	)

	return Outcome{Key: key, Status: store.StatusSuccess, ProviderRef: res.RemoteID, Meta: meta}, nil
}

// resolveDependencies syncs every dependency through the full state machine
// and returns their provider refs by type.
func (o *Orchestrator) resolveDependencies(
	ctx context.Context, a adapter.Adapter, rec *store.SyncRecord, actorID string,
) (map[store.EntityType]string, error) {
	deps, err := a.Dependencies(ctx, actorID, rec.Key.ID)
	if err != nil {
		return nil, err
	}

	refs := make(map[store.EntityType]string, len(deps))

	for _, d := range deps {
		d.Provider = rec.Key.Provider

		if rank[d.Type] >= rank[rec.Key.Type] {
			return nil, syncerr.Newf(syncerr.KindUnknown, "sync.dependencies",
				"%s may not depend on %s", rec.Key.Type, d.Type)
		}

		if err := o.settledFailure(ctx, d); err != nil {
			return nil, &syncerr.Error{
				Kind:    syncerr.KindMissingDependency,
				Op:      "sync.dependencies",
				Message: fmt.Sprintf("dependency %s failed: %v", d, err),
				Err:     err,
			}
		}

		out, err := o.Sync(ctx, actorID, d)
		if err != nil {
			// Reconnect-required failures are reported as themselves.
			if syncerr.Category(err) == syncerr.CategoryTokenExpired {
				return nil, err
			}

			return nil, &syncerr.Error{
				Kind:    syncerr.KindMissingDependency,
				Op:      "sync.dependencies",
				Message: fmt.Sprintf("dependency %s failed: %v", d, err),
				Err:     err,
			}
		}

		refs[d.Type] = out.ProviderRef
	}

	return refs, nil
}

// settledFailure returns the persisted failure of a dependency that a re-run
// cannot fix: a customer-error record stays failed until the user changes
// and re-triggers it directly. Token-expired dependencies are re-run because
// the caller already holds a valid credential.
func (o *Orchestrator) settledFailure(ctx context.Context, key store.Key) error {
	rec, err := o.records.GetRecord(ctx, key)
	if err != nil || rec.Status != store.StatusError || rec.ErrorType != syncerr.CategoryCustomerError {
		return nil
	}

	return syncerr.Newf(syncerr.KindCustomerError, "sync.dependencies", "%s: %s", key, rec.ErrorMessage)
}

// fail records err on the claimed record and returns it. The write uses a
// context detached from cancellation so a canceled caller never strands the
// record in processing.
func (o *Orchestrator) fail(ctx context.Context, rec *store.SyncRecord, err error, extra map[string]any) (Outcome, error) {
	key := rec.Key
	category := syncerr.Category(err)
	kind := syncerr.Classify(err)

	meta := map[string]any{
		"error_kind": kind.String(),
		"failed_at":  o.nowFunc().UTC().Format(time.RFC3339),
	}

	if ref := priorRef(rec); ref != "" {
		meta["remote_id"] = ref
	}

	for k, v := range extra {
		meta[k] = v
	}

	var apiErr *qbo.APIError
	if errors.As(err, &apiErr) {
		meta["http_status"] = apiErr.StatusCode

		if apiErr.RequestID != "" {
			meta["request_id"] = apiErr.RequestID
		}

		if apiErr.Code != "" {
			meta["fault_code"] = apiErr.Code
		}
	}

	if markErr := o.records.MarkError(context.WithoutCancel(ctx), key, err.Error(), category, meta); markErr != nil {
		o.logger.Error("failed to record sync error",
			slog.String("key", key.String()),
			slog.String("error", markErr.Error()),
		)
	}

	o.audit.Failure(ctx, rec.ActorID, "sync."+string(key.Type), keyPayload(key), err)

	o.logger.Warn("sync failed",
		slog.String("key", key.String()),
		slog.String("error_type", category),
		slog.String("error", err.Error()),
	)

	return Outcome{
		Key:          key,
		Status:       store.StatusError,
		ErrorType:    category,
		ErrorMessage: err.Error(),
		Meta:         meta,
	}, err
}

// leaseLost handles a success write refused because the record is no longer
// ours. If another caller finished the record, its success stands.
func (o *Orchestrator) leaseLost(ctx context.Context, key store.Key, cause error) (Outcome, error) {
	if out, done := o.cached(ctx, key); done {
		return out, nil
	}

	o.logger.Warn("lease lost before success was recorded", slog.String("key", key.String()))

	return Outcome{Key: key}, syncerr.New(syncerr.KindConnectivity, "sync.persist", cause)
}

func (o *Orchestrator) invalidate(ctx context.Context, actorID string, cause error) {
	if err := o.tokens.Invalidate(context.WithoutCancel(ctx), actorID, cause.Error()); err != nil {
		o.logger.Error("failed to invalidate credential",
			slog.String("actor", actorID),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) withProvider(key store.Key) store.Key {
	if key.Provider == "" {
		key.Provider = o.provider
	}

	return key
}

func (o *Orchestrator) staleBefore() time.Time {
	return o.nowFunc().Add(-o.leaseTimeout)
}

// priorRef returns a provider id remembered on the record from an earlier
// attempt.
func priorRef(rec *store.SyncRecord) string {
	if rec.ProviderRef != "" {
		return rec.ProviderRef
	}

	if ref, ok := rec.ProviderMeta["remote_id"].(string); ok {
		return ref
	}

	return ""
}

func keyPayload(key store.Key) map[string]any {
	return map[string]any{
		"entity_type": string(key.Type),
		"entity_id":   key.ID,
		"provider":    key.Provider,
	}
}
