package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const recordCols = `entity_type, entity_id, provider, status, provider_ref,
	provider_meta, error_message, error_type, retries, last_synced_at,
	actor_id, claimed_at, created_at, updated_at`

const keyWhere = `entity_type = ? AND entity_id = ? AND provider = ?`

// SQL statements for sync record transitions.
const (
	sqlGetRecord = `SELECT ` + recordCols + ` FROM sync_records WHERE ` + keyWhere

	sqlEnqueue = `INSERT INTO sync_records
		(entity_type, entity_id, provider, status, actor_id, retries, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', ?, 0, ?, ?)
		ON CONFLICT(entity_type, entity_id, provider) DO UPDATE SET
		 status = 'pending',
		 updated_at = excluded.updated_at
		WHERE sync_records.status = 'error'`

	// The claim is a compare-and-set: it inserts a fresh processing row, or
	// flips an existing pending/error/stale-processing row. Anything else
	// (success, or processing under a live lease) returns no row. An existing
	// row keeps the actor it was created for.
	sqlClaim = `INSERT INTO sync_records
		(entity_type, entity_id, provider, status, actor_id, retries, claimed_at, created_at, updated_at)
		VALUES (?, ?, ?, 'processing', ?, 0, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id, provider) DO UPDATE SET
		 status = 'processing',
		 claimed_at = excluded.claimed_at,
		 updated_at = excluded.updated_at
		WHERE sync_records.status IN ('pending', 'error')
		 OR (sync_records.status = 'processing' AND sync_records.claimed_at < ?)
		RETURNING ` + recordCols

	sqlClaimNextPending = `UPDATE sync_records
		SET status = 'processing', claimed_at = ?, updated_at = ?
		WHERE rowid = (
			SELECT rowid FROM sync_records
			WHERE entity_type = ? AND provider = ? AND status = 'pending'
			 AND (? = '' OR actor_id = ?)
			ORDER BY created_at, rowid
			LIMIT 1
		) AND status = 'pending'
		RETURNING ` + recordCols

	sqlMarkSuccess = `UPDATE sync_records SET
		 status = 'success', provider_ref = ?, provider_meta = ?,
		 error_message = NULL, error_type = NULL,
		 last_synced_at = ?, claimed_at = NULL, updated_at = ?
		WHERE ` + keyWhere + ` AND status = 'processing'`

	sqlMarkError = `UPDATE sync_records SET
		 status = 'error', provider_meta = ?,
		 error_message = ?, error_type = ?, retries = retries + 1,
		 last_synced_at = ?, claimed_at = NULL, updated_at = ?
		WHERE ` + keyWhere + ` AND status = 'processing'`

	sqlRequeue = `UPDATE sync_records SET status = 'pending', claimed_at = NULL, updated_at = ?
		WHERE ` + keyWhere + `
		 AND (status = 'error' OR (status = 'processing' AND claimed_at < ?))`

	sqlStaleProcessing = `SELECT ` + recordCols + ` FROM sync_records
		WHERE provider = ? AND status = 'processing' AND claimed_at < ?
		ORDER BY claimed_at, rowid
		LIMIT ?`

	sqlCountByStatus = `SELECT entity_type, status, COUNT(*) FROM sync_records
		WHERE provider = ?
		GROUP BY entity_type, status`
)

// GetRecord returns the sync record for key, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, key Key) (*SyncRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, sqlGetRecord, key.Type, key.ID, key.Provider))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: getting record %s: %w", key, err)
	}

	return rec, nil
}

// Enqueue marks key pending. A new record is created when none exists and an
// error record is moved back to pending. Pending, processing and success
// records are left alone. Reports whether anything changed.
func (s *Store) Enqueue(ctx context.Context, key Key, actorID string) (bool, error) {
	now := toNanos(s.nowFunc())

	res, err := s.db.ExecContext(ctx, sqlEnqueue, key.Type, key.ID, key.Provider, actorID, now, now)
	if err != nil {
		return false, fmt.Errorf("store: enqueue %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: enqueue %s rows affected: %w", key, err)
	}

	return n > 0, nil
}

// Claim moves key to processing and stamps the lease. Records that are
// pending, in error, absent, or processing with claimed_at before
// staleBefore can be claimed. Returns ErrClaimRefused otherwise. actorID is
// only recorded when the claim creates the row.
func (s *Store) Claim(ctx context.Context, key Key, actorID string, staleBefore time.Time) (*SyncRecord, error) {
	now := toNanos(s.nowFunc())

	rec, err := scanRecord(s.db.QueryRowContext(ctx, sqlClaim,
		key.Type, key.ID, key.Provider, actorID, now, now, now, cutoffNanos(staleBefore)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClaimRefused
	}

	if err != nil {
		return nil, fmt.Errorf("store: claiming %s: %w", key, err)
	}

	return rec, nil
}

// ClaimNextPending atomically pops the oldest pending record of the given
// type and moves it to processing. A non-empty actorID restricts the pop to
// that actor's records. Returns ErrNotFound when the queue is empty. Two
// concurrent callers never receive the same record.
func (s *Store) ClaimNextPending(ctx context.Context, entityType EntityType, provider, actorID string) (*SyncRecord, error) {
	now := toNanos(s.nowFunc())

	rec, err := scanRecord(s.db.QueryRowContext(ctx, sqlClaimNextPending,
		now, now, entityType, provider, actorID, actorID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: claiming next pending %s: %w", entityType, err)
	}

	return rec, nil
}

// MarkSuccess records a terminal success for a processing record. Returns
// ErrNotClaimed if the record is no longer processing.
func (s *Store) MarkSuccess(ctx context.Context, key Key, providerRef string, meta map[string]any) error {
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return err
	}

	now := toNanos(s.nowFunc())

	return s.execTransition(ctx, "mark success", key, sqlMarkSuccess,
		providerRef, metaJSON, now, now, key.Type, key.ID, key.Provider)
}

// MarkError records a failed attempt for a processing record and increments
// retries. Returns ErrNotClaimed if the record is no longer processing.
func (s *Store) MarkError(ctx context.Context, key Key, message, errorType string, meta map[string]any) error {
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return err
	}

	now := toNanos(s.nowFunc())

	return s.execTransition(ctx, "mark error", key, sqlMarkError,
		metaJSON, message, nullString(errorType), now, now, key.Type, key.ID, key.Provider)
}

// Requeue resets an error record, or a processing record whose lease began
// before staleBefore, to pending. Reports whether the record was reset.
func (s *Store) Requeue(ctx context.Context, key Key, staleBefore time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqlRequeue,
		toNanos(s.nowFunc()), key.Type, key.ID, key.Provider, cutoffNanos(staleBefore))
	if err != nil {
		return false, fmt.Errorf("store: requeue %s: %w", key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: requeue %s rows affected: %w", key, err)
	}

	if n > 0 {
		s.logger.Debug("record requeued", slog.String("key", key.String()))
	}

	return n > 0, nil
}

func (s *Store) execTransition(ctx context.Context, desc string, key Key, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("store: %s %s: %w", desc, key, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: %s %s rows affected: %w", desc, key, err)
	}

	if n == 0 {
		return fmt.Errorf("store: %s %s: %w", desc, key, ErrNotClaimed)
	}

	return nil
}

// RetryQuery selects error records eligible for the retry sweeper.
type RetryQuery struct {
	Provider          string
	MaxRetries        int // exclusive upper bound on retries
	ExcludeErrorTypes []string
	Limit             int
}

// ListRetryCandidates returns error records under the retry ceiling whose
// error type is not excluded, oldest last_synced_at first.
func (s *Store) ListRetryCandidates(ctx context.Context, q RetryQuery) ([]SyncRecord, error) {
	var b strings.Builder

	args := []any{q.Provider, q.MaxRetries}

	b.WriteString(`SELECT ` + recordCols + ` FROM sync_records
		WHERE provider = ? AND status = 'error' AND retries < ?`)

	if len(q.ExcludeErrorTypes) > 0 {
		b.WriteString(` AND (error_type IS NULL OR error_type NOT IN (`)

		for i, t := range q.ExcludeErrorTypes {
			if i > 0 {
				b.WriteString(", ")
			}

			b.WriteString("?")

			args = append(args, t)
		}

		b.WriteString("))")
	}

	b.WriteString(` ORDER BY last_synced_at, rowid`)

	if q.Limit > 0 {
		b.WriteString(` LIMIT ?`)

		args = append(args, q.Limit)
	}

	return s.queryRecords(ctx, "list retry candidates", b.String(), args...)
}

// ListStaleProcessing returns processing records whose lease began before
// staleBefore, oldest lease first.
func (s *Store) ListStaleProcessing(ctx context.Context, provider string, staleBefore time.Time, limit int) ([]SyncRecord, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	return s.queryRecords(ctx, "list stale processing", sqlStaleProcessing,
		provider, cutoffNanos(staleBefore), limit)
}

// RecordFilter narrows ListRecords. Zero fields match everything.
type RecordFilter struct {
	Provider string
	Type     EntityType
	Status   Status
	Limit    int
}

// ListRecords returns records matching f, most recently updated first.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]SyncRecord, error) {
	var (
		conds []string
		args  []any
	)

	if f.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, f.Provider)
	}

	if f.Type != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, f.Type)
	}

	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + recordCols + ` FROM sync_records`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}

	query += ` ORDER BY updated_at DESC, rowid DESC`

	if f.Limit > 0 {
		query += ` LIMIT ?`

		args = append(args, f.Limit)
	}

	return s.queryRecords(ctx, "list records", query, args...)
}

// CountByStatus returns record counts per entity type and status.
func (s *Store) CountByStatus(ctx context.Context, provider string) (map[EntityType]map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, sqlCountByStatus, provider)
	if err != nil {
		return nil, fmt.Errorf("store: counting records: %w", err)
	}
	defer rows.Close()

	out := make(map[EntityType]map[Status]int)

	for rows.Next() {
		var (
			t  EntityType
			st Status
			n  int
		)

		if err := rows.Scan(&t, &st, &n); err != nil {
			return nil, fmt.Errorf("store: scanning record count: %w", err)
		}

		if out[t] == nil {
			out[t] = make(map[Status]int)
		}

		out[t][st] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating record counts: %w", err)
	}

	return out, nil
}

func (s *Store) queryRecords(ctx context.Context, desc, query string, args ...any) ([]SyncRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: %s: %w", desc, err)
	}
	defer rows.Close()

	var out []SyncRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("store: %s: %w", desc, err)
		}

		out = append(out, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating %s: %w", desc, err)
	}

	return out, nil
}

// scanRecord scans one sync_records row in recordCols order.
func scanRecord(row rowScanner) (*SyncRecord, error) {
	var (
		r            SyncRecord
		providerRef  sql.NullString
		providerMeta sql.NullString
		errMsg       sql.NullString
		errType      sql.NullString
		lastSynced   sql.NullInt64
		claimedAt    sql.NullInt64
		createdAt    int64
		updatedAt    int64
	)

	err := row.Scan(
		&r.Type, &r.ID, &r.Provider, &r.Status, &providerRef,
		&providerMeta, &errMsg, &errType, &r.Retries, &lastSynced,
		&r.ActorID, &claimedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	meta, err := decodeJSON(providerMeta)
	if err != nil {
		return nil, err
	}

	r.ProviderRef = providerRef.String
	r.ProviderMeta = meta
	r.ErrorMessage = errMsg.String
	r.ErrorType = errType.String
	r.LastSyncedAt = fromNullNanos(lastSynced)
	r.ClaimedAt = fromNullNanos(claimedAt)
	r.CreatedAt = time.Unix(0, createdAt)
	r.UpdatedAt = time.Unix(0, updatedAt)

	return &r, nil
}
