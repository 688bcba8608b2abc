package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	sqlLookupContact = `SELECT actor_id, contact_type, local_id, remote_id, snapshot, updated_at
		FROM contact_cache
		WHERE actor_id = ? AND contact_type = ? AND local_id = ?`

	sqlUpsertContact = `INSERT INTO contact_cache
		(actor_id, contact_type, local_id, remote_id, snapshot, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_id, contact_type, local_id) DO UPDATE SET
		 remote_id = excluded.remote_id,
		 snapshot = excluded.snapshot,
		 updated_at = excluded.updated_at`
)

// LookupContact returns the cached mapping, or ErrNotFound.
func (s *Store) LookupContact(ctx context.Context, actorID string, contactType EntityType, localID string) (*ContactEntry, error) {
	var (
		e         ContactEntry
		snapshot  sql.NullString
		updatedAt int64
	)

	err := s.db.QueryRowContext(ctx, sqlLookupContact, actorID, contactType, localID).Scan(
		&e.ActorID, &e.ContactType, &e.LocalID, &e.RemoteID, &snapshot, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: looking up %s contact %s: %w", contactType, localID, err)
	}

	snap, err := decodeJSON(snapshot)
	if err != nil {
		return nil, err
	}

	e.Snapshot = snap
	e.UpdatedAt = time.Unix(0, updatedAt)

	return &e, nil
}

// UpsertContact writes the mapping; the last writer wins.
func (s *Store) UpsertContact(ctx context.Context, e ContactEntry) error {
	snap, err := encodeJSON(e.Snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, sqlUpsertContact,
		e.ActorID, e.ContactType, e.LocalID, e.RemoteID, snap, toNanos(s.nowFunc()))
	if err != nil {
		return fmt.Errorf("store: storing %s contact %s: %w", e.ContactType, e.LocalID, err)
	}

	return nil
}
