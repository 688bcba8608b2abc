package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	sqlLatestCredential = `SELECT id, actor_id, realm_id, access_token, refresh_token,
		expires_at, created_at, updated_at
		FROM connection_credentials
		WHERE actor_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`

	sqlInsertCredential = `INSERT INTO connection_credentials
		(id, actor_id, realm_id, access_token, refresh_token, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)` //nolint:gosec // G101: column names, not credentials

	sqlUpdateCredentialTokens = `UPDATE connection_credentials
		SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		WHERE id = ?`

	sqlDeleteCredentials = `DELETE FROM connection_credentials WHERE actor_id = ?`
)

// LatestCredential returns the most recently created credential for the
// actor, or ErrNotFound.
func (s *Store) LatestCredential(ctx context.Context, actorID string) (*Credential, error) {
	var (
		c                               Credential
		expiresAt, createdAt, updatedAt int64
	)

	err := s.db.QueryRowContext(ctx, sqlLatestCredential, actorID).Scan(
		&c.ID, &c.ActorID, &c.RealmID, &c.AccessToken, &c.RefreshToken,
		&expiresAt, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading credential for %s: %w", actorID, err)
	}

	c.ExpiresAt = time.Unix(0, expiresAt)
	c.CreatedAt = time.Unix(0, createdAt)
	c.UpdatedAt = time.Unix(0, updatedAt)

	return &c, nil
}

// SaveCredential inserts c as the actor's newest credential. An empty ID is
// assigned a fresh UUID; timestamps are stamped from the store clock.
func (s *Store) SaveCredential(ctx context.Context, c *Credential) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	now := s.nowFunc()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, sqlInsertCredential,
		c.ID, c.ActorID, c.RealmID, c.AccessToken, c.RefreshToken,
		toNanos(c.ExpiresAt), toNanos(now), toNanos(now))
	if err != nil {
		return fmt.Errorf("store: saving credential for %s: %w", c.ActorID, err)
	}

	return nil
}

// UpdateCredentialTokens replaces the tokens and expiry of one credential in
// place. Returns ErrNotFound if the credential was deleted meanwhile.
func (s *Store) UpdateCredentialTokens(
	ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time,
) error {
	res, err := s.db.ExecContext(ctx, sqlUpdateCredentialTokens,
		accessToken, refreshToken, toNanos(expiresAt), toNanos(s.nowFunc()), id)
	if err != nil {
		return fmt.Errorf("store: updating credential %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: updating credential %s rows affected: %w", id, err)
	}

	if n == 0 {
		return ErrNotFound
	}

	return nil
}

// DeleteCredentials removes every credential of the actor and returns how
// many were deleted.
func (s *Store) DeleteCredentials(ctx context.Context, actorID string) (int, error) {
	res, err := s.db.ExecContext(ctx, sqlDeleteCredentials, actorID)
	if err != nil {
		return 0, fmt.Errorf("store: deleting credentials for %s: %w", actorID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: deleting credentials rows affected: %w", err)
	}

	return int(n), nil
}
