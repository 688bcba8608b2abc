// Package contacts memoizes local vendor/customer ids to provider ids. It is
// a fast path only: a miss, or any store failure, falls through to a live
// provider search.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/acctsync/internal/store"
)

// Store is the persistence the cache needs. *store.Store satisfies it.
type Store interface {
	LookupContact(ctx context.Context, actorID string, contactType store.EntityType, localID string) (*store.ContactEntry, error)
	UpsertContact(ctx context.Context, e store.ContactEntry) error
}

// Cache is the contact cache.
type Cache struct {
	store  Store
	logger *slog.Logger
}

// New creates a Cache backed by s.
func New(s Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{store: s, logger: logger}
}

// Lookup returns the cached remote id. ok is false on a miss. Store errors
// degrade to a miss and are only logged.
func (c *Cache) Lookup(ctx context.Context, actorID string, contactType store.EntityType, localID string) (string, bool) {
	e, err := c.store.LookupContact(ctx, actorID, contactType, localID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("contact cache lookup failed, falling back to remote search",
				slog.String("contact_type", string(contactType)),
				slog.String("local_id", localID),
				slog.String("error", err.Error()),
			)
		}

		return "", false
	}

	return e.RemoteID, true
}

// Store upserts the mapping with a snapshot of the remote contact.
func (c *Cache) Store(
	ctx context.Context, actorID string, contactType store.EntityType, localID, remoteID string, snapshot map[string]any,
) error {
	err := c.store.UpsertContact(ctx, store.ContactEntry{
		ActorID:     actorID,
		ContactType: contactType,
		LocalID:     localID,
		RemoteID:    remoteID,
		Snapshot:    snapshot,
	})
	if err != nil {
		return fmt.Errorf("contacts: storing %s %s: %w", contactType, localID, err)
	}

	return nil
}
