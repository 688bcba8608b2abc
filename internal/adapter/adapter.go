// Package adapter translates local entities into provider objects and creates
// them remotely. Every adapter follows the same algorithm: load the local
// entity, search the provider for an existing object under the entity's
// natural key, and only when nothing is found translate and create it under
// the retry policy. Searching first makes a create safe to repeat after a crash
// between the remote call and the local commit.
package adapter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/acctsync/internal/audit"
	"github.com/tonimelisma/acctsync/internal/contacts"
	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/retry"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// Operation values recorded in Result.Meta["operation"].
const (
	OpFoundExisting = "found_existing"
	OpCreated       = "created"
)

// maxDocNumber is the provider's DocNumber length limit.
const maxDocNumber = 21

// Request is the input to one CreateRemote call.
type Request struct {
	ActorID  string
	EntityID string
	Auth     qbo.Auth

	// Deps holds the remote ids of the resolved dependencies, by type.
	Deps map[store.EntityType]string

	// PriorRef is a provider id remembered from an earlier attempt, if any.
	PriorRef string
}

// Result is the outcome of a successful CreateRemote.
type Result struct {
	RemoteID string
	Meta     map[string]any
}

// Adapter syncs one entity type.
type Adapter interface {
	Type() store.EntityType

	// Dependencies lists the entities that must be synced before entityID.
	// Provider is left empty; the orchestrator fills it in.
	Dependencies(ctx context.Context, actorID, entityID string) ([]store.Key, error)

	CreateRemote(ctx context.Context, req Request) (Result, error)
}

// API is the subset of the provider client the adapters call.
// *qbo.Client satisfies it.
type API interface {
	Query(ctx context.Context, auth qbo.Auth, entity, field, value string, out any) (int, error)
	Create(ctx context.Context, auth qbo.Auth, entity string, payload, out any) (string, error)
	Get(ctx context.Context, auth qbo.Auth, entity, id string, out any) error
}

// EntityReader loads local entities. *store.Store satisfies it.
type EntityReader interface {
	GetVendor(ctx context.Context, id string) (*store.Vendor, error)
	GetCustomer(ctx context.Context, id string) (*store.Customer, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	GetBill(ctx context.Context, id string) (*store.Bill, error)
	GetInvoice(ctx context.Context, id string) (*store.Invoice, error)
	GetPayment(ctx context.Context, id string) (*store.Payment, error)
	AccountMapping(ctx context.Context, actorID, categoryID string, kind store.MappingKind) (*store.AccountMapping, error)
}

// Accounts are the fallback provider ids used when a line category has no
// account mapping.
type Accounts struct {
	DefaultExpenseAccount string
	DefaultIncomeItem     string
}

// Env is the shared wiring handed to every adapter.
type Env struct {
	API      API
	Entities EntityReader
	Contacts *contacts.Cache
	Retry    *retry.Executor
	Policy   retry.Policy
	Audit    *audit.Logger
	Accounts Accounts
	Logger   *slog.Logger
}

// All returns one adapter per entity type, in dependency order.
func All(env *Env) []Adapter {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}

	return []Adapter{
		&contactAdapter{env: env, kind: store.EntityVendor},
		&contactAdapter{env: env, kind: store.EntityCustomer},
		&projectAdapter{env: env},
		&billAdapter{env: env},
		&invoiceAdapter{env: env},
		&paymentAdapter{env: env},
	}
}

// call runs one provider operation under the retry policy, auditing every
// inline retry.
func call[T any](
	ctx context.Context, env *Env, req Request, function string, op func(ctx context.Context) (T, error),
) (T, error) {
	payload := map[string]any{"entity_id": req.EntityID}

	return retry.Do(ctx, env.Retry, env.Policy, op, func(attempt int, err error) {
		env.Audit.Retry(ctx, req.ActorID, function, payload, attempt, err)
	})
}

// loadFailed classifies a local read failure. A missing row is a data
// problem the user has to fix; anything else is treated as transient.
func loadFailed(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return syncerr.New(syncerr.KindCustomerError, op, err)
	}

	return syncerr.New(syncerr.KindUnknown, op, err)
}

// depRef returns the resolved remote id of a dependency.
func depRef(req Request, op string, t store.EntityType) (string, error) {
	ref := req.Deps[t]
	if ref == "" {
		return "", syncerr.Newf(syncerr.KindMissingDependency, op, "%s for %s has no provider reference", t, req.EntityID)
	}

	return ref, nil
}

// naturalName normalizes a display name the way it is compared remotely.
func naturalName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// docNumber returns the document number to use as a natural key. An empty
// number falls back to a stable key derived from the local id so repeated
// attempts look up the same remote object. A number longer than the
// provider allows is rejected: cutting it would let distinct documents share
// a key.
func docNumber(op, number, prefix, localID string) (string, error) {
	if n := naturalName(number); n != "" {
		if utf8.RuneCountInString(n) > maxDocNumber {
			return "", syncerr.Newf(syncerr.KindCustomerError, op,
				"document number %q is longer than %d characters", n, maxDocNumber)
		}

		return n, nil
	}

	return truncateRunes(prefix+strings.ReplaceAll(localID, "-", ""), maxDocNumber), nil
}

// truncateRunes cuts s to at most n characters without splitting one.
func truncateRunes(s string, n int) string {
	count := 0

	for i := range s {
		if count == n {
			return s[:i]
		}

		count++
	}

	return s
}

// mappedAccount returns the provider account for a category, falling back to
// def. mapped is false when the fallback was used.
func mappedAccount(
	ctx context.Context, env *Env, actorID, categoryID string, kind store.MappingKind, def string,
) (id string, mapped bool, err error) {
	if categoryID == "" {
		return def, false, nil
	}

	m, err := env.Entities.AccountMapping(ctx, actorID, categoryID, kind)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return def, false, nil
		}

		return "", false, err
	}

	return m.RemoteID, true, nil
}
