package adapter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// contactAdapter syncs vendors and customers. Both are looked up in the
// contact cache first, then by DisplayName.
type contactAdapter struct {
	env  *Env
	kind store.EntityType
}

// contact is the local fields shared by vendors and customers.
type contact struct {
	name, company, email, phone string
	addr                        *qbo.PhysicalAddress
}

func (a *contactAdapter) Type() store.EntityType { return a.kind }

func (a *contactAdapter) Dependencies(context.Context, string, string) ([]store.Key, error) {
	return nil, nil
}

func (a *contactAdapter) remoteEntity() string {
	if a.kind == store.EntityVendor {
		return qbo.EntityVendor
	}

	return qbo.EntityCustomer
}

func (a *contactAdapter) load(ctx context.Context, id string) (*contact, error) {
	if a.kind == store.EntityVendor {
		v, err := a.env.Entities.GetVendor(ctx, id)
		if err != nil {
			return nil, err
		}

		c := &contact{name: v.Name, company: v.CompanyName, email: v.Email, phone: v.Phone}
		if v.Address != "" || v.City != "" || v.PostalCode != "" {
			c.addr = &qbo.PhysicalAddress{
				Line1:                  v.Address,
				City:                   v.City,
				CountrySubDivisionCode: v.Region,
				PostalCode:             v.PostalCode,
				Country:                v.Country,
			}
		}

		return c, nil
	}

	cu, err := a.env.Entities.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}

	return &contact{name: cu.Name, company: cu.CompanyName, email: cu.Email, phone: cu.Phone}, nil
}

func (a *contactAdapter) CreateRemote(ctx context.Context, req Request) (Result, error) {
	op := fmt.Sprintf("adapter.%s", a.kind)

	c, err := a.load(ctx, req.EntityID)
	if err != nil {
		return Result{}, loadFailed(op+".load", err)
	}

	name := naturalName(c.name)
	if name == "" {
		return Result{}, syncerr.Newf(syncerr.KindCustomerError, op, "%s %s has no name", a.kind, req.EntityID)
	}

	if id, ok := a.env.Contacts.Lookup(ctx, req.ActorID, a.kind, req.EntityID); ok {
		return Result{RemoteID: id, Meta: map[string]any{
			"operation": OpFoundExisting,
			"source":    "contact_cache",
		}}, nil
	}

	entity := a.remoteEntity()

	found, err := call(ctx, a.env, req, op+".lookup", func(ctx context.Context) ([]map[string]any, error) {
		var rows []map[string]any
		_, err := a.env.API.Query(ctx, req.Auth, entity, "DisplayName", name, &rows)

		return rows, err
	})
	if err != nil {
		return Result{}, err
	}

	if len(found) > 0 {
		id, err := contactID(op+".lookup", found[0])
		if err != nil {
			return Result{}, err
		}

		a.remember(ctx, req, id, found[0])

		return Result{RemoteID: id, Meta: map[string]any{
			"operation": OpFoundExisting,
			"source":    "remote_search",
		}}, nil
	}

	payload := a.translate(c, name)

	created, err := call(ctx, a.env, req, op+".create", func(ctx context.Context) (map[string]any, error) {
		var out map[string]any
		_, err := a.env.API.Create(ctx, req.Auth, entity, payload, &out)

		return out, err
	})
	if err != nil {
		return Result{}, err
	}

	id, err := contactID(op+".create", created)
	if err != nil {
		return Result{}, err
	}

	a.remember(ctx, req, id, created)

	return Result{RemoteID: id, Meta: map[string]any{
		"operation":    OpCreated,
		"display_name": name,
	}}, nil
}

func (a *contactAdapter) translate(c *contact, name string) any {
	var email *qbo.EmailAddress
	if c.email != "" {
		email = &qbo.EmailAddress{Address: c.email}
	}

	var phone *qbo.TelephoneNumber
	if c.phone != "" {
		phone = &qbo.TelephoneNumber{FreeFormNumber: c.phone}
	}

	if a.kind == store.EntityVendor {
		return &qbo.Vendor{
			DisplayName:      name,
			CompanyName:      c.company,
			PrimaryEmailAddr: email,
			PrimaryPhone:     phone,
			BillAddr:         c.addr,
		}
	}

	return &qbo.Customer{
		DisplayName:      name,
		CompanyName:      c.company,
		PrimaryEmailAddr: email,
		PrimaryPhone:     phone,
	}
}

// remember writes the cache entry. The cache is only a fast path, so a
// failure is logged and the sync still succeeds.
func (a *contactAdapter) remember(ctx context.Context, req Request, remoteID string, snapshot map[string]any) {
	if err := a.env.Contacts.Store(ctx, req.ActorID, a.kind, req.EntityID, remoteID, snapshot); err != nil {
		a.env.Logger.Warn("contact cache write failed",
			slog.String("entity_id", req.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

// contactID reads the provider id off a returned contact. A row without one
// must never reach the contact cache.
func contactID(op string, row map[string]any) (string, error) {
	id, _ := row["Id"].(string)
	if id == "" {
		return "", syncerr.Newf(syncerr.KindUnknown, op, "provider returned a contact without an Id")
	}

	return id, nil
}
