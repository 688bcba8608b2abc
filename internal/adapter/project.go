package adapter

import (
	"context"

	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// projectAdapter syncs a project as a sub-customer ("job") of its synced
// customer. The remote natural key is the fully qualified "Customer:Project"
// name.
type projectAdapter struct {
	env *Env
}

func (a *projectAdapter) Type() store.EntityType { return store.EntityProject }

func (a *projectAdapter) Dependencies(ctx context.Context, _, entityID string) ([]store.Key, error) {
	p, err := a.env.Entities.GetProject(ctx, entityID)
	if err != nil {
		return nil, loadFailed("adapter.project.dependencies", err)
	}

	return []store.Key{{Type: store.EntityCustomer, ID: p.CustomerID}}, nil
}

func (a *projectAdapter) CreateRemote(ctx context.Context, req Request) (Result, error) {
	const op = "adapter.project"

	p, err := a.env.Entities.GetProject(ctx, req.EntityID)
	if err != nil {
		return Result{}, loadFailed(op+".load", err)
	}

	parentRef, err := depRef(req, op, store.EntityCustomer)
	if err != nil {
		return Result{}, err
	}

	parent, err := a.env.Entities.GetCustomer(ctx, p.CustomerID)
	if err != nil {
		return Result{}, loadFailed(op+".load", err)
	}

	name := naturalName(p.Name)
	if name == "" {
		return Result{}, syncerr.Newf(syncerr.KindCustomerError, op, "project %s has no name", req.EntityID)
	}

	fqn := naturalName(parent.Name) + ":" + name

	found, err := call(ctx, a.env, req, op+".lookup", func(ctx context.Context) ([]qbo.Customer, error) {
		var rows []qbo.Customer
		_, err := a.env.API.Query(ctx, req.Auth, qbo.EntityCustomer, "FullyQualifiedName", fqn, &rows)

		return rows, err
	})
	if err != nil {
		return Result{}, err
	}

	if len(found) > 0 {
		return Result{RemoteID: found[0].ID, Meta: map[string]any{
			"operation":            OpFoundExisting,
			"fully_qualified_name": fqn,
		}}, nil
	}

	payload := &qbo.Customer{
		DisplayName:    name,
		Job:            true,
		ParentRef:      &qbo.Ref{Value: parentRef},
		BillWithParent: true,
	}

	created, err := call(ctx, a.env, req, op+".create", func(ctx context.Context) (qbo.Customer, error) {
		var out qbo.Customer
		_, err := a.env.API.Create(ctx, req.Auth, qbo.EntityCustomer, payload, &out)

		return out, err
	})
	if err != nil {
		return Result{}, err
	}

	return Result{RemoteID: created.ID, Meta: map[string]any{
		"operation":            OpCreated,
		"fully_qualified_name": fqn,
		"parent_ref":           parentRef,
	}}, nil
}
