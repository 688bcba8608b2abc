package adapter

import (
	"context"
	"errors"

	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

type paymentAdapter struct {
	env *Env
}

func (a *paymentAdapter) Type() store.EntityType { return store.EntityPayment }

// Dependencies are the invoice and whoever it is billed to, since the
// payment's customer must match the invoice's.
func (a *paymentAdapter) Dependencies(ctx context.Context, _, entityID string) ([]store.Key, error) {
	const op = "adapter.payment.dependencies"

	p, err := a.env.Entities.GetPayment(ctx, entityID)
	if err != nil {
		return nil, loadFailed(op, err)
	}

	inv, err := a.env.Entities.GetInvoice(ctx, p.InvoiceID)
	if err != nil {
		return nil, loadFailed(op, err)
	}

	payer := store.Key{Type: store.EntityCustomer, ID: inv.CustomerID}
	if inv.ProjectID != "" {
		payer = store.Key{Type: store.EntityProject, ID: inv.ProjectID}
	}

	return []store.Key{payer, {Type: store.EntityInvoice, ID: inv.ID}}, nil
}

func (a *paymentAdapter) CreateRemote(ctx context.Context, req Request) (Result, error) {
	const op = "adapter.payment"

	p, err := a.env.Entities.GetPayment(ctx, req.EntityID)
	if err != nil {
		return Result{}, loadFailed(op+".load", err)
	}

	inv, err := a.env.Entities.GetInvoice(ctx, p.InvoiceID)
	if err != nil {
		return Result{}, loadFailed(op+".load", err)
	}

	invoiceRef, err := depRef(req, op, store.EntityInvoice)
	if err != nil {
		return Result{}, err
	}

	customerRef, err := billTo(req, op, inv.ProjectID)
	if err != nil {
		return Result{}, err
	}

	if p.AmountCents <= 0 {
		return Result{}, syncerr.Newf(syncerr.KindCustomerError, op, "payment %s has non-positive amount", p.ID)
	}

	if id, ok, err := a.lookupPrior(ctx, req); err != nil {
		return Result{}, err
	} else if ok {
		return Result{RemoteID: id, Meta: map[string]any{
			"operation": OpFoundExisting,
			"source":    "provider_ref",
		}}, nil
	}

	refNum, err := docNumber(op+".ref_num", p.Reference, "P", p.ID)
	if err != nil {
		return Result{}, err
	}

	found, err := call(ctx, a.env, req, op+".lookup", func(ctx context.Context) ([]qbo.Payment, error) {
		var rows []qbo.Payment
		_, err := a.env.API.Query(ctx, req.Auth, qbo.EntityPayment, "PaymentRefNum", refNum, &rows)

		return rows, err
	})
	if err != nil {
		return Result{}, err
	}

	for _, r := range found {
		if r.CustomerRef.Value == customerRef {
			return Result{RemoteID: r.ID, Meta: map[string]any{
				"operation":       OpFoundExisting,
				"source":          "remote_search",
				"payment_ref_num": refNum,
			}}, nil
		}
	}

	amount := qbo.Amount(p.AmountCents)
	payload := &qbo.Payment{
		CustomerRef:   qbo.Ref{Value: customerRef},
		TotalAmt:      amount,
		TxnDate:       p.PaymentDate,
		PaymentRefNum: refNum,
		PrivateNote:   p.Method,
		Line: []qbo.PaymentLine{{
			Amount:    amount,
			LinkedTxn: []qbo.LinkedTxn{{TxnID: invoiceRef, TxnType: qbo.EntityInvoice}},
		}},
	}

	created, err := call(ctx, a.env, req, op+".create", func(ctx context.Context) (qbo.Payment, error) {
		var out qbo.Payment
		_, err := a.env.API.Create(ctx, req.Auth, qbo.EntityPayment, payload, &out)

		return out, err
	})
	if err != nil {
		return Result{}, err
	}

	return Result{RemoteID: created.ID, Meta: map[string]any{
		"operation":       OpCreated,
		"payment_ref_num": refNum,
		"invoice_ref":     invoiceRef,
	}}, nil
}

// lookupPrior checks whether a provider id remembered from an earlier attempt
// still exists. A 404 means it does not.
func (a *paymentAdapter) lookupPrior(ctx context.Context, req Request) (string, bool, error) {
	if req.PriorRef == "" {
		return "", false, nil
	}

	got, err := call(ctx, a.env, req, "adapter.payment.lookup", func(ctx context.Context) (*qbo.Payment, error) {
		var out qbo.Payment
		if err := a.env.API.Get(ctx, req.Auth, qbo.EntityPayment, req.PriorRef, &out); err != nil {
			if errors.Is(err, qbo.ErrNotFound) {
				return nil, nil
			}

			return nil, err
		}

		return &out, nil
	})
	if err != nil {
		return "", false, err
	}

	if got == nil {
		return "", false, nil
	}

	return got.ID, true, nil
}
