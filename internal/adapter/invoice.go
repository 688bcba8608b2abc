package adapter

import (
	"context"

	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

type invoiceAdapter struct {
	env *Env
}

func (a *invoiceAdapter) Type() store.EntityType { return store.EntityInvoice }

func (a *invoiceAdapter) Dependencies(ctx context.Context, _, entityID string) ([]store.Key, error) {
	inv, err := a.env.Entities.GetInvoice(ctx, entityID)
	if err != nil {
		return nil, loadFailed("adapter.invoice.dependencies", err)
	}

	deps := []store.Key{{Type: store.EntityCustomer, ID: inv.CustomerID}}
	if inv.ProjectID != "" {
		deps = append(deps, store.Key{Type: store.EntityProject, ID: inv.ProjectID})
	}

	return deps, nil
}

// billTo returns the remote customer an invoice is addressed to: the project
// job when the invoice belongs to a project, else the customer.
func billTo(req Request, op string, projectID string) (string, error) {
	if projectID != "" {
		return depRef(req, op, store.EntityProject)
	}

	return depRef(req, op, store.EntityCustomer)
}

func (a *invoiceAdapter) CreateRemote(ctx context.Context, req Request) (Result, error) {
	const op = "adapter.invoice"

	inv, err := a.env.Entities.GetInvoice(ctx, req.EntityID)
	if err != nil {
		return Result{}, loadFailed(op+".load", err)
	}

	customerRef, err := billTo(req, op, inv.ProjectID)
	if err != nil {
		return Result{}, err
	}

	doc, err := docNumber(op+".doc_number", inv.InvoiceNumber, "I", inv.ID)
	if err != nil {
		return Result{}, err
	}

	found, err := call(ctx, a.env, req, op+".lookup", func(ctx context.Context) ([]qbo.Invoice, error) {
		var rows []qbo.Invoice
		_, err := a.env.API.Query(ctx, req.Auth, qbo.EntityInvoice, "DocNumber", doc, &rows)

		return rows, err
	})
	if err != nil {
		return Result{}, err
	}

	if len(found) > 0 {
		return Result{RemoteID: found[0].ID, Meta: map[string]any{
			"operation":  OpFoundExisting,
			"doc_number": doc,
		}}, nil
	}

	payload, unmapped, err := a.translate(ctx, req, inv, customerRef, doc)
	if err != nil {
		return Result{}, err
	}

	created, err := call(ctx, a.env, req, op+".create", func(ctx context.Context) (qbo.Invoice, error) {
		var out qbo.Invoice
		_, err := a.env.API.Create(ctx, req.Auth, qbo.EntityInvoice, payload, &out)

		return out, err
	})
	if err != nil {
		return Result{}, err
	}

	m := map[string]any{
		"operation":      OpCreated,
		"doc_number":     doc,
		"line_count":     len(payload.Line),
		"synthetic_line": len(inv.Lines) == 0,
	}
	if len(unmapped) > 0 {
		m["unmapped_categories"] = unmapped
	}

	return Result{RemoteID: created.ID, Meta: m}, nil
}

func (a *invoiceAdapter) translate(
	ctx context.Context, req Request, inv *store.Invoice, customerRef, doc string,
) (*qbo.Invoice, []string, error) {
	const op = "adapter.invoice.translate"

	def := a.env.Accounts.DefaultIncomeItem

	lines := inv.Lines
	if len(lines) == 0 {
		desc := inv.Memo
		if desc == "" {
			desc = "Invoice " + doc
		}

		lines = []store.InvoiceLine{{Description: desc, Quantity: 1, UnitPriceCents: inv.TotalCents, AmountCents: inv.TotalCents}}
	}

	var unmapped []string

	out := &qbo.Invoice{
		CustomerRef: qbo.Ref{Value: customerRef},
		DocNumber:   doc,
		TxnDate:     inv.IssueDate,
		DueDate:     inv.DueDate,
		Line:        make([]qbo.InvoiceLine, 0, len(lines)),
	}

	if inv.Memo != "" {
		out.CustomerMemo = &qbo.MemoRef{Value: inv.Memo}
	}

	for _, l := range lines {
		item, mapped, err := mappedAccount(ctx, a.env, req.ActorID, l.CategoryID, store.MappingIncome, def)
		if err != nil {
			return nil, nil, syncerr.New(syncerr.KindUnknown, op, err)
		}

		if item == "" {
			return nil, nil, syncerr.Newf(syncerr.KindCustomerError, op,
				"no income item mapped for category %q and no default configured", l.CategoryID)
		}

		if !mapped && l.CategoryID != "" {
			unmapped = append(unmapped, l.CategoryID)
		}

		detail := &qbo.SalesItemLineDetail{ItemRef: qbo.Ref{Value: item}, Qty: l.Quantity}
		if l.UnitPriceCents != 0 {
			price := qbo.Amount(l.UnitPriceCents)
			detail.UnitPrice = &price
		}

		out.Line = append(out.Line, qbo.InvoiceLine{
			Amount:              qbo.Amount(l.AmountCents),
			DetailType:          qbo.DetailSalesItem,
			Description:         l.Description,
			SalesItemLineDetail: detail,
		})
	}

	return out, unmapped, nil
}
