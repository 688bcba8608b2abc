package adapter

import (
	"context"

	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

type billAdapter struct {
	env *Env
}

func (a *billAdapter) Type() store.EntityType { return store.EntityBill }

func (a *billAdapter) Dependencies(ctx context.Context, _, entityID string) ([]store.Key, error) {
	b, err := a.env.Entities.GetBill(ctx, entityID)
	if err != nil {
		return nil, loadFailed("adapter.bill.dependencies", err)
	}

	deps := []store.Key{{Type: store.EntityVendor, ID: b.VendorID}}
	if b.ProjectID != "" {
		deps = append(deps, store.Key{Type: store.EntityProject, ID: b.ProjectID})
	}

	return deps, nil
}

func (a *billAdapter) CreateRemote(ctx context.Context, req Request) (Result, error) {
	const op = "adapter.bill"

	b, err := a.env.Entities.GetBill(ctx, req.EntityID)
	if err != nil {
		return Result{}, loadFailed(op+".load", err)
	}

	vendorRef, err := depRef(req, op, store.EntityVendor)
	if err != nil {
		return Result{}, err
	}

	var projectRef string
	if b.ProjectID != "" {
		if projectRef, err = depRef(req, op, store.EntityProject); err != nil {
			return Result{}, err
		}
	}

	doc, err := docNumber(op+".doc_number", b.BillNumber, "B", b.ID)
	if err != nil {
		return Result{}, err
	}

	// Bill numbers are only unique per vendor.
	found, err := call(ctx, a.env, req, op+".lookup", func(ctx context.Context) ([]qbo.Bill, error) {
		var rows []qbo.Bill
		_, err := a.env.API.Query(ctx, req.Auth, qbo.EntityBill, "DocNumber", doc, &rows)

		return rows, err
	})
	if err != nil {
		return Result{}, err
	}

	for _, r := range found {
		if r.VendorRef.Value == vendorRef {
			return Result{RemoteID: r.ID, Meta: map[string]any{
				"operation":  OpFoundExisting,
				"doc_number": doc,
			}}, nil
		}
	}

	payload, unmapped, err := a.translate(ctx, req, b, vendorRef, projectRef, doc)
	if err != nil {
		return Result{}, err
	}

	created, err := call(ctx, a.env, req, op+".create", func(ctx context.Context) (qbo.Bill, error) {
		var out qbo.Bill
		_, err := a.env.API.Create(ctx, req.Auth, qbo.EntityBill, payload, &out)

		return out, err
	})
	if err != nil {
		return Result{}, err
	}

	m := map[string]any{
		"operation":      OpCreated,
		"doc_number":     doc,
		"line_count":     len(payload.Line),
		"synthetic_line": len(b.Lines) == 0,
	}
	if len(unmapped) > 0 {
		m["unmapped_categories"] = unmapped
	}

	return Result{RemoteID: created.ID, Meta: m}, nil
}

// translate builds the provider bill. Lines without an expense mapping are
// booked to the default expense account; a bill with no lines gets one line
// for its total.
func (a *billAdapter) translate(
	ctx context.Context, req Request, b *store.Bill, vendorRef, projectRef, doc string,
) (*qbo.Bill, []string, error) {
	const op = "adapter.bill.translate"

	def := a.env.Accounts.DefaultExpenseAccount

	var customerRef *qbo.Ref
	if projectRef != "" {
		customerRef = &qbo.Ref{Value: projectRef}
	}

	lines := b.Lines
	if len(lines) == 0 {
		desc := b.Memo
		if desc == "" {
			desc = "Bill " + doc
		}

		lines = []store.BillLine{{Description: desc, AmountCents: b.TotalCents}}
	}

	var unmapped []string

	out := &qbo.Bill{
		VendorRef:   qbo.Ref{Value: vendorRef},
		DocNumber:   doc,
		TxnDate:     b.BillDate,
		DueDate:     b.DueDate,
		PrivateNote: b.Memo,
		Line:        make([]qbo.BillLine, 0, len(lines)),
	}

	for _, l := range lines {
		account, mapped, err := mappedAccount(ctx, a.env, req.ActorID, l.CategoryID, store.MappingExpense, def)
		if err != nil {
			return nil, nil, syncerr.New(syncerr.KindUnknown, op, err)
		}

		if account == "" {
			return nil, nil, syncerr.Newf(syncerr.KindCustomerError, op,
				"no expense account mapped for category %q and no default configured", l.CategoryID)
		}

		if !mapped && l.CategoryID != "" {
			unmapped = append(unmapped, l.CategoryID)
		}

		out.Line = append(out.Line, qbo.BillLine{
			Amount:      qbo.Amount(l.AmountCents),
			DetailType:  qbo.DetailAccountExpense,
			Description: l.Description,
			AccountBasedExpenseLineDetail: &qbo.AccountBasedExpenseLineDetail{
				AccountRef:  qbo.Ref{Value: account},
				CustomerRef: customerRef,
			},
		})
	}

	return out, unmapped, nil
}
