package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: %s %s: %w", what, id, ErrNotFound)
	}

	return fmt.Errorf("store: loading %s %s: %w", what, id, err)
}

// entityTables maps each syncable type to its local table.
var entityTables = map[EntityType]string{
	EntityVendor:   "vendors",
	EntityCustomer: "customers",
	EntityProject:  "projects",
	EntityBill:     "bills",
	EntityInvoice:  "invoices",
	EntityPayment:  "payments",
}

// EntityOwner returns the actor that owns a local entity, or ErrNotFound.
func (s *Store) EntityOwner(ctx context.Context, t EntityType, id string) (string, error) {
	table, ok := entityTables[t]
	if !ok {
		return "", fmt.Errorf("store: unknown entity type %q", t)
	}

	var owner string

	err := s.db.QueryRowContext(ctx, `SELECT actor_id FROM `+table+` WHERE id = ?`, id).Scan(&owner)
	if err != nil {
		return "", notFound(err, string(t), id)
	}

	return owner, nil
}

// GetVendor loads one local vendor.
func (s *Store) GetVendor(ctx context.Context, id string) (*Vendor, error) {
	var (
		v                                                   Vendor
		company, email, phone, addr, city, region, zip, cty sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `SELECT id, actor_id, name, company_name, email, phone,
		address, city, region, postal_code, country FROM vendors WHERE id = ?`, id).Scan(
		&v.ID, &v.ActorID, &v.Name, &company, &email, &phone, &addr, &city, &region, &zip, &cty)
	if err != nil {
		return nil, notFound(err, "vendor", id)
	}

	v.CompanyName, v.Email, v.Phone = company.String, email.String, phone.String
	v.Address, v.City, v.Region, v.PostalCode, v.Country = addr.String, city.String, region.String, zip.String, cty.String

	return &v, nil
}

// GetCustomer loads one local customer (client).
func (s *Store) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	var (
		c                     Customer
		company, email, phone sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `SELECT id, actor_id, name, company_name, email, phone
		FROM customers WHERE id = ?`, id).Scan(&c.ID, &c.ActorID, &c.Name, &company, &email, &phone)
	if err != nil {
		return nil, notFound(err, "customer", id)
	}

	c.CompanyName, c.Email, c.Phone = company.String, email.String, phone.String

	return &c, nil
}

// GetProject loads one local project.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project

	err := s.db.QueryRowContext(ctx, `SELECT id, actor_id, customer_id, name FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.ActorID, &p.CustomerID, &p.Name)
	if err != nil {
		return nil, notFound(err, "project", id)
	}

	return &p, nil
}

// GetBill loads one local bill with its lines in position order.
func (s *Store) GetBill(ctx context.Context, id string) (*Bill, error) {
	var (
		b                                Bill
		project, number, date, due, memo sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `SELECT id, actor_id, vendor_id, project_id, bill_number,
		bill_date, due_date, total_cents, memo FROM bills WHERE id = ?`, id).Scan(
		&b.ID, &b.ActorID, &b.VendorID, &project, &number, &date, &due, &b.TotalCents, &memo)
	if err != nil {
		return nil, notFound(err, "bill", id)
	}

	b.ProjectID, b.BillNumber, b.BillDate, b.DueDate, b.Memo =
		project.String, number.String, date.String, due.String, memo.String

	rows, err := s.db.QueryContext(ctx, `SELECT description, amount_cents, category_id
		FROM bill_lines WHERE bill_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("store: loading bill %s lines: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l         BillLine
			desc, cat sql.NullString
		)

		if err := rows.Scan(&desc, &l.AmountCents, &cat); err != nil {
			return nil, fmt.Errorf("store: scanning bill %s line: %w", id, err)
		}

		l.Description, l.CategoryID = desc.String, cat.String
		b.Lines = append(b.Lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating bill %s lines: %w", id, err)
	}

	return &b, nil
}

// GetInvoice loads one local invoice with its lines in position order.
func (s *Store) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	var (
		inv                              Invoice
		project, number, date, due, memo sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `SELECT id, actor_id, customer_id, project_id, invoice_number,
		issue_date, due_date, total_cents, memo FROM invoices WHERE id = ?`, id).Scan(
		&inv.ID, &inv.ActorID, &inv.CustomerID, &project, &number, &date, &due, &inv.TotalCents, &memo)
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}

	inv.ProjectID, inv.InvoiceNumber, inv.IssueDate, inv.DueDate, inv.Memo =
		project.String, number.String, date.String, due.String, memo.String

	rows, err := s.db.QueryContext(ctx, `SELECT description, quantity, unit_price_cents, amount_cents, category_id
		FROM invoice_lines WHERE invoice_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("store: loading invoice %s lines: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l         InvoiceLine
			desc, cat sql.NullString
		)

		if err := rows.Scan(&desc, &l.Quantity, &l.UnitPriceCents, &l.AmountCents, &cat); err != nil {
			return nil, fmt.Errorf("store: scanning invoice %s line: %w", id, err)
		}

		l.Description, l.CategoryID = desc.String, cat.String
		inv.Lines = append(inv.Lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating invoice %s lines: %w", id, err)
	}

	return &inv, nil
}

// GetPayment loads one local payment.
func (s *Store) GetPayment(ctx context.Context, id string) (*Payment, error) {
	var (
		p                 Payment
		date, ref, method sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `SELECT id, actor_id, invoice_id, amount_cents, payment_date,
		reference, method FROM payments WHERE id = ?`, id).Scan(
		&p.ID, &p.ActorID, &p.InvoiceID, &p.AmountCents, &date, &ref, &method)
	if err != nil {
		return nil, notFound(err, "payment", id)
	}

	p.PaymentDate, p.Reference, p.Method = date.String, ref.String, method.String

	return &p, nil
}

// AccountMapping returns the remote account/item mapped to a local category,
// or ErrNotFound when the user has not mapped it.
func (s *Store) AccountMapping(ctx context.Context, actorID, categoryID string, kind MappingKind) (*AccountMapping, error) {
	var (
		m    AccountMapping
		name sql.NullString
	)

	err := s.db.QueryRowContext(ctx, `SELECT actor_id, category_id, kind, remote_id, remote_name
		FROM account_mappings WHERE actor_id = ? AND category_id = ? AND kind = ?`,
		actorID, categoryID, kind).Scan(&m.ActorID, &m.CategoryID, &m.Kind, &m.RemoteID, &name)
	if err != nil {
		return nil, notFound(err, "account mapping", categoryID)
	}

	m.RemoteName = name.String

	return &m, nil
}

// Dataset is a bulk load of local entities, used by `acctsync import` and
// test fixtures.
type Dataset struct {
	Vendors         []Vendor         `json:"vendors,omitempty"`
	Customers       []Customer       `json:"customers,omitempty"`
	Projects        []Project        `json:"projects,omitempty"`
	Bills           []Bill           `json:"bills,omitempty"`
	Invoices        []Invoice        `json:"invoices,omitempty"`
	Payments        []Payment        `json:"payments,omitempty"`
	AccountMappings []AccountMapping `json:"account_mappings,omitempty"`
}

// Import upserts every entity of d in one transaction. Lines of an imported
// bill or invoice replace its previous lines.
func (s *Store) Import(ctx context.Context, d *Dataset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning import: %w", err)
	}
	defer tx.Rollback()

	now := toNanos(s.nowFunc())

	for i := range d.Vendors {
		if err := putVendor(ctx, tx, &d.Vendors[i], now); err != nil {
			return err
		}
	}

	for i := range d.Customers {
		if err := putCustomer(ctx, tx, &d.Customers[i], now); err != nil {
			return err
		}
	}

	for i := range d.Projects {
		p := &d.Projects[i]

		if _, err := tx.ExecContext(ctx, `INSERT INTO projects (id, actor_id, customer_id, name, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET actor_id = excluded.actor_id,
			 customer_id = excluded.customer_id, name = excluded.name`,
			p.ID, p.ActorID, p.CustomerID, p.Name, now); err != nil {
			return fmt.Errorf("store: importing project %s: %w", p.ID, err)
		}
	}

	for i := range d.Bills {
		if err := putBill(ctx, tx, &d.Bills[i], now); err != nil {
			return err
		}
	}

	for i := range d.Invoices {
		if err := putInvoice(ctx, tx, &d.Invoices[i], now); err != nil {
			return err
		}
	}

	for i := range d.Payments {
		p := &d.Payments[i]

		if _, err := tx.ExecContext(ctx, `INSERT INTO payments
			(id, actor_id, invoice_id, amount_cents, payment_date, reference, method, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET actor_id = excluded.actor_id,
			 invoice_id = excluded.invoice_id, amount_cents = excluded.amount_cents,
			 payment_date = excluded.payment_date, reference = excluded.reference,
			 method = excluded.method`,
			p.ID, p.ActorID, p.InvoiceID, p.AmountCents, nullString(p.PaymentDate),
			nullString(p.Reference), nullString(p.Method), now); err != nil {
			return fmt.Errorf("store: importing payment %s: %w", p.ID, err)
		}
	}

	for i := range d.AccountMappings {
		m := &d.AccountMappings[i]

		if _, err := tx.ExecContext(ctx, `INSERT INTO account_mappings
			(actor_id, category_id, kind, remote_id, remote_name)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(actor_id, category_id, kind) DO UPDATE SET
			 remote_id = excluded.remote_id, remote_name = excluded.remote_name`,
			m.ActorID, m.CategoryID, m.Kind, m.RemoteID, nullString(m.RemoteName)); err != nil {
			return fmt.Errorf("store: importing account mapping %s: %w", m.CategoryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing import: %w", err)
	}

	s.logger.Info("dataset imported",
		slog.Int("vendors", len(d.Vendors)),
		slog.Int("customers", len(d.Customers)),
		slog.Int("projects", len(d.Projects)),
		slog.Int("bills", len(d.Bills)),
		slog.Int("invoices", len(d.Invoices)),
		slog.Int("payments", len(d.Payments)),
		slog.Int("account_mappings", len(d.AccountMappings)),
	)

	return nil
}

func putVendor(ctx context.Context, db execer, v *Vendor, now int64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO vendors
		(id, actor_id, name, company_name, email, phone, address, city, region, postal_code, country, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET actor_id = excluded.actor_id, name = excluded.name,
		 company_name = excluded.company_name, email = excluded.email, phone = excluded.phone,
		 address = excluded.address, city = excluded.city, region = excluded.region,
		 postal_code = excluded.postal_code, country = excluded.country`,
		v.ID, v.ActorID, v.Name, nullString(v.CompanyName), nullString(v.Email), nullString(v.Phone),
		nullString(v.Address), nullString(v.City), nullString(v.Region), nullString(v.PostalCode),
		nullString(v.Country), now)
	if err != nil {
		return fmt.Errorf("store: importing vendor %s: %w", v.ID, err)
	}

	return nil
}

func putCustomer(ctx context.Context, db execer, c *Customer, now int64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO customers
		(id, actor_id, name, company_name, email, phone, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET actor_id = excluded.actor_id, name = excluded.name,
		 company_name = excluded.company_name, email = excluded.email, phone = excluded.phone`,
		c.ID, c.ActorID, c.Name, nullString(c.CompanyName), nullString(c.Email), nullString(c.Phone), now)
	if err != nil {
		return fmt.Errorf("store: importing customer %s: %w", c.ID, err)
	}

	return nil
}

func putBill(ctx context.Context, db execer, b *Bill, now int64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO bills
		(id, actor_id, vendor_id, project_id, bill_number, bill_date, due_date, total_cents, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET actor_id = excluded.actor_id, vendor_id = excluded.vendor_id,
		 project_id = excluded.project_id, bill_number = excluded.bill_number,
		 bill_date = excluded.bill_date, due_date = excluded.due_date,
		 total_cents = excluded.total_cents, memo = excluded.memo`,
		b.ID, b.ActorID, b.VendorID, nullString(b.ProjectID), nullString(b.BillNumber),
		nullString(b.BillDate), nullString(b.DueDate), b.TotalCents, nullString(b.Memo), now)
	if err != nil {
		return fmt.Errorf("store: importing bill %s: %w", b.ID, err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM bill_lines WHERE bill_id = ?`, b.ID); err != nil {
		return fmt.Errorf("store: clearing bill %s lines: %w", b.ID, err)
	}

	for i, l := range b.Lines {
		if _, err := db.ExecContext(ctx, `INSERT INTO bill_lines
			(bill_id, position, description, amount_cents, category_id) VALUES (?, ?, ?, ?, ?)`,
			b.ID, i, nullString(l.Description), l.AmountCents, nullString(l.CategoryID)); err != nil {
			return fmt.Errorf("store: importing bill %s line %d: %w", b.ID, i, err)
		}
	}

	return nil
}

func putInvoice(ctx context.Context, db execer, inv *Invoice, now int64) error {
	_, err := db.ExecContext(ctx, `INSERT INTO invoices
		(id, actor_id, customer_id, project_id, invoice_number, issue_date, due_date, total_cents, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET actor_id = excluded.actor_id, customer_id = excluded.customer_id,
		 project_id = excluded.project_id, invoice_number = excluded.invoice_number,
		 issue_date = excluded.issue_date, due_date = excluded.due_date,
		 total_cents = excluded.total_cents, memo = excluded.memo`,
		inv.ID, inv.ActorID, inv.CustomerID, nullString(inv.ProjectID), nullString(inv.InvoiceNumber),
		nullString(inv.IssueDate), nullString(inv.DueDate), inv.TotalCents, nullString(inv.Memo), now)
	if err != nil {
		return fmt.Errorf("store: importing invoice %s: %w", inv.ID, err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = ?`, inv.ID); err != nil {
		return fmt.Errorf("store: clearing invoice %s lines: %w", inv.ID, err)
	}

	for i, l := range inv.Lines {
		qty := l.Quantity
		if qty == 0 {
			qty = 1
		}

		if _, err := db.ExecContext(ctx, `INSERT INTO invoice_lines
			(invoice_id, position, description, quantity, unit_price_cents, amount_cents, category_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, i, nullString(l.Description), qty, l.UnitPriceCents, l.AmountCents,
			nullString(l.CategoryID)); err != nil {
			return fmt.Errorf("store: importing invoice %s line %d: %w", inv.ID, i, err)
		}
	}

	return nil
}
