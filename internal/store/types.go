package store

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors. Use errors.Is to check.
var (
	ErrNotFound     = errors.New("store: not found")
	ErrClaimRefused = errors.New("store: claim refused")
	ErrNotClaimed   = errors.New("store: record not processing")
)

// EntityType names a kind of syncable local entity.
type EntityType string

const (
	EntityVendor   EntityType = "vendor"
	EntityCustomer EntityType = "customer"
	EntityProject  EntityType = "project"
	EntityBill     EntityType = "bill"
	EntityInvoice  EntityType = "invoice"
	EntityPayment  EntityType = "payment"
)

// EntityTypes lists every syncable type in dependency order.
var EntityTypes = []EntityType{
	EntityVendor, EntityCustomer, EntityProject, EntityBill, EntityInvoice, EntityPayment,
}

// ParseEntityType validates s as an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, nil
		}
	}

	return "", fmt.Errorf("store: unknown entity type %q", s)
}

// Status is a sync record state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Key identifies one sync record: (entity_type, entity_id, provider).
type Key struct {
	Type     EntityType
	ID       string
	Provider string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s@%s", k.Type, k.ID, k.Provider)
}

// SyncRecord is the persisted state-machine row for one Key.
type SyncRecord struct {
	Key
	Status       Status
	ProviderRef  string
	ProviderMeta map[string]any
	ErrorMessage string
	ErrorType    string
	Retries      int
	LastSyncedAt time.Time // zero until the first terminal outcome
	ActorID      string
	ClaimedAt    time.Time // zero unless processing
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credential is one OAuth connection to the provider for an actor.
type Credential struct {
	ID           string
	ActorID      string
	RealmID      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ContactEntry maps a local vendor/customer to its remote id.
type ContactEntry struct {
	ActorID     string
	ContactType EntityType
	LocalID     string
	RemoteID    string
	Snapshot    map[string]any
	UpdatedAt   time.Time
}

// Severity of an audit entry.
type Severity string

const (
	SeverityDebug Severity = "debug"
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// AuditEntry is one append-only audit log row.
type AuditEntry struct {
	ID        string
	CreatedAt time.Time
	ActorID   string
	Function  string
	Payload   map[string]any
	Error     string
	ErrorType string
	Severity  Severity
}

// Local entities. Amounts are integer cents; dates are YYYY-MM-DD strings.

type Vendor struct {
	ID          string `json:"id"`
	ActorID     string `json:"actor_id"`
	Name        string `json:"name"`
	CompanyName string `json:"company_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	Region      string `json:"region,omitempty"`
	PostalCode  string `json:"postal_code,omitempty"`
	Country     string `json:"country,omitempty"`
}

type Customer struct {
	ID          string `json:"id"`
	ActorID     string `json:"actor_id"`
	Name        string `json:"name"`
	CompanyName string `json:"company_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type Project struct {
	ID         string `json:"id"`
	ActorID    string `json:"actor_id"`
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
}

type BillLine struct {
	Description string `json:"description,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	CategoryID  string `json:"category_id,omitempty"`
}

type Bill struct {
	ID         string     `json:"id"`
	ActorID    string     `json:"actor_id"`
	VendorID   string     `json:"vendor_id"`
	ProjectID  string     `json:"project_id,omitempty"`
	BillNumber string     `json:"bill_number,omitempty"`
	BillDate   string     `json:"bill_date,omitempty"`
	DueDate    string     `json:"due_date,omitempty"`
	TotalCents int64      `json:"total_cents"`
	Memo       string     `json:"memo,omitempty"`
	Lines      []BillLine `json:"lines,omitempty"`
}

type InvoiceLine struct {
	Description    string  `json:"description,omitempty"`
	Quantity       float64 `json:"quantity,omitempty"`
	UnitPriceCents int64   `json:"unit_price_cents,omitempty"`
	AmountCents    int64   `json:"amount_cents"`
	CategoryID     string  `json:"category_id,omitempty"`
}

type Invoice struct {
	ID            string        `json:"id"`
	ActorID       string        `json:"actor_id"`
	CustomerID    string        `json:"customer_id"`
	ProjectID     string        `json:"project_id,omitempty"`
	InvoiceNumber string        `json:"invoice_number,omitempty"`
	IssueDate     string        `json:"issue_date,omitempty"`
	DueDate       string        `json:"due_date,omitempty"`
	TotalCents    int64         `json:"total_cents"`
	Memo          string        `json:"memo,omitempty"`
	Lines         []InvoiceLine `json:"lines,omitempty"`
}

type Payment struct {
	ID          string `json:"id"`
	ActorID     string `json:"actor_id"`
	InvoiceID   string `json:"invoice_id"`
	AmountCents int64  `json:"amount_cents"`
	PaymentDate string `json:"payment_date,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Method      string `json:"method,omitempty"`
}

// MappingKind selects which side of the ledger a category maps to.
type MappingKind string

const (
	MappingExpense MappingKind = "expense"
	MappingIncome  MappingKind = "income"
)

// AccountMapping maps a local category to a remote account (expense) or
// item (income).
type AccountMapping struct {
	ActorID    string      `json:"actor_id"`
	CategoryID string      `json:"category_id"`
	Kind       MappingKind `json:"kind"`
	RemoteID   string      `json:"remote_id"`
	RemoteName string      `json:"remote_name,omitempty"`
}
