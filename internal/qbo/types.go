package qbo

import (
	"fmt"
	"strconv"
	"strings"
)

// Entity names as used in query statements, endpoint paths and response
// envelopes.
const (
	EntityVendor   = "Vendor"
	EntityCustomer = "Customer"
	EntityBill     = "Bill"
	EntityInvoice  = "Invoice"
	EntityPayment  = "Payment"
)

// Line detail types.
const (
	DetailAccountExpense = "AccountBasedExpenseLineDetail"
	DetailSalesItem      = "SalesItemLineDetail"
)

// Amount is a currency value in minor units (cents). It marshals as a JSON
// number with exactly two fraction digits so no float rounding is involved.
type Amount int64

// MarshalJSON renders the amount as a decimal number, e.g. 1250.5 → 1250.50.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON parses a decimal JSON number into minor units. More than two
// fraction digits are rejected rather than silently rounded.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)

	v, err := ParseAmount(s)
	if err != nil {
		return err
	}

	*a = v

	return nil
}

func (a Amount) String() string {
	v := int64(a)

	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}

	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseAmount parses a decimal string such as "12", "12.5" or "-3.07".
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("qbo: empty amount")
	}

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		return 0, fmt.Errorf("qbo: amount %q has more than two fraction digits", s)
	}

	for len(frac) < 2 {
		frac += "0"
	}

	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("qbo: parsing amount %q: %w", s, err)
	}

	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("qbo: parsing amount %q: %w", s, err)
	}

	v := w*100 + f
	if neg {
		v = -v
	}

	return Amount(v), nil
}

// Ref points at another provider object.
type Ref struct {
	Value string `json:"value"`
	Name  string `json:"name,omitempty"`
}

// EmailAddress is the provider's e-mail wrapper.
type EmailAddress struct {
	Address string `json:"Address"`
}

// TelephoneNumber is the provider's phone wrapper.
type TelephoneNumber struct {
	FreeFormNumber string `json:"FreeFormNumber"`
}

// PhysicalAddress is a postal address.
type PhysicalAddress struct {
	Line1                  string `json:"Line1,omitempty"`
	City                   string `json:"City,omitempty"`
	CountrySubDivisionCode string `json:"CountrySubDivisionCode,omitempty"`
	PostalCode             string `json:"PostalCode,omitempty"`
	Country                string `json:"Country,omitempty"`
}

// Vendor is a supplier contact.
type Vendor struct {
	ID               string           `json:"Id,omitempty"`
	SyncToken        string           `json:"SyncToken,omitempty"`
	DisplayName      string           `json:"DisplayName"`
	CompanyName      string           `json:"CompanyName,omitempty"`
	PrimaryEmailAddr *EmailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone     *TelephoneNumber `json:"PrimaryPhone,omitempty"`
	BillAddr         *PhysicalAddress `json:"BillAddr,omitempty"`
}

// Customer is a client contact. A customer with Job=true and a ParentRef is
// a sub-customer, which is how projects are represented.
type Customer struct {
	ID                 string           `json:"Id,omitempty"`
	SyncToken          string           `json:"SyncToken,omitempty"`
	DisplayName        string           `json:"DisplayName"`
	FullyQualifiedName string           `json:"FullyQualifiedName,omitempty"`
	CompanyName        string           `json:"CompanyName,omitempty"`
	PrimaryEmailAddr   *EmailAddress    `json:"PrimaryEmailAddr,omitempty"`
	PrimaryPhone       *TelephoneNumber `json:"PrimaryPhone,omitempty"`
	Job                bool             `json:"Job,omitempty"`
	ParentRef          *Ref             `json:"ParentRef,omitempty"`
	BillWithParent     bool             `json:"BillWithParent,omitempty"`
}

// AccountBasedExpenseLineDetail books a bill line against an account.
type AccountBasedExpenseLineDetail struct {
	AccountRef  Ref  `json:"AccountRef"`
	CustomerRef *Ref `json:"CustomerRef,omitempty"`
}

// BillLine is one expense line of a bill.
type BillLine struct {
	Amount                        Amount                         `json:"Amount"`
	DetailType                    string                         `json:"DetailType"`
	Description                   string                         `json:"Description,omitempty"`
	AccountBasedExpenseLineDetail *AccountBasedExpenseLineDetail `json:"AccountBasedExpenseLineDetail,omitempty"`
}

// Bill is a vendor bill (accounts payable).
type Bill struct {
	ID          string     `json:"Id,omitempty"`
	SyncToken   string     `json:"SyncToken,omitempty"`
	VendorRef   Ref        `json:"VendorRef"`
	DocNumber   string     `json:"DocNumber,omitempty"`
	TxnDate     string     `json:"TxnDate,omitempty"`
	DueDate     string     `json:"DueDate,omitempty"`
	PrivateNote string     `json:"PrivateNote,omitempty"`
	Line        []BillLine `json:"Line"`
	TotalAmt    *Amount    `json:"TotalAmt,omitempty"`
}

// SalesItemLineDetail books an invoice line against a product/service item.
type SalesItemLineDetail struct {
	ItemRef   Ref     `json:"ItemRef"`
	Qty       float64 `json:"Qty,omitempty"`
	UnitPrice *Amount `json:"UnitPrice,omitempty"`
}

// InvoiceLine is one sales line of an invoice.
type InvoiceLine struct {
	Amount              Amount               `json:"Amount"`
	DetailType          string               `json:"DetailType"`
	Description         string               `json:"Description,omitempty"`
	SalesItemLineDetail *SalesItemLineDetail `json:"SalesItemLineDetail,omitempty"`
}

// Invoice is a customer invoice (accounts receivable).
type Invoice struct {
	ID            string        `json:"Id,omitempty"`
	SyncToken     string        `json:"SyncToken,omitempty"`
	CustomerRef   Ref           `json:"CustomerRef"`
	DocNumber     string        `json:"DocNumber,omitempty"`
	TxnDate       string        `json:"TxnDate,omitempty"`
	DueDate       string        `json:"DueDate,omitempty"`
	CustomerMemo  *MemoRef      `json:"CustomerMemo,omitempty"`
	Line          []InvoiceLine `json:"Line"`
	TotalAmt      *Amount       `json:"TotalAmt,omitempty"`
	Balance       *Amount       `json:"Balance,omitempty"`
	PrivateNote   string        `json:"PrivateNote,omitempty"`
	ApplyTaxAfter bool          `json:"ApplyTaxAfterDiscount,omitempty"`
}

// MemoRef is the provider's wrapper for free-text memos shown to customers.
type MemoRef struct {
	Value string `json:"value"`
}

// LinkedTxn ties a payment line to the transaction it settles.
type LinkedTxn struct {
	TxnID   string `json:"TxnId"`
	TxnType string `json:"TxnType"`
}

// PaymentLine applies part of a payment to linked transactions.
type PaymentLine struct {
	Amount    Amount      `json:"Amount"`
	LinkedTxn []LinkedTxn `json:"LinkedTxn"`
}

// Payment is a received customer payment.
type Payment struct {
	ID            string        `json:"Id,omitempty"`
	SyncToken     string        `json:"SyncToken,omitempty"`
	CustomerRef   Ref           `json:"CustomerRef"`
	TotalAmt      Amount        `json:"TotalAmt"`
	TxnDate       string        `json:"TxnDate,omitempty"`
	PaymentRefNum string        `json:"PaymentRefNum,omitempty"`
	PrivateNote   string        `json:"PrivateNote,omitempty"`
	Line          []PaymentLine `json:"Line,omitempty"`
}
