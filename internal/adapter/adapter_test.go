package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/acctsync/internal/audit"
	"github.com/tonimelisma/acctsync/internal/contacts"
	"github.com/tonimelisma/acctsync/internal/qbo"
	"github.com/tonimelisma/acctsync/internal/qbo/qbotest"
	"github.com/tonimelisma/acctsync/internal/retry"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

const testActor = "actor-1"

var testAuth = qbo.Auth{AccessToken: "access", RealmID: "9130"}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixtureDataset() *store.Dataset {
	return &store.Dataset{
		Vendors: []store.Vendor{{
			ID: "v1", ActorID: testActor, Name: "  Acme Lumber ", CompanyName: "Acme Lumber LLC",
			Email: "ap@acme.test", Phone: "555-0100",
			Address: "1 Mill Rd", City: "Portland", Region: "OR", PostalCode: "97201", Country: "US",
		}},
		Customers: []store.Customer{
			{ID: "c1", ActorID: testActor, Name: "Jane Doe", Email: "jane@example.test"},
			{ID: "c2", ActorID: testActor, Name: "O'Brien Homes"},
		},
		Projects: []store.Project{{ID: "p1", ActorID: testActor, CustomerID: "c1", Name: "Kitchen Remodel"}},
		Bills: []store.Bill{
			{
				ID: "b1", ActorID: testActor, VendorID: "v1", ProjectID: "p1", BillNumber: "INV-778",
				BillDate: "2024-04-02", DueDate: "2024-05-02", TotalCents: 125050, Memo: "Framing lumber",
				Lines: []store.BillLine{
					{Description: "2x4 studs", AmountCents: 100000, CategoryID: "cat-lumber"},
					{Description: "Delivery", AmountCents: 25050, CategoryID: "cat-freight"},
				},
			},
			{
				ID: "b2-0c4f", ActorID: testActor, VendorID: "v1", BillDate: "2024-04-03",
				TotalCents: 9900, Memo: "Dumpster rental",
			},
		},
		Invoices: []store.Invoice{
			{
				ID: "inv-42", ActorID: testActor, CustomerID: "c1",
				IssueDate: "2024-04-10", DueDate: "2024-05-10", TotalCents: 50000, Memo: "Progress billing #1",
				Lines: []store.InvoiceLine{
					{Description: "Framing labor", Quantity: 10, UnitPriceCents: 4500, AmountCents: 45000, CategoryID: "cat-labor"},
					{Description: "Permit fee", AmountCents: 5000},
				},
			},
			{
				ID: "inv-43", ActorID: testActor, CustomerID: "c1", ProjectID: "p1", InvoiceNumber: "1043",
				TotalCents: 20000,
			},
		},
		Payments: []store.Payment{
			{
				ID: "pay1", ActorID: testActor, InvoiceID: "inv-42", AmountCents: 50000,
				PaymentDate: "2024-04-20", Reference: "CHK-1042", Method: "check",
			},
			{ID: "pay2", ActorID: testActor, InvoiceID: "inv-43", AmountCents: 20000},
		},
		AccountMappings: []store.AccountMapping{
			{ActorID: testActor, CategoryID: "cat-lumber", Kind: store.MappingExpense, RemoteID: "acct-58"},
			{ActorID: testActor, CategoryID: "cat-labor", Kind: store.MappingIncome, RemoteID: "item-3"},
		},
	}
}

type fixture struct {
	store    *store.Store
	srv      *qbotest.Server
	env      *Env
	adapters map[store.EntityType]Adapter
	sleeps   []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), 0, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Import(ctx, fixtureDataset()))

	srv := qbotest.New()
	t.Cleanup(srv.Close)

	f := &fixture{store: st, srv: srv}

	exec := retry.New(testLogger()).WithSleep(func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	})

	f.env = &Env{
		API:      qbo.NewClient(srv.APIBase(), srv.Client(), testLogger(), "", 0),
		Entities: st,
		Contacts: contacts.New(st, testLogger()),
		Retry:    exec,
		Policy:   retry.Policy{MaxAttempts: 3, BaseDelay: time.Second},
		Audit:    audit.New(st, testLogger()),
		Accounts: Accounts{DefaultExpenseAccount: "acct-1", DefaultIncomeItem: "item-1"},
		Logger:   testLogger(),
	}

	f.adapters = make(map[store.EntityType]Adapter)
	for _, a := range All(f.env) {
		f.adapters[a.Type()] = a
	}

	return f
}

func (f *fixture) create(t *testing.T, typ store.EntityType, id string, deps map[store.EntityType]string) (Result, error) {
	t.Helper()

	return f.adapters[typ].CreateRemote(context.Background(), Request{
		ActorID:  testActor,
		EntityID: id,
		Auth:     testAuth,
		Deps:     deps,
	})
}

// assertGolden compares the indented request body of the only create of
// entity against testdata/golden/<name>.golden.
func assertGolden(t *testing.T, srv *qbotest.Server, entity, name string) {
	t.Helper()

	creates := srv.Creates(entity)
	require.Len(t, creates, 1)

	var buf bytes.Buffer
	require.NoError(t, json.Indent(&buf, creates[0].Body, "", "  "))
	buf.WriteByte('\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
}

func TestAll_CoversEveryEntityType(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, typ := range store.EntityTypes {
		assert.Contains(t, f.adapters, typ)
	}
}

func TestVendor_CreateTranslatesAndCaches(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.create(t, store.EntityVendor, "v1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RemoteID)
	assert.Equal(t, OpCreated, res.Meta["operation"])
	assert.Equal(t, "Acme Lumber", res.Meta["display_name"])

	assertGolden(t, f.srv, "vendor", "vendor_create")

	entry, err := f.store.LookupContact(context.Background(), testActor, store.EntityVendor, "v1")
	require.NoError(t, err)
	assert.Equal(t, res.RemoteID, entry.RemoteID)

	// Second sync is served from the cache without any provider call.
	before := f.srv.Requests()
	again, err := f.create(t, store.EntityVendor, "v1", nil)
	require.NoError(t, err)
	assert.Equal(t, res.RemoteID, again.RemoteID)
	assert.Equal(t, OpFoundExisting, again.Meta["operation"])
	assert.Equal(t, "contact_cache", again.Meta["source"])
	assert.Equal(t, before, f.srv.Requests())
}

func TestVendor_FoundByRemoteSearch(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.srv.Seed(qbo.EntityVendor, map[string]any{"DisplayName": "Acme Lumber"})

	res, err := f.create(t, store.EntityVendor, "v1", nil)
	require.NoError(t, err)
	assert.Equal(t, id, res.RemoteID)
	assert.Equal(t, OpFoundExisting, res.Meta["operation"])
	assert.Equal(t, "remote_search", res.Meta["source"])
	assert.Empty(t, f.srv.Creates("vendor"))

	entry, err := f.store.LookupContact(context.Background(), testActor, store.EntityVendor, "v1")
	require.NoError(t, err)
	assert.Equal(t, id, entry.RemoteID)
}

func TestCustomer_NameWithQuoteIsFound(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	id := f.srv.Seed(qbo.EntityCustomer, map[string]any{"DisplayName": "O'Brien Homes"})

	res, err := f.create(t, store.EntityCustomer, "c2", nil)
	require.NoError(t, err)
	assert.Equal(t, id, res.RemoteID)
	assert.Equal(t, OpFoundExisting, res.Meta["operation"])
}

func TestProject_CreatesJobUnderCustomer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	deps, err := f.adapters[store.EntityProject].Dependencies(context.Background(), testActor, "p1")
	require.NoError(t, err)
	assert.Equal(t, []store.Key{{Type: store.EntityCustomer, ID: "c1"}}, deps)

	res, err := f.create(t, store.EntityProject, "p1", map[store.EntityType]string{store.EntityCustomer: "c-5"})
	require.NoError(t, err)
	assert.Equal(t, OpCreated, res.Meta["operation"])
	assert.Equal(t, "Jane Doe:Kitchen Remodel", res.Meta["fully_qualified_name"])

	assertGolden(t, f.srv, "customer", "project_create")
}

func TestProject_FoundByFullyQualifiedName(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	parent := f.srv.Seed(qbo.EntityCustomer, map[string]any{"DisplayName": "Jane Doe"})
	job := f.srv.Seed(qbo.EntityCustomer, map[string]any{
		"DisplayName": "Kitchen Remodel",
		"Job":         true,
		"ParentRef":   map[string]any{"value": parent},
	})

	res, err := f.create(t, store.EntityProject, "p1", map[store.EntityType]string{store.EntityCustomer: parent})
	require.NoError(t, err)
	assert.Equal(t, job, res.RemoteID)
	assert.Equal(t, OpFoundExisting, res.Meta["operation"])
	assert.Empty(t, f.srv.Creates("customer"))
}

func TestBill_CreateMapsAccountsAndProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	deps, err := f.adapters[store.EntityBill].Dependencies(context.Background(), testActor, "b1")
	require.NoError(t, err)
	assert.Equal(t, []store.Key{
		{Type: store.EntityVendor, ID: "v1"},
		{Type: store.EntityProject, ID: "p1"},
	}, deps)

	res, err := f.create(t, store.EntityBill, "b1", map[store.EntityType]string{
		store.EntityVendor:  "v-9",
		store.EntityProject: "p-7",
	})
	require.NoError(t, err)
	assert.Equal(t, OpCreated, res.Meta["operation"])
	assert.Equal(t, "INV-778", res.Meta["doc_number"])
	assert.Equal(t, 2, res.Meta["line_count"])
	assert.Equal(t, false, res.Meta["synthetic_line"])
	assert.Equal(t, []string{"cat-freight"}, res.Meta["unmapped_categories"])

	assertGolden(t, f.srv, "bill", "bill_create")
}

func TestBill_SyntheticLineAndDerivedDocNumber(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.create(t, store.EntityBill, "b2-0c4f", map[store.EntityType]string{store.EntityVendor: "v-9"})
	require.NoError(t, err)
	assert.Equal(t, "Bb20c4f", res.Meta["doc_number"])
	assert.Equal(t, true, res.Meta["synthetic_line"])

	creates := f.srv.Creates("bill")
	require.Len(t, creates, 1)

	var sent qbo.Bill
	require.NoError(t, json.Unmarshal(creates[0].Body, &sent))
	require.Len(t, sent.Line, 1)
	assert.Equal(t, qbo.Amount(9900), sent.Line[0].Amount)
	assert.Equal(t, "Dumpster rental", sent.Line[0].Description)
	assert.Equal(t, "acct-1", sent.Line[0].AccountBasedExpenseLineDetail.AccountRef.Value)
	assert.Nil(t, sent.Line[0].AccountBasedExpenseLineDetail.CustomerRef)
}

func TestBill_LookupMatchesOnlySameVendor(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	deps := map[store.EntityType]string{store.EntityVendor: "v-9", store.EntityProject: "p-7"}

	f.srv.Seed(qbo.EntityBill, map[string]any{"DocNumber": "INV-778", "VendorRef": map[string]any{"value": "other"}})

	res, err := f.create(t, store.EntityBill, "b1", deps)
	require.NoError(t, err)
	assert.Equal(t, OpCreated, res.Meta["operation"])

	// The bill now exists remotely for this vendor; a repeat finds it.
	again, err := f.create(t, store.EntityBill, "b1", deps)
	require.NoError(t, err)
	assert.Equal(t, res.RemoteID, again.RemoteID)
	assert.Equal(t, OpFoundExisting, again.Meta["operation"])
	assert.Len(t, f.srv.Creates("bill"), 1)
}

func TestBill_NoAccountAvailableIsCustomerError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.env.Accounts.DefaultExpenseAccount = ""

	_, err := f.create(t, store.EntityBill, "b1", map[store.EntityType]string{
		store.EntityVendor:  "v-9",
		store.EntityProject: "p-7",
	})
	require.Error(t, err)
	assert.Equal(t, syncerr.CategoryCustomerError, syncerr.Category(err))
	assert.Empty(t, f.srv.Creates("bill"))
}

func TestBill_MissingDependencyRef(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.create(t, store.EntityBill, "b1", map[store.EntityType]string{store.EntityVendor: "v-9"})
	require.Error(t, err)
	assert.Equal(t, syncerr.KindMissingDependency, syncerr.Classify(err))
}

func TestInvoice_CreateMapsItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.create(t, store.EntityInvoice, "inv-42", map[store.EntityType]string{store.EntityCustomer: "c-5"})
	require.NoError(t, err)
	assert.Equal(t, OpCreated, res.Meta["operation"])
	assert.Equal(t, "Iinv42", res.Meta["doc_number"])
	assert.NotContains(t, res.Meta, "unmapped_categories")

	assertGolden(t, f.srv, "invoice", "invoice_create")
}

func TestInvoice_ProjectInvoiceBillsTheJob(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	deps, err := f.adapters[store.EntityInvoice].Dependencies(context.Background(), testActor, "inv-43")
	require.NoError(t, err)
	assert.Len(t, deps, 2)

	_, err = f.create(t, store.EntityInvoice, "inv-43", map[store.EntityType]string{
		store.EntityCustomer: "c-5",
		store.EntityProject:  "p-7",
	})
	require.NoError(t, err)

	creates := f.srv.Creates("invoice")
	require.Len(t, creates, 1)

	var sent qbo.Invoice
	require.NoError(t, json.Unmarshal(creates[0].Body, &sent))
	assert.Equal(t, "p-7", sent.CustomerRef.Value)
	assert.Equal(t, "1043", sent.DocNumber)
	require.Len(t, sent.Line, 1)
	assert.Equal(t, qbo.Amount(20000), sent.Line[0].Amount)
	assert.Equal(t, "Invoice 1043", sent.Line[0].Description)
}

func TestPayment_CreateLinksInvoice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	deps, err := f.adapters[store.EntityPayment].Dependencies(context.Background(), testActor, "pay1")
	require.NoError(t, err)
	assert.Equal(t, []store.Key{
		{Type: store.EntityCustomer, ID: "c1"},
		{Type: store.EntityInvoice, ID: "inv-42"},
	}, deps)

	res, err := f.create(t, store.EntityPayment, "pay1", map[store.EntityType]string{
		store.EntityCustomer: "c-5",
		store.EntityInvoice:  "i-11",
	})
	require.NoError(t, err)
	assert.Equal(t, OpCreated, res.Meta["operation"])
	assert.Equal(t, "i-11", res.Meta["invoice_ref"])

	assertGolden(t, f.srv, "payment", "payment_create")
}

func TestPayment_ProjectInvoiceDependsOnProject(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	deps, err := f.adapters[store.EntityPayment].Dependencies(context.Background(), testActor, "pay2")
	require.NoError(t, err)
	assert.Equal(t, store.Key{Type: store.EntityProject, ID: "p1"}, deps[0])
}

func TestPayment_PriorRefLookup(t *testing.T) {
	t.Parallel()

	deps := map[store.EntityType]string{store.EntityCustomer: "c-5", store.EntityInvoice: "i-11"}

	t.Run("existing", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		id := f.srv.Seed(qbo.EntityPayment, map[string]any{"TotalAmt": 500, "CustomerRef": map[string]any{"value": "c-5"}})

		res, err := f.adapters[store.EntityPayment].CreateRemote(context.Background(), Request{
			ActorID: testActor, EntityID: "pay1", Auth: testAuth, Deps: deps, PriorRef: id,
		})
		require.NoError(t, err)
		assert.Equal(t, id, res.RemoteID)
		assert.Equal(t, "provider_ref", res.Meta["source"])
		assert.Empty(t, f.srv.Creates("payment"))
	})

	t.Run("gone", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)

		res, err := f.adapters[store.EntityPayment].CreateRemote(context.Background(), Request{
			ActorID: testActor, EntityID: "pay1", Auth: testAuth, Deps: deps, PriorRef: "999",
		})
		require.NoError(t, err)
		assert.Equal(t, OpCreated, res.Meta["operation"])
		assert.Len(t, f.srv.Creates("payment"), 1)
	})
}

func TestCreate_TransientFailuresAreRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.Fail(qbotest.Failure{Method: http.MethodPost, Entity: "vendor", Status: http.StatusServiceUnavailable, Times: 2})

	res, err := f.create(t, store.EntityVendor, "v1", nil)
	require.NoError(t, err)
	assert.Equal(t, OpCreated, res.Meta["operation"])
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)

	entries, err := f.store.ListAudit(context.Background(), store.AuditFilter{
		ActorID: testActor, Function: "adapter.vendor.create",
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	for _, e := range entries {
		assert.Equal(t, store.SeverityWarn, e.Severity)
		assert.Equal(t, syncerr.CategoryConnectivity, e.ErrorType)
	}
}

func TestCreate_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.Fail(qbotest.Failure{Method: http.MethodPost, Entity: "vendor", Status: http.StatusBadGateway, Times: 5})

	_, err := f.create(t, store.EntityVendor, "v1", nil)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindMaxRetriesExceeded, syncerr.Classify(err))
	assert.Equal(t, syncerr.CategoryConnectivity, syncerr.Category(err))
	assert.Len(t, f.sleeps, 2)
}

func TestCreate_ValidationFaultIsNotRetried(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.Fail(qbotest.Failure{
		Method: http.MethodPost,
		Entity: "vendor",
		Status: http.StatusBadRequest,
		Body:   `{"Fault":{"Error":[{"Message":"Duplicate Name Exists Error","code":"6240"}],"type":"ValidationFault"}}`,
	})

	_, err := f.create(t, store.EntityVendor, "v1", nil)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindCustomerError, syncerr.Classify(err))
	assert.Contains(t, err.Error(), "Duplicate Name Exists Error")
	assert.Empty(t, f.sleeps)
}

func TestCreate_UnauthorizedPropagates(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.Fail(qbotest.Failure{Entity: "query", Status: http.StatusUnauthorized})

	_, err := f.create(t, store.EntityCustomer, "c1", nil)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindTokenExpired, syncerr.Classify(err))
	assert.Empty(t, f.sleeps)
}

func TestCreate_MissingLocalEntity(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, typ := range store.EntityTypes {
		_, err := f.create(t, typ, "does-not-exist", nil)
		require.Error(t, err, typ)
		assert.Equal(t, syncerr.CategoryCustomerError, syncerr.Category(err), typ)
	}

	assert.Zero(t, f.srv.Requests())
}

func TestDocNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, number, prefix, id, want string
	}{
		{"explicit", " 1043 ", "I", "x", "1043"},
		{"derived", "", "B", "b2-0c4f", "Bb20c4f"},
		{"derived truncated", "", "P", "5f0e2c1a-8d4b-4e6a-9f1c-2b7d3e4a5c6d", "P5f0e2c1a8d4b4e6a9f1c"},
		{"derived multibyte truncated", "", "B", "ééééééééééééééééééééééé", "Béééééééééééééééééééé"},
		{"explicit at limit", "ABCDEFGHIJKLMNOPQRSTU", "B", "x", "ABCDEFGHIJKLMNOPQRSTU"},
		{"multibyte at limit", "ÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉ", "B", "x", "ÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := docNumber("test", tt.number, tt.prefix, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, utf8.RuneCountInString(got), maxDocNumber)
		})
	}
}

func TestDocNumber_OverLengthIsCustomerError(t *testing.T) {
	t.Parallel()

	for _, number := range []string{"ABCDEFGHIJKLMNOPQRSTUVWXYZ", "ÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉÉ"} {
		_, err := docNumber("adapter.bill.doc_number", number, "B", "x")
		require.Error(t, err, number)
		assert.Equal(t, syncerr.KindCustomerError, syncerr.Classify(err), number)
	}
}

func TestBill_LongNumbersSharingAPrefixDoNotCollide(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	deps := map[store.EntityType]string{store.EntityVendor: "v-9"}

	require.NoError(t, f.store.Import(ctx, &store.Dataset{Bills: []store.Bill{
		{ID: "b-a", ActorID: testActor, VendorID: "v1", BillNumber: "ACME-2024-KITCHEN-00001-A", TotalCents: 100},
		{ID: "b-b", ActorID: testActor, VendorID: "v1", BillNumber: "ACME-2024-KITCHEN-00001-B", TotalCents: 200},
	}}))

	for _, id := range []string{"b-a", "b-b"} {
		res, err := f.create(t, store.EntityBill, id, deps)
		require.Error(t, err, id)
		assert.Equal(t, syncerr.CategoryCustomerError, syncerr.Category(err), id)
		assert.Contains(t, err.Error(), "longer than 21 characters")
		assert.Empty(t, res.RemoteID)
	}

	assert.Zero(t, f.srv.Requests(), "nothing is looked up under a cut number")
}

func TestVendor_CreateWithoutIDIsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.Fail(qbotest.Failure{
		Method: http.MethodPost,
		Entity: "vendor",
		Status: http.StatusOK,
		Body:   `{"Vendor":{"DisplayName":"Acme Lumber"}}`,
	})

	res, err := f.create(t, store.EntityVendor, "v1", nil)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindUnknown, syncerr.Classify(err))
	assert.Empty(t, res.RemoteID)

	_, err = f.store.LookupContact(context.Background(), testActor, store.EntityVendor, "v1")
	require.ErrorIs(t, err, store.ErrNotFound, "nothing cached without an id")
}

func TestCustomer_SearchRowWithoutIDIsFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.srv.Fail(qbotest.Failure{
		Entity: "query",
		Status: http.StatusOK,
		Body:   `{"QueryResponse":{"Customer":[{"DisplayName":"Jane Doe"}]}}`,
	})

	_, err := f.create(t, store.EntityCustomer, "c1", nil)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindUnknown, syncerr.Classify(err))
	assert.Empty(t, f.srv.Creates("customer"))
}
