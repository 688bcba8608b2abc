package sync

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/acctsync/internal/qbo/qbotest"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

// failVendorCreate makes the next n vendor creates fail with a 503.
func failVendorCreate(h *harness, n int) {
	h.srv.Fail(qbotest.Failure{Method: http.MethodPost, Entity: "vendor", Status: http.StatusServiceUnavailable, Times: n})
}

func TestSweeper_RetriesAfterBackoffOnly(t *testing.T) {
	t.Parallel()

	h := newHarness(t).connected(t)
	ctx := context.Background()

	failVendorCreate(h, 3)

	_, err := h.sync(t, store.EntityVendor, "v1")
	require.Error(t, err)

	rec := h.record(t, store.EntityVendor, "v1")
	require.Equal(t, 1, rec.Retries)

	// retries=1, base=1m: not before 2m.
	h.clock.Advance(2*time.Minute - time.Second)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Retried)
	assert.Equal(t, 1, h.record(t, store.EntityVendor, "v1").Retries)
	assert.Equal(t, store.StatusError, h.record(t, store.EntityVendor, "v1").Status)

	h.clock.Advance(time.Second)

	report, err = h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Succeeded)

	rec = h.record(t, store.EntityVendor, "v1")
	assert.Equal(t, store.StatusSuccess, rec.Status)
	assert.Len(t, h.srv.Creates("vendor"), 1, "exactly one remote object across retries")

	entries, err := h.store.ListAudit(ctx, store.AuditFilter{Function: "sweeper.run"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.EqualValues(t, 1, entries[0].Payload["succeeded"])
}

func TestSweeper_Due(t *testing.T) {
	t.Parallel()

	s := NewSweeper(SweeperConfig{
		Default: RetryPolicy{Ceiling: 5, BaseDelay: time.Minute},
		PerType: map[store.EntityType]RetryPolicy{store.EntityBill: {BaseDelay: 10 * time.Second}},
	}, nil, nil, nil)

	last := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		typ     store.EntityType
		retries int
		elapsed time.Duration
		want    bool
	}{
		{"r0 early", store.EntityVendor, 0, 59 * time.Second, false},
		{"r0 exact", store.EntityVendor, 0, time.Minute, true},
		{"r3 early", store.EntityVendor, 3, 7 * time.Minute, false},
		{"r3 exact", store.EntityVendor, 3, 8 * time.Minute, true},
		{"bill override", store.EntityBill, 2, 40 * time.Second, true},
		{"bill override early", store.EntityBill, 2, 39 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := &store.SyncRecord{
				Key:          store.Key{Type: tt.typ, ID: "x"},
				Retries:      tt.retries,
				LastSyncedAt: last,
			}
			assert.Equal(t, tt.want, s.Due(rec, last.Add(tt.elapsed)))
		})
	}
}

func TestSweeper_NeverRetriesTerminalCategories(t *testing.T) {
	t.Parallel()

	h := newHarness(t).connected(t)
	ctx := context.Background()

	h.srv.Fail(qbotest.Failure{
		Method: http.MethodPost,
		Entity: "vendor",
		Status: http.StatusBadRequest,
		Body:   `{"Fault":{"Error":[{"Message":"Invalid email","code":"2050"}],"type":"ValidationFault"}}`,
	})

	_, err := h.sync(t, store.EntityVendor, "v1")
	require.Error(t, err)
	require.Equal(t, syncerr.CategoryCustomerError, h.record(t, store.EntityVendor, "v1").ErrorType)

	h.clock.Advance(24 * time.Hour)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Zero(t, report.Retried)

	rec := h.record(t, store.EntityVendor, "v1")
	assert.Equal(t, store.StatusError, rec.Status)
	assert.Equal(t, 1, rec.Retries, "retries unchanged without a manual retrigger")

	// A manual retrigger goes straight through the orchestrator.
	out, err := h.sync(t, store.EntityVendor, "v1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSuccess, out.Status)
}

func TestSweeper_RejectedDependencyIsNotRerun(t *testing.T) {
	t.Parallel()

	h := newHarness(t).connected(t)
	ctx := context.Background()

	h.srv.Fail(qbotest.Failure{
		Method: http.MethodPost,
		Entity: "vendor",
		Status: http.StatusBadRequest,
		Body:   `{"Fault":{"Error":[{"Message":"Invalid email","code":"2050"}],"type":"ValidationFault"}}`,
	})

	_, err := h.sync(t, store.EntityVendor, "v1")
	require.Error(t, err)
	require.Equal(t, syncerr.CategoryCustomerError, h.record(t, store.EntityVendor, "v1").ErrorType)

	// The bill failed earlier for a transient reason and is due for a retry.
	billKey := h.orch.Key(store.EntityBill, "b1")
	_, err = h.store.Claim(ctx, billKey, testActor, time.Time{})
	require.NoError(t, err)
	require.NoError(t, h.store.MarkError(ctx, billKey, "timeout", syncerr.CategoryConnectivity, nil))

	requests := h.srv.Requests()

	h.clock.Advance(24 * time.Hour)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, requests, h.srv.Requests(), "the rejected vendor is not sent again")

	vendor := h.record(t, store.EntityVendor, "v1")
	assert.Equal(t, store.StatusError, vendor.Status)
	assert.Equal(t, 1, vendor.Retries)

	bill := h.record(t, store.EntityBill, "b1")
	assert.Equal(t, store.StatusError, bill.Status)
	assert.Equal(t, syncerr.CategoryCustomerError, bill.ErrorType)
	assert.Equal(t, "MissingDependency", bill.ProviderMeta["error_kind"])
	assert.Contains(t, bill.ErrorMessage, "Invalid email")

	// With the bill now customer-error the next sweep leaves both alone.
	h.clock.Advance(24 * time.Hour)

	report, err = h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
}

func TestSweeper_SkipsTokenExpired(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// No credential: the failure is reconnect-required.
	_, err := h.sync(t, store.EntityVendor, "v1")
	require.Error(t, err)
	require.Equal(t, syncerr.CategoryTokenExpired, h.record(t, store.EntityVendor, "v1").ErrorType)

	h.clock.Advance(24 * time.Hour)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Candidates)
	assert.Equal(t, 1, h.record(t, store.EntityVendor, "v1").Retries)
}

func TestSweeper_CeilingPerType(t *testing.T) {
	t.Parallel()

	h := newHarness(t, withSweeper(SweeperConfig{
		Default:     RetryPolicy{Ceiling: 5, BaseDelay: time.Second},
		PerType:     map[store.EntityType]RetryPolicy{store.EntityVendor: {Ceiling: 1}},
		Concurrency: 1,
	})).connected(t)
	ctx := context.Background()

	failVendorCreate(h, 3)

	_, err := h.sync(t, store.EntityVendor, "v1")
	require.Error(t, err)

	h.clock.Advance(time.Hour)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Skipped, "vendor ceiling of 1 reached")
	assert.Zero(t, report.Retried)
	assert.Equal(t, store.StatusError, h.record(t, store.EntityVendor, "v1").Status)
}

func TestSweeper_RecoversStaleProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t).connected(t)
	ctx := context.Background()
	key := h.orch.Key(store.EntityVendor, "v1")

	// A crashed process left the record claimed.
	_, err := h.store.Claim(ctx, key, testActor, time.Time{})
	require.NoError(t, err)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Stale, "lease still live")

	h.clock.Advance(16 * time.Minute)

	report, err = h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Stale)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, store.StatusSuccess, h.record(t, store.EntityVendor, "v1").Status)
}

func TestSweeper_ProcessesBatchConcurrently(t *testing.T) {
	t.Parallel()

	h := newHarness(t).connected(t)
	ctx := context.Background()

	// Both creates exhaust their in-call budget, then both recover in one sweep.
	for _, typ := range []store.EntityType{store.EntityVendor, store.EntityCustomer} {
		h.srv.Fail(qbotest.Failure{Method: http.MethodPost, Entity: string(typ), Status: http.StatusBadGateway, Times: 3})
	}

	_, err := h.sync(t, store.EntityVendor, "v1")
	require.Error(t, err)
	_, err = h.sync(t, store.EntityCustomer, "c1")
	require.Error(t, err)

	h.clock.Advance(time.Hour)

	report, err := h.sweeper.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Retried)
	assert.Equal(t, 2, report.Succeeded)
}

func TestSweeper_Loop(t *testing.T) {
	t.Parallel()

	h := newHarness(t).connected(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- h.sweeper.Loop(ctx, time.Hour) }()

	require.Eventually(t, func() bool {
		entries, err := h.store.ListAudit(context.Background(), store.AuditFilter{Function: "sweeper.run"})
		return err == nil && len(entries) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRecordRunner_RecoversPanic(t *testing.T) {
	t.Parallel()

	r := &recordRunner{key: store.Key{Type: store.EntityBill, ID: "b1", Provider: DefaultProvider}}

	res := r.run(context.Background(), func(context.Context) (bool, error) {
		panic("adapter exploded")
	})
	assert.True(t, res.attempted)
	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "adapter exploded")

	res = r.run(context.Background(), func(context.Context) (bool, error) {
		return true, errors.New("boom")
	})
	assert.EqualError(t, res.err, "boom")
}
