package token

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/acctsync/internal/audit"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

const (
	testClientID     = "client-abc"
	testClientSecret = "secret-xyz"
	testActor        = "actor-1"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// tokenServer is a fake token endpoint. handler decides the response; the
// request is validated for Basic client auth and the refresh grant.
type tokenServer struct {
	t        *testing.T
	calls    atomic.Int32
	lastForm atomic.Value
	respond  func(w http.ResponseWriter)
}

func (ts *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ts.calls.Add(1)

	user, pass, ok := r.BasicAuth()
	assert.True(ts.t, ok, "client credentials must be sent with HTTP Basic auth")
	assert.Equal(ts.t, testClientID, user)
	assert.Equal(ts.t, testClientSecret, pass)

	require.NoError(ts.t, r.ParseForm())
	assert.Equal(ts.t, "refresh_token", r.PostForm.Get("grant_type"))
	assert.Empty(ts.t, r.PostForm.Get("client_secret"), "secret must not be in the body")
	ts.lastForm.Store(r.PostForm.Get("refresh_token"))

	ts.respond(w)
}

func jsonResponse(status int, body string) func(http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

type fixture struct {
	mgr   *Manager
	store *store.Store
	srv   *tokenServer
}

func newFixture(t *testing.T, respond func(http.ResponseWriter)) *fixture {
	t.Helper()

	ctx := context.Background()

	st, err := store.Open(ctx, filepath.Join(t.TempDir(), "test.db"), 0, testLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ts := &tokenServer{t: t, respond: respond}
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	mgr := NewManager(Config{
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		TokenURL:     srv.URL + "/oauth2/v1/tokens/bearer",
		HTTPClient:   srv.Client(),
	}, st, audit.New(st, testLogger(t)), testLogger(t))
	mgr.nowFunc = func() time.Time { return testNow }

	return &fixture{mgr: mgr, store: st, srv: ts}
}

func (f *fixture) seed(t *testing.T, expiresAt time.Time) *store.Credential {
	t.Helper()

	c := &store.Credential{
		ActorID:      testActor,
		RealmID:      "9130",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    expiresAt,
	}
	require.NoError(t, f.store.SaveCredential(context.Background(), c))

	return c
}

func (f *fixture) auditFunctions(t *testing.T) []string {
	t.Helper()

	entries, err := f.store.ListAudit(context.Background(), store.AuditFilter{ActorID: testActor})
	require.NoError(t, err)

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Function)
	}

	return out
}

func TestEnsureValid_MissingConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, jsonResponse(http.StatusOK, `{}`))

	_, err := f.mgr.EnsureValid(context.Background(), testActor)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindMissingConnection, syncerr.Classify(err))
	assert.Equal(t, syncerr.CategoryTokenExpired, syncerr.Category(err))
	assert.Zero(t, f.srv.calls.Load())
}

func TestEnsureValid_OutsideWindowReused(t *testing.T) {
	t.Parallel()

	f := newFixture(t, jsonResponse(http.StatusOK, `{}`))
	seeded := f.seed(t, testNow.Add(DefaultRefreshWindow+time.Second))

	got, err := f.mgr.EnsureValid(context.Background(), testActor)
	require.NoError(t, err)
	assert.Equal(t, "old-access", got.AccessToken)
	assert.Equal(t, seeded.ID, got.ID)
	assert.Zero(t, f.srv.calls.Load())
}

func TestEnsureValid_BoundaryIsRefreshed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, jsonResponse(http.StatusOK,
		`{"access_token":"new-access","token_type":"bearer","expires_in":3600,"refresh_token":"new-refresh"}`))
	f.seed(t, testNow.Add(DefaultRefreshWindow))

	got, err := f.mgr.EnsureValid(context.Background(), testActor)
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.srv.calls.Load())
	assert.Equal(t, "old-refresh", f.srv.lastForm.Load())
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "new-refresh", got.RefreshToken)

	stored, err := f.store.LatestCredential(context.Background(), testActor)
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored.AccessToken)
	assert.Equal(t, "new-refresh", stored.RefreshToken)
	assert.True(t, stored.ExpiresAt.After(testNow))

	fns := f.auditFunctions(t)
	assert.Contains(t, fns, "token.refresh.attempt")
	assert.Contains(t, fns, "token.refresh.success")
}

func TestEnsureValid_PreservesRefreshTokenAndDefaultsExpiry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, jsonResponse(http.StatusOK, `{"access_token":"new-access","token_type":"bearer"}`))
	f.seed(t, testNow.Add(-time.Minute))

	got, err := f.mgr.EnsureValid(context.Background(), testActor)
	require.NoError(t, err)
	assert.Equal(t, "old-refresh", got.RefreshToken)
	assert.True(t, testNow.Add(time.Hour).Equal(got.ExpiresAt))

	stored, err := f.store.LatestCredential(context.Background(), testActor)
	require.NoError(t, err)
	assert.Equal(t, "old-refresh", stored.RefreshToken)
}

func TestEnsureValid_RejectedRefreshDeletesCredential(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		respond func(http.ResponseWriter)
	}{
		{"unauthorized", jsonResponse(http.StatusUnauthorized, `{"error":"invalid_client"}`)},
		{"invalid grant", jsonResponse(http.StatusBadRequest, `{"error":"invalid_grant"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.respond)
			f.seed(t, testNow)

			_, err := f.mgr.EnsureValid(context.Background(), testActor)
			require.Error(t, err)
			assert.Equal(t, syncerr.KindTokenExpired, syncerr.Classify(err))
			assert.Equal(t, syncerr.CategoryTokenExpired, syncerr.Category(err))
			assert.False(t, syncerr.Retryable(err))

			_, err = f.store.LatestCredential(context.Background(), testActor)
			require.ErrorIs(t, err, store.ErrNotFound)

			assert.Contains(t, f.auditFunctions(t), "token.invalidate")

			// Subsequent calls fail fast without touching the endpoint.
			_, err = f.mgr.EnsureValid(context.Background(), testActor)
			assert.Equal(t, syncerr.KindMissingConnection, syncerr.Classify(err))
			assert.Equal(t, int32(1), f.srv.calls.Load())
		})
	}
}

func TestEnsureValid_TransientFailureKeepsCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t, jsonResponse(http.StatusServiceUnavailable, `{"error":"temporarily_unavailable"}`))
	f.seed(t, testNow)

	_, err := f.mgr.EnsureValid(context.Background(), testActor)
	require.Error(t, err)
	assert.Equal(t, syncerr.KindConnectivity, syncerr.Classify(err))

	stored, err := f.store.LatestCredential(context.Background(), testActor)
	require.NoError(t, err)
	assert.Equal(t, "old-access", stored.AccessToken)

	entries, err := f.store.ListAudit(context.Background(), store.AuditFilter{ActorID: testActor, Function: "token.refresh"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, syncerr.CategoryConnectivity, entries[0].ErrorType)
}

func TestEnsureValid_ConcurrentCallersRefreshOnce(t *testing.T) {
	t.Parallel()

	f := newFixture(t, jsonResponse(http.StatusOK,
		`{"access_token":"new-access","token_type":"bearer","expires_in":3600}`))
	f.seed(t, testNow)

	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			got, err := f.mgr.EnsureValid(context.Background(), testActor)
			assert.NoError(t, err)

			if got != nil {
				assert.Equal(t, "new-access", got.AccessToken)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), f.srv.calls.Load())
}

func TestEnsureValid_RotationIsAudited(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		rotated bool
	}{
		{"new refresh token", `{"access_token":"a2","token_type":"bearer","refresh_token":"new-refresh"}`, true},
		{"same refresh token echoed", `{"access_token":"a2","token_type":"bearer","refresh_token":"old-refresh"}`, false},
		{"refresh token omitted", `{"access_token":"a2","token_type":"bearer"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, jsonResponse(http.StatusOK, tt.body))
			f.seed(t, testNow)

			_, err := f.mgr.EnsureValid(context.Background(), testActor)
			require.NoError(t, err)

			entries, err := f.store.ListAudit(context.Background(),
				store.AuditFilter{ActorID: testActor, Function: "token.refresh.success"})
			require.NoError(t, err)
			require.Len(t, entries, 1)
			assert.Equal(t, tt.rotated, entries[0].Payload["refresh_token_rotated"])
		})
	}
}

func TestEnsureValid_JoinedCallerSurvivesFirstCallersCancel(t *testing.T) {
	t.Parallel()

	reached := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	f := newFixture(t, func(w http.ResponseWriter) {
		once.Do(func() { close(reached) })
		<-release
		jsonResponse(http.StatusOK, `{"access_token":"new-access","token_type":"bearer","expires_in":3600}`)(w)
	})
	f.seed(t, testNow)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)

	go func() {
		_, err := f.mgr.EnsureValid(firstCtx, testActor)
		firstErr <- err
	}()

	<-reached

	type result struct {
		cred *store.Credential
		err  error
	}

	second := make(chan result, 1)

	go func() {
		c, err := f.mgr.EnsureValid(context.Background(), testActor)
		second <- result{c, err}
	}()

	// Give the second caller time to join the in-flight refresh.
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "new-access", got.cred.AccessToken)
	assert.Equal(t, int32(1), f.srv.calls.Load())

	stored, err := f.store.LatestCredential(context.Background(), testActor)
	require.NoError(t, err)
	assert.Equal(t, "new-access", stored.AccessToken, "the refresh completed despite the cancel")
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t, jsonResponse(http.StatusOK, `{}`))
	f.seed(t, testNow.Add(time.Hour))

	require.NoError(t, f.mgr.Invalidate(context.Background(), testActor, "api returned 401"))

	_, err := f.store.LatestCredential(context.Background(), testActor)
	require.ErrorIs(t, err, store.ErrNotFound)
}
