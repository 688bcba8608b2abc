// Package token owns the OAuth access/refresh token lifecycle of each actor's
// accounting connection. Credentials are refreshed proactively inside a
// safety window before expiry and deleted when the provider rejects the
// refresh token, which forces the user to reconnect.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/acctsync/internal/audit"
	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/syncerr"
)

const (
	// DefaultRefreshWindow is how close to expiry a credential is refreshed.
	DefaultRefreshWindow = 2 * time.Minute

	// defaultLifetime is assumed when the token response carries no expiry.
	defaultLifetime = time.Hour

	errInvalidGrant = "invalid_grant"
)

// CredentialStore is the persistence the manager needs. *store.Store
// satisfies it.
type CredentialStore interface {
	LatestCredential(ctx context.Context, actorID string) (*store.Credential, error)
	UpdateCredentialTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error
	DeleteCredentials(ctx context.Context, actorID string) (int, error)
}

// Config configures the provider's token endpoint.
type Config struct {
	ClientID      string
	ClientSecret  string
	TokenURL      string
	RefreshWindow time.Duration

	// HTTPClient is used for token requests. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

// Manager ensures callers get a usable credential.
type Manager struct {
	store      CredentialStore
	oauth      *oauth2.Config
	window     time.Duration
	httpClient *http.Client
	audit      *audit.Logger
	logger     *slog.Logger

	// group collapses concurrent ensure calls per actor so at most one
	// refresh round trip is in flight for a credential.
	group singleflight.Group

	nowFunc func() time.Time
}

// NewManager creates a Manager.
func NewManager(cfg Config, s CredentialStore, auditLog *audit.Logger, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	window := cfg.RefreshWindow
	if window <= 0 {
		window = DefaultRefreshWindow
	}

	return &Manager{
		store: s,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		window:     window,
		httpClient: cfg.HTTPClient,
		audit:      auditLog,
		logger:     logger,
		nowFunc:    time.Now,
	}
}

// EnsureValid returns the actor's most recent credential, refreshing it first
// when it expires within the refresh window.
//
// Errors are classified: KindMissingConnection when the actor never
// connected, KindTokenExpired when the provider rejected the refresh token
// (the credential is deleted), KindConnectivity for transient failures (the
// credential is left untouched).
//
// The shared check runs detached from any one caller's cancellation; each
// caller stops waiting when its own ctx is done.
func (m *Manager) EnsureValid(ctx context.Context, actorID string) (*store.Credential, error) {
	ch := m.group.DoChan(actorID, func() (any, error) {
		return m.ensure(context.WithoutCancel(ctx), actorID)
	})

	var res singleflight.Result

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("token: waiting for credential: %w", ctx.Err())
	case res = <-ch:
	}

	if res.Err != nil {
		return nil, res.Err
	}

	if res.Shared {
		m.logger.Debug("joined in-flight credential check", slog.String("actor", actorID))
	}

	c := *res.Val.(*store.Credential)

	return &c, nil
}

func (m *Manager) ensure(ctx context.Context, actorID string) (*store.Credential, error) {
	cred, err := m.store.LatestCredential(ctx, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, syncerr.Newf(syncerr.KindMissingConnection, "token.ensure",
			"no accounting connection for actor %s", actorID)
	}

	if err != nil {
		return nil, fmt.Errorf("token: loading credential: %w", err)
	}

	now := m.nowFunc()
	if cred.ExpiresAt.Sub(now) > m.window {
		return cred, nil
	}

	return m.refresh(ctx, cred, now)
}

func (m *Manager) refresh(ctx context.Context, cred *store.Credential, now time.Time) (*store.Credential, error) {
	payload := map[string]any{
		"credential_id": cred.ID,
		"realm_id":      cred.RealmID,
		"expires_at":    cred.ExpiresAt.UTC().Format(time.RFC3339),
	}

	m.logger.Info("refreshing access token",
		slog.String("actor", cred.ActorID),
		slog.Time("expires_at", cred.ExpiresAt),
	)
	m.audit.Info(ctx, cred.ActorID, "token.refresh.attempt", payload)

	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}

	// An empty access token forces the source to hit the token endpoint.
	tok, err := m.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return nil, m.refreshFailed(ctx, cred, payload, err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(defaultLifetime)
	}

	if err := m.store.UpdateCredentialTokens(ctx, cred.ID, tok.AccessToken, refreshToken, expiresAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = syncerr.Newf(syncerr.KindMissingConnection, "token.refresh",
				"credential %s was removed during refresh", cred.ID)
		}

		m.audit.Failure(ctx, cred.ActorID, "token.refresh", payload, err)

		return nil, err
	}

	updated := *cred
	updated.AccessToken = tok.AccessToken
	updated.RefreshToken = refreshToken
	updated.ExpiresAt = expiresAt
	updated.UpdatedAt = now

	payload["new_expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	payload["refresh_token_rotated"] = refreshToken != cred.RefreshToken
	m.audit.Info(ctx, cred.ActorID, "token.refresh.success", payload)

	return &updated, nil
}

// refreshFailed classifies a token endpoint failure. A rejected refresh token
// deletes the actor's credentials.
func (m *Manager) refreshFailed(ctx context.Context, cred *store.Credential, payload map[string]any, err error) error {
	var (
		re     *oauth2.RetrieveError
		status int
	)

	if errors.As(err, &re) && re.Response != nil {
		status = re.Response.StatusCode
	}

	if status == http.StatusUnauthorized || (re != nil && re.ErrorCode == errInvalidGrant) {
		classified := &syncerr.Error{
			Kind:       syncerr.KindTokenExpired,
			Op:         "token.refresh",
			Message:    "refresh token rejected, reconnect required",
			StatusCode: status,
			Err:        err,
		}
		m.audit.Failure(ctx, cred.ActorID, "token.refresh", payload, classified)

		if delErr := m.Invalidate(ctx, cred.ActorID, "refresh token rejected"); delErr != nil {
			return errors.Join(classified, delErr)
		}

		return classified
	}

	classified := &syncerr.Error{
		Kind:       syncerr.KindConnectivity,
		Op:         "token.refresh",
		StatusCode: status,
		Err:        err,
	}
	m.audit.Failure(ctx, cred.ActorID, "token.refresh", payload, classified)

	return classified
}

// Invalidate deletes every stored credential of the actor. Used when the
// token endpoint or the API itself rejects the connection.
func (m *Manager) Invalidate(ctx context.Context, actorID, reason string) error {
	n, err := m.store.DeleteCredentials(ctx, actorID)
	if err != nil {
		return fmt.Errorf("token: invalidating credentials: %w", err)
	}

	m.logger.Warn("connection invalidated",
		slog.String("actor", actorID),
		slog.String("reason", reason),
		slog.Int("deleted", n),
	)
	m.audit.Info(ctx, actorID, "token.invalidate", map[string]any{"reason": reason, "deleted": n})

	return nil
}
