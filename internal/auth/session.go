package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/smarthome-labs/nuki-bridge/internal/domain"
)

// Session states. Exactly one refresh may be in flight; callers that
// observe StateRefreshing wait for the in-flight transition instead of
// racing their own refresh.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthorizing     State = "authorizing"
	StateAuthorized      State = "authorized"
	StateRefreshing      State = "refreshing"
)

// OAuthReason classifies token lifecycle failures.
type OAuthReason string

const (
	ReasonExchangeFailed OAuthReason = "exchange_failed"
	ReasonRefreshFailed  OAuthReason = "refresh_failed"
)

// OAuthError is returned when a token exchange or refresh fails. A refresh
// failure always drops the session to unauthenticated; there is no
// retry-in-place.
type OAuthError struct {
	Reason OAuthReason
	Err    error
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("oauth %s: %v", e.Reason, e.Err)
}

func (e *OAuthError) Unwrap() error { return e.Err }

// ErrNotAuthenticated is returned by Token when no usable credential
// exists and a fresh authorization flow is required.
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenStore persists the credential across restarts. Implementations may
// be nil-safe no-ops in tests.
type TokenStore interface {
	SaveToken(ctx context.Context, token *domain.OAuthToken) error
	DeleteToken(ctx context.Context) error
}

// SessionManager owns the OAuth2 access/refresh token lifecycle against
// the platform token endpoint. Token requests refresh proactively inside
// the configured margin, so a long-idle process still refreshes on demand
// rather than only on a timer.
type SessionManager struct {
	httpClient   *http.Client
	tokenURL     string
	clientID     string
	clientSecret string
	margin       time.Duration

	store  TokenStore
	logger *slog.Logger

	// onReauthRequired surfaces a user-actionable re-authentication
	// request to the config/UI layer.
	onReauthRequired func(err error)

	mu       sync.Mutex
	state    State
	token    *domain.OAuthToken
	inflight chan struct{}
}

// NewSessionManager creates a session manager in the unauthenticated
// state. store and onReauth may be nil.
func NewSessionManager(tokenURL, clientID, clientSecret string, margin time.Duration, store TokenStore, onReauth func(error), logger *slog.Logger) *SessionManager {
	return &SessionManager{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tokenURL:         tokenURL,
		clientID:         clientID,
		clientSecret:     clientSecret,
		margin:           margin,
		store:            store,
		logger:           logger,
		onReauthRequired: onReauth,
		state:            StateUnauthenticated,
	}
}

// State returns the current lifecycle state.
func (m *SessionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restore seeds the session from a persisted token, typically at startup.
func (m *SessionManager) Restore(token *domain.OAuthToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.state = StateAuthorized
}

// Exchange trades an authorization code for the initial token. A failure
// here fails setup outright.
func (m *SessionManager) Exchange(ctx context.Context, code, redirectURI string) error {
	m.mu.Lock()
	m.state = StateAuthorizing
	m.mu.Unlock()

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	}

	token, err := m.postTokenForm(ctx, form)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.state = StateUnauthenticated
		m.token = nil
		return &OAuthError{Reason: ReasonExchangeFailed, Err: err}
	}

	m.token = token
	m.state = StateAuthorized
	m.persist(ctx, token)
	m.logger.Info("authorization code exchanged", "expires_at", token.ExpiresAt)
	return nil
}

// Token returns a valid bearer token, refreshing first when fewer than the
// margin remains before expiry. Concurrent callers during a refresh block
// until the in-flight refresh resolves and then share its outcome.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	for {
		m.mu.Lock()
		switch m.state {
		case StateAuthorized:
			if !m.token.Expired(m.margin) {
				access := m.token.AccessToken
				m.mu.Unlock()
				return access, nil
			}
			// Inside the margin: this caller performs the refresh,
			// everyone else waits on the inflight channel.
			m.state = StateRefreshing
			m.inflight = make(chan struct{})
			refreshToken := m.token.RefreshToken
			m.mu.Unlock()
			m.refresh(ctx, refreshToken)
			continue

		case StateRefreshing:
			done := m.inflight
			m.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return "", ctx.Err()
			}
			continue

		default:
			m.mu.Unlock()
			return "", ErrNotAuthenticated
		}
	}
}

// refresh performs the single in-flight refresh and publishes the outcome
// to all waiters. On failure the session drops to unauthenticated: per
// OAuth2 semantics the old refresh token may already be invalidated
// upstream, so there is nothing to retry with.
func (m *SessionManager) refresh(ctx context.Context, refreshToken string) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
	}

	token, err := m.postTokenForm(ctx, form)

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(m.inflight)

	if err != nil {
		m.state = StateUnauthenticated
		m.token = nil
		if errors.Is(err, context.Canceled) {
			// Shutdown mid-refresh: the persisted refresh token is still
			// good, leave it for the next start.
			m.logger.Info("refresh cancelled", "error", err)
			return
		}
		m.logger.Error("token refresh failed, re-authentication required", "error", err)
		if m.store != nil {
			if derr := m.store.DeleteToken(context.WithoutCancel(ctx)); derr != nil {
				m.logger.Error("failed to clear persisted token", "error", derr)
			}
		}
		if m.onReauthRequired != nil {
			go m.onReauthRequired(&OAuthError{Reason: ReasonRefreshFailed, Err: err})
		}
		return
	}

	// Always adopt the newest refresh token: upstream rotates it and the
	// previous one is dead after a successful refresh.
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	m.token = token
	m.state = StateAuthorized
	m.persist(ctx, token)
	m.logger.Info("token refreshed", "expires_at", token.ExpiresAt)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// postTokenForm sends a client_secret_post request to the token endpoint,
// which is the authentication method the platform supports.
func (m *SessionManager) postTokenForm(ctx context.Context, form url.Values) (*domain.OAuthToken, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	return &domain.OAuthToken{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC(),
		Scope:        tr.Scope,
	}, nil
}

// persist writes the token through the store. Persistence failures are
// logged, not fatal: the in-memory session stays valid.
func (m *SessionManager) persist(ctx context.Context, token *domain.OAuthToken) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveToken(ctx, token); err != nil {
		m.logger.Error("failed to persist token", "error", err)
	}
}
