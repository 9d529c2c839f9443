package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/invobilled/invobilled/internal/client"
)

// TokenStore persists credentials between runs.
// Different implementations store them in files, cookies, etc.
type TokenStore interface {
	// Load returns the stored credentials or ErrNotSignedIn
	Load() (*Credentials, error)

	// Save replaces the stored credentials
	Save(creds *Credentials) error

	// Clear removes stored credentials
	Clear() error
}

// Refresher exchanges a refresh token for new credentials
type Refresher interface {
	Refresh(ctx context.Context, creds *Credentials) (*Credentials, error)
}

// TokenSession implements client.Session on top of a TokenStore
type TokenSession struct {
	store      TokenStore
	refresher  Refresher
	onRedirect func(ctx context.Context)
	now        func() time.Time
	log        *slog.Logger

	mu     sync.Mutex
	loaded bool
	creds  *Credentials
}

var _ client.Session = (*TokenSession)(nil)

// SessionOption configures a TokenSession
type SessionOption func(*TokenSession)

// WithRedirect sets the action run when the user must sign in again
func WithRedirect(fn func(ctx context.Context)) SessionOption {
	return func(s *TokenSession) { s.onRedirect = fn }
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) SessionOption {
	return func(s *TokenSession) { s.now = now }
}

// WithLogger sets the session logger
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *TokenSession) { s.log = l }
}

// NewTokenSession creates a session backed by store. refresher may be nil,
// in which case tokens are served until they are rejected.
func NewTokenSession(store TokenStore, refresher Refresher, opts ...SessionOption) *TokenSession {
	s := &TokenSession{
		store:     store,
		refresher: refresher,
		now:       time.Now,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "token_session"))
	return s
}

// Load reads credentials from the store. It is called lazily by the other
// methods; calling it up front surfaces store errors early.
func (s *TokenSession) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *TokenSession) loadLocked() error {
	if s.loaded {
		return nil
	}

	creds, err := s.store.Load()
	switch {
	case errors.Is(err, ErrNotSignedIn):
		s.creds = nil
	case err != nil:
		return fmt.Errorf("failed to load credentials: %w", err)
	default:
		s.creds = creds
	}
	s.loaded = true
	return nil
}

// IsLoaded reports whether credentials have been read from the store
func (s *TokenSession) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// IsSignedIn reports whether the store held an access token
func (s *TokenSession) IsSignedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil {
		return false
	}
	return s.creds != nil && s.creds.AccessToken != ""
}

// User returns the signed-in user's profile
func (s *TokenSession) User() (client.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil || s.creds == nil {
		return client.User{}, false
	}
	return s.creds.User.toUser(), true
}

// Credentials returns a copy of the current credentials
func (s *TokenSession) Credentials() (*Credentials, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(); err != nil || s.creds == nil {
		return nil, false
	}
	c := *s.creds
	return &c, true
}

// GetToken returns the access token, refreshing it when asked to skip the
// cache or when it expires within opts.Leeway. Refreshes are serialised, so
// concurrent callers after a 401 each receive a valid token.
func (s *TokenSession) GetToken(ctx context.Context, opts client.TokenOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return "", err
	}
	if s.creds == nil {
		return "", nil
	}

	if !opts.SkipCache && !s.creds.ExpiresWithin(s.now(), opts.Leeway) {
		return s.creds.AccessToken, nil
	}

	if s.refresher == nil || s.creds.RefreshToken == "" {
		if opts.SkipCache {
			return "", ErrNoRefreshToken
		}
		// Let the backend decide; a 401 will trigger the forced refresh path
		return s.creds.AccessToken, nil
	}

	refreshed, err := s.refresher.Refresh(ctx, s.creds)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	if err := s.store.Save(refreshed); err != nil {
		s.log.Error("failed to save refreshed credentials", slog.String("error", err.Error()))
	}
	s.creds = refreshed

	s.log.Debug("refreshed access token", slog.Time("expires_at", refreshed.Expiry()))
	return refreshed.AccessToken, nil
}

// RedirectToSignIn runs the configured redirect action
func (s *TokenSession) RedirectToSignIn(ctx context.Context) {
	s.log.Info("session expired, redirecting to sign-in")
	if s.onRedirect != nil {
		s.onRedirect(ctx)
	}
}

// SignIn stores new credentials, replacing any existing ones
func (s *TokenSession) SignIn(creds *Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Save(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	s.creds = creds
	s.loaded = true
	return nil
}

// SignOut clears the stored credentials
func (s *TokenSession) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil
	s.loaded = true
	return s.store.Clear()
}
