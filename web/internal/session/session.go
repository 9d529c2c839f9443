package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"

	"github.com/invobilled/invobilled/internal/identity"
)

const (
	// SessionName is the name of the session cookie
	SessionName = "invobilled_session"

	credentialsKey = "credentials"
	stateKey       = "oauth_state"
	verifierKey    = "oauth_code_verifier"
)

// ErrNoLoginState is returned when a callback arrives without a pending sign-in
var ErrNoLoginState = errors.New("no sign-in in progress")

// Options configures the session cookie
type Options struct {
	Secure bool
	MaxAge int // seconds
}

// Manager wraps gorilla/sessions for our use case
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a new session manager.
// secretKey should be 32 bytes.
func NewManager(secretKey []byte, opts Options) *Manager {
	store := sessions.NewCookieStore(secretKey)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   opts.MaxAge,
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	return &Manager{store: store}
}

// GetSession returns the session, starting a fresh one when the cookie
// cannot be decoded (for example after a key rotation)
func (m *Manager) GetSession(r *http.Request) *sessions.Session {
	session, err := m.store.Get(r, SessionName)
	if err != nil {
		session, _ = m.store.New(r, SessionName)
	}
	return session
}

// SetLoginState remembers the OAuth state and PKCE verifier until the callback
func (m *Manager) SetLoginState(r *http.Request, w http.ResponseWriter, state, verifier string) error {
	session := m.GetSession(r)
	session.Values[stateKey] = state
	session.Values[verifierKey] = verifier
	return session.Save(r, w)
}

// TakeLoginState returns and forgets the pending OAuth state and verifier
func (m *Manager) TakeLoginState(r *http.Request, w http.ResponseWriter) (state, verifier string, err error) {
	session := m.GetSession(r)
	state, _ = session.Values[stateKey].(string)
	verifier, _ = session.Values[verifierKey].(string)
	if state == "" || verifier == "" {
		return "", "", ErrNoLoginState
	}

	delete(session.Values, stateKey)
	delete(session.Values, verifierKey)
	if err := session.Save(r, w); err != nil {
		return "", "", err
	}
	return state, verifier, nil
}

// Credentials returns the signed-in user's credentials or identity.ErrNotSignedIn
func (m *Manager) Credentials(r *http.Request) (*identity.Credentials, error) {
	raw, ok := m.GetSession(r).Values[credentialsKey].(string)
	if !ok || raw == "" {
		return nil, identity.ErrNotSignedIn
	}

	var creds identity.Credentials
	if err := json.Unmarshal([]byte(raw), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse session credentials: %w", err)
	}
	if creds.AccessToken == "" {
		return nil, identity.ErrNotSignedIn
	}
	return &creds, nil
}

// SaveCredentials stores credentials in the cookie. The ID token is dropped
// to keep the cookie under browser size limits.
func (m *Manager) SaveCredentials(r *http.Request, w http.ResponseWriter, creds *identity.Credentials) error {
	stored := *creds
	stored.IDToken = ""

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	session := m.GetSession(r)
	session.Values[credentialsKey] = string(data)
	return session.Save(r, w)
}

// Clear removes the session (logout)
func (m *Manager) Clear(r *http.Request, w http.ResponseWriter) error {
	session := m.GetSession(r)
	for k := range session.Values {
		delete(session.Values, k)
	}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// HasCredentials checks if the request carries a signed-in session
func (m *Manager) HasCredentials(r *http.Request) bool {
	_, err := m.Credentials(r)
	return err == nil
}
