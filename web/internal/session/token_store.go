package session

import (
	"net/http"

	"github.com/invobilled/invobilled/internal/identity"
)

// CookieTokenStore implements identity.TokenStore on the session cookie.
// It must be created per request since it writes to the response.
type CookieTokenStore struct {
	manager *Manager
	request *http.Request
	writer  http.ResponseWriter
}

var _ identity.TokenStore = (*CookieTokenStore)(nil)

// NewTokenStore creates a store bound to one request
func NewTokenStore(manager *Manager, r *http.Request, w http.ResponseWriter) *CookieTokenStore {
	return &CookieTokenStore{
		manager: manager,
		request: r,
		writer:  w,
	}
}

// Load returns the credentials from the session cookie
func (s *CookieTokenStore) Load() (*identity.Credentials, error) {
	return s.manager.Credentials(s.request)
}

// Save writes credentials to the session cookie
func (s *CookieTokenStore) Save(creds *identity.Credentials) error {
	return s.manager.SaveCredentials(s.request, s.writer, creds)
}

// Clear removes the session cookie
func (s *CookieTokenStore) Clear() error {
	return s.manager.Clear(s.request, s.writer)
}
