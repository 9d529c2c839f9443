package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/invobilled/invobilled/internal/client"
)

type memStore struct {
	mu      sync.Mutex
	creds   *Credentials
	loadErr error
	saves   int
}

func (m *memStore) Load() (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.creds == nil {
		return nil, ErrNotSignedIn
	}
	c := *m.creds
	return &c, nil
}

func (m *memStore) Save(creds *Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	c := *creds
	m.creds = &c
	return nil
}

func (m *memStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, creds *Credentials) (*Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	next := *creds
	next.AccessToken = creds.AccessToken + "+"
	next.ExpiresAt = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	return &next, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSession(store *memStore, refresher Refresher, opts ...SessionOption) *TokenSession {
	opts = append(opts, WithClock(func() time.Time { return testNow }))
	return NewTokenSession(store, refresher, opts...)
}

func TestTokenSession_NotSignedIn(t *testing.T) {
	s := newTestSession(&memStore{}, &fakeRefresher{})

	if s.IsLoaded() {
		t.Error("session should not be loaded before first use")
	}
	token, err := s.GetToken(context.Background(), client.TokenOptions{})
	if err != nil || token != "" {
		t.Errorf("expected empty token and no error, got %q, %v", token, err)
	}
	if !s.IsLoaded() {
		t.Error("session should be loaded after GetToken")
	}
	if s.IsSignedIn() {
		t.Error("expected signed out")
	}
	if _, ok := s.User(); ok {
		t.Error("expected no user")
	}
}

func TestTokenSession_LoadError(t *testing.T) {
	s := newTestSession(&memStore{loadErr: errors.New("corrupt file")}, nil)

	if _, err := s.GetToken(context.Background(), client.TokenOptions{}); err == nil {
		t.Error("expected load error")
	}
	if s.IsLoaded() {
		t.Error("session should not be marked loaded after a failed load")
	}
}

func TestTokenSession_ServesCachedToken(t *testing.T) {
	store := &memStore{creds: &Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    testNow.Add(time.Hour),
		User:         Profile{ID: "user_1", Email: "a@example.com", FirstName: "Ada"},
	}}
	refresher := &fakeRefresher{}
	s := newTestSession(store, refresher)

	token, err := s.GetToken(context.Background(), client.TokenOptions{})
	if err != nil || token != "access" {
		t.Fatalf("expected cached token, got %q, %v", token, err)
	}
	if refresher.calls != 0 {
		t.Errorf("expected no refresh, got %d", refresher.calls)
	}

	user, ok := s.User()
	if !ok || user.ID != "user_1" || user.PrimaryEmail != "a@example.com" || user.FirstName != "Ada" {
		t.Errorf("unexpected user %+v", user)
	}
}

func TestTokenSession_SkipCacheRefreshes(t *testing.T) {
	store := &memStore{creds: &Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    testNow.Add(time.Hour),
	}}
	refresher := &fakeRefresher{}
	s := newTestSession(store, refresher)

	token, err := s.GetToken(context.Background(), client.TokenOptions{SkipCache: true, Leeway: client.RefreshLeeway})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "access+" {
		t.Errorf("expected refreshed token, got %q", token)
	}
	if store.saves != 1 || store.creds.AccessToken != "access+" {
		t.Errorf("expected refreshed credentials to be saved, got %+v", store.creds)
	}
}

func TestTokenSession_RefreshesInsideLeeway(t *testing.T) {
	store := &memStore{creds: &Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    testNow.Add(30 * time.Second),
	}}
	refresher := &fakeRefresher{}
	s := newTestSession(store, refresher)

	token, _ := s.GetToken(context.Background(), client.TokenOptions{Leeway: time.Minute})
	if token != "access+" || refresher.calls != 1 {
		t.Errorf("expected one refresh, got token %q after %d calls", token, refresher.calls)
	}
}

func TestTokenSession_NoRefreshToken(t *testing.T) {
	store := &memStore{creds: &Credentials{AccessToken: "access", ExpiresAt: testNow.Add(-time.Minute)}}
	s := newTestSession(store, &fakeRefresher{})

	token, err := s.GetToken(context.Background(), client.TokenOptions{})
	if err != nil || token != "access" {
		t.Errorf("expected stale token to be served, got %q, %v", token, err)
	}

	if _, err := s.GetToken(context.Background(), client.TokenOptions{SkipCache: true}); !errors.Is(err, ErrNoRefreshToken) {
		t.Errorf("expected ErrNoRefreshToken, got %v", err)
	}
}

func TestTokenSession_RefreshError(t *testing.T) {
	store := &memStore{creds: &Credentials{AccessToken: "access", RefreshToken: "revoked"}}
	refresher := &fakeRefresher{err: errors.New("invalid_grant")}
	s := newTestSession(store, refresher)

	token, err := s.GetToken(context.Background(), client.TokenOptions{SkipCache: true})
	if err == nil || token != "" {
		t.Errorf("expected refresh error, got %q, %v", token, err)
	}
}

func TestTokenSession_ConcurrentRefreshes(t *testing.T) {
	store := &memStore{creds: &Credentials{AccessToken: "a", RefreshToken: "r", ExpiresAt: testNow.Add(time.Hour)}}
	refresher := &fakeRefresher{}
	s := newTestSession(store, refresher)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if token, err := s.GetToken(context.Background(), client.TokenOptions{SkipCache: true}); err != nil || token == "" {
				t.Errorf("concurrent refresh failed: %q, %v", token, err)
			}
		}()
	}
	wg.Wait()

	if refresher.calls != 8 {
		t.Errorf("expected each forced refresh to reach the provider, got %d", refresher.calls)
	}
}

func TestTokenSession_RedirectAndSignOut(t *testing.T) {
	store := &memStore{}
	redirects := 0
	s := newTestSession(store, nil, WithRedirect(func(context.Context) { redirects++ }))

	if err := s.SignIn(&Credentials{AccessToken: "a", User: Profile{ID: "user_2"}}); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if !s.IsSignedIn() {
		t.Error("expected signed in after SignIn")
	}

	s.RedirectToSignIn(context.Background())
	if redirects != 1 {
		t.Errorf("expected redirect hook to run once, got %d", redirects)
	}

	if err := s.SignOut(); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if s.IsSignedIn() || store.creds != nil {
		t.Error("expected credentials to be cleared")
	}
}
