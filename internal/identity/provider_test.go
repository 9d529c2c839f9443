package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newTestIssuer(t *testing.T, token http.HandlerFunc) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"issuer":                                server.URL,
			"authorization_endpoint":                server.URL + "/authorize",
			"token_endpoint":                        server.URL + "/token",
			"jwks_uri":                              server.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("/token", token)
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestNewProvider_Validation(t *testing.T) {
	ctx := context.Background()
	if _, err := NewProvider(ctx, Config{ClientID: "x"}); err == nil {
		t.Error("expected error without issuer")
	}
	if _, err := NewProvider(ctx, Config{Issuer: "https://issuer.example.com"}); err == nil {
		t.Error("expected error without client ID")
	}
}

func TestProvider_AuthCodeURL(t *testing.T) {
	issuer := newTestIssuer(t, http.NotFound)

	p, err := NewProvider(context.Background(), Config{
		Issuer:      issuer.URL,
		ClientID:    "cli",
		RedirectURL: "http://127.0.0.1:8085/callback",
	})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	raw := p.AuthCodeURL("state-1", NewVerifier())
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL %q: %v", raw, err)
	}
	q := u.Query()
	if !strings.HasSuffix(u.Path, "/authorize") {
		t.Errorf("expected authorize endpoint, got %s", u.Path)
	}
	if q.Get("state") != "state-1" || q.Get("client_id") != "cli" {
		t.Errorf("unexpected query %v", q)
	}
	if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
		t.Errorf("expected PKCE challenge, got %v", q)
	}
	if !strings.Contains(q.Get("scope"), "openid") {
		t.Errorf("expected openid scope, got %q", q.Get("scope"))
	}
	if q.Get("prompt") != "" {
		t.Errorf("sign-in URL should not carry a prompt, got %q", q.Get("prompt"))
	}

	signUp, _ := url.Parse(p.AuthCodeURL("state-2", NewVerifier(), SignUpOption))
	if signUp.Query().Get("prompt") != "create" {
		t.Errorf("expected prompt=create, got %q", signUp.Query().Get("prompt"))
	}
}

func TestProvider_Refresh(t *testing.T) {
	var grant, refreshToken string
	issuer := newTestIssuer(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		grant = r.Form.Get("grant_type")
		refreshToken = r.Form.Get("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","token_type":"Bearer","expires_in":3600}`))
	})

	p, err := NewProvider(context.Background(), Config{Issuer: issuer.URL, ClientID: "cli"})
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	previous := &Credentials{
		AccessToken:  "old-access",
		RefreshToken: "refresh-1",
		User:         Profile{ID: "user_1", Email: "a@example.com"},
	}
	creds, err := p.Refresh(context.Background(), previous)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if grant != "refresh_token" || refreshToken != "refresh-1" {
		t.Errorf("unexpected grant %q with refresh token %q", grant, refreshToken)
	}
	if creds.AccessToken != "new-access" {
		t.Errorf("expected new access token, got %q", creds.AccessToken)
	}
	if creds.RefreshToken != "refresh-1" {
		t.Errorf("expected refresh token to be kept, got %q", creds.RefreshToken)
	}
	if creds.User.ID != "user_1" {
		t.Errorf("expected profile to carry over, got %+v", creds.User)
	}
	if creds.ExpiresAt.IsZero() {
		t.Error("expected expiry to be set")
	}
}

func TestProvider_RefreshWithoutToken(t *testing.T) {
	p := &Provider{}
	if _, err := p.Refresh(context.Background(), &Credentials{AccessToken: "a"}); err != ErrNoRefreshToken {
		t.Errorf("expected ErrNoRefreshToken, got %v", err)
	}
}
