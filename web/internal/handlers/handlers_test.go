package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/identity"
	"github.com/invobilled/invobilled/internal/invoices"
	"github.com/invobilled/invobilled/internal/upload"
	"github.com/invobilled/invobilled/web/internal/middleware"
	"github.com/invobilled/invobilled/web/internal/session"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

// fakeAuth stands in for the OIDC provider
type fakeAuth struct {
	mu         sync.Mutex
	lastState  string
	optCount   int
	exchanged  string
	refreshErr error
}

func (f *fakeAuth) AuthCodeURL(state, verifier string, opts ...oauth2.AuthCodeOption) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastState = state
	f.optCount = len(opts)
	return "https://id.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeAuth) Exchange(ctx context.Context, code, verifier string) (*identity.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code != "good-code" || verifier == "" {
		return nil, errors.New("invalid_grant")
	}
	f.exchanged = code
	return &identity.Credentials{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         identity.Profile{ID: "user_1", Email: "ada@example.com", FirstName: "Ada"},
	}, nil
}

func (f *fakeAuth) Refresh(ctx context.Context, creds *identity.Credentials) (*identity.Credentials, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	refreshed := *creds
	refreshed.AccessToken = "fresh"
	refreshed.ExpiresAt = time.Now().Add(time.Hour)
	return &refreshed, nil
}

// backend records the API requests it receives
type backend struct {
	mu       sync.Mutex
	requests []*recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request, body []byte)
}

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   []byte
	Header http.Header
}

func (b *backend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.requests = append(b.requests, &recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
		Body:   body,
		Header: r.Header.Clone(),
	})
	b.mu.Unlock()

	if b.handler != nil {
		b.handler(w, r, body)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (b *backend) find(method, path string) *recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.requests {
		if r.Method == method && r.Path == path {
			return r
		}
	}
	return nil
}

type testEnv struct {
	router  http.Handler
	manager *session.Manager
	backend *backend
	server  *httptest.Server
}

func newTestEnv(t *testing.T, auth Authenticator, handler func(w http.ResponseWriter, r *http.Request, body []byte)) *testEnv {
	t.Helper()
	b := &backend{handler: handler}
	server := httptest.NewServer(b)
	t.Cleanup(server.Close)

	m := session.NewManager(testKey, session.Options{MaxAge: 3600})
	h := New(m, auth, Config{
		APIBaseURL:    server.URL + "/api",
		UploadOptions: []upload.Option{upload.WithEndpoint(server.URL), upload.WithCloud("demo")},
		SyncTimeout:   2 * time.Second,
	}, slog.Default())

	router := mux.NewRouter()
	h.Register(router, middleware.NewAuthMiddleware(m, slog.Default()))

	return &testEnv{router: router, manager: m, backend: b, server: server}
}

// signedIn returns the cookie of a session holding creds
func (e *testEnv) signedIn(t *testing.T, creds *identity.Credentials) *http.Cookie {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := e.manager.SaveCredentials(httptest.NewRequest(http.MethodGet, "/", nil), rec, creds); err != nil {
		t.Fatalf("SaveCredentials failed: %v", err)
	}
	return rec.Result().Cookies()[0]
}

func (e *testEnv) do(r *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		r.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, r)
	return rec
}

// lastCookie returns the final session cookie written, which is what a browser keeps
func lastCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	var last *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.SessionName {
			last = c
		}
	}
	return last
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected JSON response, got %q", rec.Body.String())
	}
	return resp
}

var defaultCreds = &identity.Credentials{
	AccessToken: "access",
	ExpiresAt:   time.Now().Add(time.Hour),
	User:        identity.Profile{ID: "user_1", Email: "ada@example.com"},
}

func TestSignInFlow(t *testing.T) {
	auth := &fakeAuth{}
	env := newTestEnv(t, auth, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.WriteHeader(http.StatusCreated)
	})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/sign-in", nil), nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect to provider, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "https://id.example.com/authorize") {
		t.Errorf("unexpected location %q", rec.Header().Get("Location"))
	}
	if auth.optCount != 0 {
		t.Errorf("sign-in should not pass extra options, got %d", auth.optCount)
	}

	callback := httptest.NewRequest(http.MethodGet, "/auth/callback?code=good-code&state="+url.QueryEscape(auth.lastState), nil)
	rec = env.do(callback, lastCookie(rec))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Fatalf("expected redirect to dashboard, got %d %q: %s", rec.Code, rec.Header().Get("Location"), rec.Body.String())
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(lastCookie(rec))
	creds, err := env.manager.Credentials(r)
	if err != nil {
		t.Fatalf("expected credentials in cookie: %v", err)
	}
	if creds.AccessToken != "access" || creds.User.Email != "ada@example.com" {
		t.Errorf("unexpected credentials %+v", creds)
	}

	syncReq := env.backend.find(http.MethodPost, "/api/users")
	if syncReq == nil {
		t.Fatal("expected user sync after sign-in")
	}
	var profile map[string]string
	json.Unmarshal(syncReq.Body, &profile)
	if profile["clerkId"] != "user_1" || profile["firstName"] != "Ada" || syncReq.Auth != "Bearer access" {
		t.Errorf("unexpected sync request %v auth %q", profile, syncReq.Auth)
	}
}

func TestSignUp_PassesPrompt(t *testing.T) {
	auth := &fakeAuth{}
	env := newTestEnv(t, auth, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/sign-up", nil), nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	if auth.optCount != 1 {
		t.Errorf("expected the sign-up option, got %d options", auth.optCount)
	}
}

func TestSignIn_AlreadySignedIn(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/sign-in", nil), env.signedIn(t, defaultCreds))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/dashboard" {
		t.Errorf("expected redirect to dashboard, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestSignIn_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/sign-in", nil), nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestAuthCallback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      func(state string) string
		startLogin bool
		wantStatus int
	}{
		{
			name:       "provider error",
			query:      func(string) string { return "error=access_denied" },
			startLogin: true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "no login in progress",
			query:      func(string) string { return "code=good-code&state=x" },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "state mismatch",
			query:      func(string) string { return "code=good-code&state=forged" },
			startLogin: true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing code",
			query:      func(state string) string { return "state=" + url.QueryEscape(state) },
			startLogin: true,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "exchange fails",
			query:      func(state string) string { return "code=bad-code&state=" + url.QueryEscape(state) },
			startLogin: true,
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := &fakeAuth{}
			env := newTestEnv(t, auth, nil)

			var cookie *http.Cookie
			if tt.startLogin {
				cookie = lastCookie(env.do(httptest.NewRequest(http.MethodGet, "/sign-in", nil), nil))
			}

			rec := env.do(httptest.NewRequest(http.MethodGet, "/auth/callback?"+tt.query(auth.lastState), nil), cookie)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if env.backend.find(http.MethodPost, "/api/users") != nil {
				t.Error("no user sync expected on a failed callback")
			}
		})
	}
}

func TestListInvoices(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.Write([]byte(`[{"id":"66a1","title":"March"},{"id":"66a2","title":"April"}]`))
	})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/invoices", nil), env.signedIn(t, defaultCreds))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Data []invoices.Invoice `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Data) != 2 || body.Data[1].ID != "66a2" {
		t.Errorf("unexpected invoices %+v", body.Data)
	}

	req := env.backend.find(http.MethodGet, "/api/invoices")
	if req == nil || req.Auth != "Bearer access" {
		t.Errorf("expected authenticated backend call, got %+v", req)
	}
	if req != nil && req.Header.Get("Accept") != "application/json" {
		t.Errorf("expected JSON accept header, got %q", req.Header.Get("Accept"))
	}
}

func TestListInvoices_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.Write([]byte(`[]`))
	})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/invoices", nil), env.signedIn(t, defaultCreds))
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty array, got %s", rec.Body.String())
	}
}

func TestAPI_RequiresSession(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/invoices", nil), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
	if len(env.backend.requests) != 0 {
		t.Error("no backend call expected without a session")
	}
}

func TestAPI_SessionExpired(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/invoices", nil), env.signedIn(t, defaultCreds))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	resp := decodeResponse(t, rec)
	if resp.Redirect != middleware.SignInPath {
		t.Errorf("expected sign-in redirect, got %+v", resp)
	}

	cookie := lastCookie(rec)
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("expected the session cookie to be cleared, got %+v", cookie)
	}
}

func TestAPI_RefreshAfter401(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, func(w http.ResponseWriter, r *http.Request, body []byte) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	})

	creds := *defaultCreds
	creds.RefreshToken = "refresh"
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/invoices", nil), env.signedIn(t, &creds))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after refresh, got %d: %s", rec.Code, rec.Body.String())
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(lastCookie(rec))
	saved, err := env.manager.Credentials(r)
	if err != nil || saved.AccessToken != "fresh" {
		t.Errorf("expected refreshed token in cookie, got %+v, %v", saved, err)
	}
	if len(env.backend.requests) != 2 {
		t.Errorf("expected one retry, got %d requests", len(env.backend.requests))
	}
}

func TestSaveInvoice(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.Write([]byte(`{"id":"66b0","title":"May"}`))
	})
	cookie := env.signedIn(t, defaultCreds)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/invoices", strings.NewReader(`{"title":"May"}`)), cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if len(resp.Notifications) != 1 || resp.Notifications[0].Message != invoices.MsgSaved {
		t.Errorf("expected saved notification, got %+v", resp.Notifications)
	}

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/invoices", strings.NewReader(`{`)), cookie)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid JSON, got %d", rec.Code)
	}
}

func TestDeleteInvoice(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, func(w http.ResponseWriter, r *http.Request, body []byte) {
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	cookie := env.signedIn(t, defaultCreds)

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/api/invoices/66a1", nil), cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.backend.find(http.MethodDelete, "/api/invoices/66a1") == nil {
		t.Error("expected backend delete")
	}
	resp := decodeResponse(t, rec)
	if len(resp.Notifications) != 1 || resp.Notifications[0].Message != invoices.MsgDeleted {
		t.Errorf("expected deleted notification, got %+v", resp.Notifications)
	}

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/api/invoices/missing", nil), cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	resp = decodeResponse(t, rec)
	if len(resp.Notifications) != 1 || resp.Notifications[0].Level != "error" {
		t.Errorf("expected error notification, got %+v", resp.Notifications)
	}
}

func multipartBody(t *testing.T, fields map[string]string, pdf []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	if pdf != nil {
		fw, _ := mw.CreateFormFile("file", "INV-1.pdf")
		fw.Write(pdf)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestSendInvoice(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.Write([]byte(`{"message":"Email sent"}`))
	})
	cookie := env.signedIn(t, defaultCreds)

	body, contentType := multipartBody(t, map[string]string{"email": "billing@example.com", "invoiceId": "66a1"}, []byte("%PDF-1.4"))
	r := httptest.NewRequest(http.MethodPost, "/api/invoices/send", body)
	r.Header.Set("Content-Type", contentType)

	rec := env.do(r, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	sent := env.backend.find(http.MethodPost, "/api/invoices/sendinvoice")
	if sent == nil {
		t.Fatal("expected backend send request")
	}
	for _, want := range []string{"billing@example.com", "66a1", "%PDF-1.4", "INV-1.pdf"} {
		if !bytes.Contains(sent.Body, []byte(want)) {
			t.Errorf("expected forwarded body to contain %q", want)
		}
	}
}

func TestSendInvoice_MissingEmail(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, nil)

	body, contentType := multipartBody(t, nil, []byte("%PDF-1.4"))
	r := httptest.NewRequest(http.MethodPost, "/api/invoices/send", body)
	r.Header.Set("Content-Type", contentType)

	rec := env.do(r, env.signedIn(t, defaultCreds))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if env.backend.find(http.MethodPost, "/api/invoices/sendinvoice") != nil {
		t.Error("no backend call expected for an invalid request")
	}
}

func TestUploadThumbnail(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, func(w http.ResponseWriter, r *http.Request, body []byte) {
		w.Write([]byte(`{"secure_url":"https://res.cloudinary.com/demo/image/upload/march.png","public_id":"march"}`))
	})

	payload := `{"title":"March","image":"data:image/png;base64,iVBORw0KGgo="}`
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/uploads/thumbnail", strings.NewReader(payload)), env.signedIn(t, defaultCreds))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "res.cloudinary.com/demo") {
		t.Errorf("expected secure_url, got %s", rec.Body.String())
	}

	req := env.backend.find(http.MethodPost, "/v1_1/demo/image/upload")
	if req == nil {
		t.Fatal("expected upload request")
	}
	if req.Auth != "" {
		t.Errorf("external upload must not carry credentials, got %q", req.Auth)
	}
}

func TestUploadThumbnail_InvalidDataURL(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, nil)

	payload := `{"title":"March","image":"not-a-data-url"}`
	rec := env.do(httptest.NewRequest(http.MethodPost, "/api/uploads/thumbnail", strings.NewReader(payload)), env.signedIn(t, defaultCreds))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/me", nil), env.signedIn(t, defaultCreds))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"email":"ada@example.com"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, &fakeAuth{}, nil)

	rec := env.do(httptest.NewRequest(http.MethodPost, "/logout", nil), env.signedIn(t, defaultCreds))
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Errorf("expected redirect home, got %d %q", rec.Code, rec.Header().Get("Location"))
	}
	if cookie := lastCookie(rec); cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("expected cleared cookie, got %+v", cookie)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"auth expired", &client.APIError{Kind: client.KindAuthExpired}, http.StatusUnauthorized},
		{"forbidden", &client.APIError{Kind: client.KindForbidden}, http.StatusForbidden},
		{"not found", &client.APIError{Kind: client.KindNotFound}, http.StatusNotFound},
		{"validation", client.NewValidationError("bad"), http.StatusBadRequest},
		{"conflict", &client.APIError{Kind: client.KindHTTP, StatusCode: http.StatusConflict}, http.StatusConflict},
		{"server error", &client.APIError{Kind: client.KindServerError, StatusCode: 500}, http.StatusBadGateway},
		{"offline", &client.APIError{Kind: client.KindNetworkUnavailable}, http.StatusBadGateway},
		{"plain error", errors.New("boom"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
