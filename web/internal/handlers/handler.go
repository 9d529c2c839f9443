package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/identity"
	"github.com/invobilled/invobilled/internal/invoices"
	"github.com/invobilled/invobilled/internal/upload"
	"github.com/invobilled/invobilled/web/internal/middleware"
	"github.com/invobilled/invobilled/web/internal/session"
)

// Authenticator is the part of identity.Provider the handlers use
type Authenticator interface {
	identity.Refresher
	AuthCodeURL(state, verifier string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code, verifier string) (*identity.Credentials, error)
}

// Config holds handler settings
type Config struct {
	APIBaseURL    string
	ClientOptions []client.Option
	UploadOptions []upload.Option
	AfterSignIn   string
	AfterSignOut  string
	SyncTimeout   time.Duration
}

// Handler holds dependencies for all web handlers
type Handler struct {
	sessionManager *session.Manager
	auth           Authenticator
	cfg            Config
	log            *slog.Logger
}

// New creates a new handler. auth may be nil, in which case sign-in is
// unavailable and existing sessions are never refreshed.
func New(sessionManager *session.Manager, auth Authenticator, cfg Config, logger *slog.Logger) *Handler {
	if cfg.AfterSignIn == "" {
		cfg.AfterSignIn = "/dashboard"
	}
	if cfg.AfterSignOut == "" {
		cfg.AfterSignOut = "/"
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 10 * time.Second
	}
	return &Handler{
		sessionManager: sessionManager,
		auth:           auth,
		cfg:            cfg,
		log:            logger.With(slog.String("component", "web_handler")),
	}
}

// getClient creates a per-request API client whose session lives in the
// request's cookie. A rejected session clears the cookie.
func (h *Handler) getClient(w http.ResponseWriter, r *http.Request) (*client.Client, *identity.TokenSession, error) {
	store := session.NewTokenStore(h.sessionManager, r, w)

	var refresher identity.Refresher
	if h.auth != nil {
		refresher = h.auth
	}
	sess := identity.NewTokenSession(store, refresher,
		identity.WithLogger(h.log),
		identity.WithRedirect(func(context.Context) {
			if err := store.Clear(); err != nil {
				h.log.Error("error clearing session", slog.String("error", err.Error()))
			}
		}))

	c, err := client.NewClient(h.cfg.APIBaseURL, sess, h.cfg.ClientOptions...)
	if err != nil {
		return nil, nil, err
	}
	return c, sess, nil
}

// Notification is operation feedback for the user
type Notification struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// notifications collects invoice service feedback for the JSON response
type notifications struct {
	items []Notification
}

func (n *notifications) Success(msg string) {
	n.items = append(n.items, Notification{Level: "success", Message: msg})
}

func (n *notifications) Error(msg string) {
	n.items = append(n.items, Notification{Level: "error", Message: msg})
}

// response is the JSON envelope returned by every API route
type response struct {
	Data          any            `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	Redirect      string         `json:"redirect,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an API error onto a status code and user message
func (h *Handler) writeError(w http.ResponseWriter, err error, notes *notifications) {
	resp := response{Error: invoices.UserMessage(err)}
	if notes != nil {
		resp.Notifications = notes.items
	}

	status := statusFor(err)
	if status == http.StatusUnauthorized {
		resp.Redirect = middleware.SignInPath
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch client.KindOf(err) {
	case client.KindAuthExpired:
		return http.StatusUnauthorized
	case client.KindForbidden:
		return http.StatusForbidden
	case client.KindNotFound:
		return http.StatusNotFound
	case client.KindValidation:
		return http.StatusBadRequest
	case client.KindHTTP:
		if code := client.StatusCode(err); code >= 400 && code < 500 {
			return code
		}
	}
	return http.StatusBadGateway
}
