package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/identity"
	"github.com/invobilled/invobilled/internal/usersync"
	"github.com/invobilled/invobilled/web/internal/middleware"
)

// SignIn starts the OIDC authorization code flow
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	h.startLogin(w, r)
}

// SignUp starts the flow on the provider's registration screen
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	h.startLogin(w, r, identity.SignUpOption)
}

func (h *Handler) startLogin(w http.ResponseWriter, r *http.Request, opts ...oauth2.AuthCodeOption) {
	if h.sessionManager.HasCredentials(r) {
		http.Redirect(w, r, h.cfg.AfterSignIn, http.StatusSeeOther)
		return
	}
	if h.auth == nil {
		http.Error(w, "Sign-in is not configured", http.StatusServiceUnavailable)
		return
	}

	state := identity.NewState()
	verifier := identity.NewVerifier()
	if err := h.sessionManager.SetLoginState(r, w, state, verifier); err != nil {
		h.log.Error("failed to save session", slog.String("error", err.Error()))
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.auth.AuthCodeURL(state, verifier, opts...), http.StatusFound)
}

// AuthCallback handles the OAuth callback, then registers the user with the
// backend before sending the browser on
func (h *Handler) AuthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errorParam := query.Get("error"); errorParam != "" {
		h.log.Error("OAuth error received",
			slog.String("error", errorParam),
			slog.String("error_description", query.Get("error_description")))
		http.Error(w, "Authentication failed", http.StatusBadRequest)
		return
	}
	if h.auth == nil {
		http.Error(w, "Sign-in is not configured", http.StatusServiceUnavailable)
		return
	}

	savedState, verifier, err := h.sessionManager.TakeLoginState(r, w)
	if err != nil {
		http.Error(w, "No sign-in in progress", http.StatusBadRequest)
		return
	}
	if query.Get("state") != savedState {
		h.log.Warn("invalid state parameter - possible CSRF attempt")
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	creds, err := h.auth.Exchange(ctx, code, verifier)
	if err != nil {
		h.log.Error("failed to exchange code", slog.String("error", err.Error()))
		http.Error(w, "Authentication failed", http.StatusBadGateway)
		return
	}

	c, sess, err := h.getClient(w, r)
	if err != nil {
		h.log.Error("failed to create API client", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if err := sess.SignIn(creds); err != nil {
		h.log.Error("failed to save credentials", slog.String("error", err.Error()))
		http.Error(w, "Failed to complete login", http.StatusInternalServerError)
		return
	}

	h.log.Info("user signed in",
		slog.String("user_id", creds.User.ID),
		slog.String("email", creds.User.Email))

	syncCtx, cancelSync := context.WithTimeout(r.Context(), h.cfg.SyncTimeout)
	defer cancelSync()

	syncer := usersync.New(c, sess, usersync.WithInitialDelay(0), usersync.WithLogger(h.log))
	if err := syncer.Run(syncCtx); err != nil {
		h.log.Warn("user sync did not complete", slog.String("error", err.Error()))
	}

	http.Redirect(w, r, h.cfg.AfterSignIn, http.StatusSeeOther)
}

// Logout clears the session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionManager.Clear(r, w); err != nil {
		h.log.Error("error clearing session", slog.String("error", err.Error()))
	}
	http.Redirect(w, r, h.cfg.AfterSignOut, http.StatusSeeOther)
}

type meResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName,omitempty"`
	LastName  string    `json:"lastName,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Me returns the signed-in user's profile
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	creds, err := h.sessionManager.Credentials(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, response{
			Error:    client.MsgAuthExpired,
			Redirect: middleware.SignInPath,
		})
		return
	}
	writeJSON(w, http.StatusOK, response{Data: meResponse{
		ID:        creds.User.ID,
		Email:     creds.User.Email,
		FirstName: creds.User.FirstName,
		LastName:  creds.User.LastName,
		ImageURL:  creds.User.ImageURL,
		ExpiresAt: creds.Expiry(),
	}})
}
