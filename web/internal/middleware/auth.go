package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/invobilled/invobilled/web/internal/session"
)

// SignInPath is where unauthenticated page requests are sent
const SignInPath = "/sign-in"

// AuthMiddleware handles authentication checks for requests.
// Token refresh happens in the per-request API client, not here.
type AuthMiddleware struct {
	sessionManager *session.Manager
	log            *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(sessionManager *session.Manager, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessionManager: sessionManager,
		log:            logger.With(slog.String("component", "auth_middleware")),
	}
}

// RequireAuth ensures the user is signed in. API requests get a JSON 401,
// page requests are redirected to sign-in.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.sessionManager.HasCredentials(r) {
			next.ServeHTTP(w, r)
			return
		}

		m.log.Debug("no credentials in session", slog.String("path", r.URL.Path))
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error":    "Please sign in to continue.",
				"redirect": SignInPath,
			})
			return
		}
		http.Redirect(w, r, SignInPath, http.StatusSeeOther)
	})
}
