package cli

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/invobilled/invobilled/internal/client"
	"github.com/invobilled/invobilled/internal/identity"
	"github.com/invobilled/invobilled/internal/usersync"
)

const (
	// defaultCallbackPort must be registered as a redirect URI with the identity provider
	defaultCallbackPort = 8085
	loginTimeout        = 5 * time.Minute
	loginSyncTimeout    = 30 * time.Second
)

// formatDuration formats a duration in a human-friendly way (e.g., "2 days, 3 hours and 45 minutes")
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	units := []struct {
		n    int
		name string
	}{
		{int(d.Hours() / 24), "day"},
		{int(d.Hours()) % 24, "hour"},
		{int(d.Minutes()) % 60, "minute"},
	}

	var parts []string
	for _, u := range units {
		if u.n > 0 {
			parts = append(parts, plural(u.n, u.name))
		}
	}
	if len(parts) == 0 {
		if seconds := int(d.Seconds()) % 60; seconds > 0 {
			parts = append(parts, plural(seconds, "second"))
		}
	}

	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
		Long:  `Manage authentication for the Invobilled CLI`,
	}

	cmd.AddCommand(newAuthLoginCommand())
	cmd.AddCommand(newAuthLogoutCommand())
	cmd.AddCommand(newAuthStatusCommand())
	cmd.AddCommand(newAuthTokenCommand())

	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var (
		port      int
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the identity provider",
		Long: `Authenticate using the browser-based authorization code flow with PKCE.

After signing in, the account is registered with the backend.

Examples:
  # Sign in (opens browser)
  invobilled auth login

  # Print the sign-in URL instead of opening a browser
  invobilled auth login --no-browser`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			logger := c.Logger.With("command", "login")
			logger.Info("starting login", "callback_port", port)

			creds, err := loginWithBrowser(cmd.Context(), c, cmd.OutOrStdout(), port, !noBrowser)
			if err != nil {
				return err
			}
			if err := c.Session.SignIn(creds); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "\n✓ Successfully authenticated!")
			fmt.Fprintf(out, "  Logged in as: %s\n", creds.User.Email)
			if exp := creds.Expiry(); !exp.IsZero() {
				fmt.Fprintf(out, "  Token expires: %s\n", exp.Local().Format("2006-01-02 15:04:05"))
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), loginSyncTimeout)
			defer cancel()
			syncer := c.newSyncer(usersync.WithInitialDelay(0))
			if err := syncer.Run(ctx); err != nil {
				logger.Warn("user sync did not complete", slog.String("error", err.Error()))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", defaultCallbackPort, "Local port for the OAuth callback")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Don't open a browser; print the sign-in URL only")

	return cmd
}

var successPage = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html>
<head>
	<meta charset="UTF-8">
	<title>Authentication Successful</title>
	<style>
		body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; text-align: center; padding: 50px; background: #f5f5f5; }
		.container { max-width: 500px; margin: 0 auto; background: white; padding: 40px; border-radius: 12px; box-shadow: 0 2px 8px rgba(0,0,0,0.1); }
		h1 { color: #10b981; margin: 0 0 10px 0; }
		.message { color: #666; margin: 20px 0; }
	</style>
</head>
<body>
	<div class="container">
		<h1>Authentication Successful!</h1>
		<p class="message">Signed in{{if .Email}} as {{.Email}}{{end}}. You can close this window and return to the terminal.</p>
	</div>
</body>
</html>`))

type callbackResult struct {
	code string
	err  error
}

// loginWithBrowser runs the authorization code flow against a local callback server
func loginWithBrowser(ctx context.Context, c *CliContext, out io.Writer, port int, open bool) (*identity.Credentials, error) {
	provider, err := c.Provider(ctx)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server on port %d: %w (is another instance running?)", port, err)
	}

	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/callback", listener.Addr().(*net.TCPAddr).Port)
	provider = provider.WithRedirectURL(redirectURI)

	state := identity.NewState()
	verifier := identity.NewVerifier()
	results := make(chan callbackResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", callbackHandler(state, results))

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go server.Serve(listener)
	defer server.Close()

	authURL := provider.AuthCodeURL(state, verifier)
	fmt.Fprintln(out, "\n🔐 Opening browser for authentication...")
	fmt.Fprintf(out, "If the browser doesn't open automatically, visit:\n%s\n\n", authURL)
	if open {
		if err := openBrowser(authURL); err != nil {
			fmt.Fprintf(out, "Failed to open browser automatically: %v\n", err)
		}
	}
	fmt.Fprintln(out, "Waiting for authentication...")

	var result callbackResult
	select {
	case result = <-results:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(loginTimeout):
		return nil, errors.New("authentication timeout")
	}
	if result.err != nil {
		return nil, result.err
	}

	return provider.Exchange(ctx, result.code, verifier)
}

// callbackHandler receives the authorization response and reports the
// first result on results
func callbackHandler(state string, results chan<- callbackResult) http.HandlerFunc {
	report := func(r callbackResult) {
		select {
		case results <- r:
		default:
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "Invalid state", http.StatusBadRequest)
			report(callbackResult{err: errors.New("state mismatch in authorization response")})
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authorization failed", http.StatusBadRequest)
			report(callbackResult{err: fmt.Errorf("authorization failed: %s %s", e, q.Get("error_description"))})
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "Authorization failed", http.StatusBadRequest)
			report(callbackResult{err: errors.New("no authorization code received")})
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := successPage.Execute(w, struct{ Email string }{}); err != nil {
			slog.Debug("failed to render success page", slog.String("error", err.Error()))
		}
		report(callbackResult{code: code})
	}
}

// openBrowser tries to open the URL in a browser
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return fmt.Errorf("unsupported platform")
	}

	return cmd.Start()
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			if !c.Session.IsSignedIn() {
				return errors.New("not logged in")
			}

			if err := c.Session.SignOut(); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "✓ Successfully logged out")
			return nil
		},
	}
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			creds, ok := c.Session.Credentials()
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Not logged in")
				return nil
			}
			writeStatus(cmd.OutOrStdout(), creds, time.Now())
			return nil
		},
	}
}

func writeStatus(out io.Writer, creds *identity.Credentials, now time.Time) {
	fmt.Fprintf(out, "Logged in as: %s\n", creds.User.Email)
	fmt.Fprintf(out, "User ID: %s\n", creds.User.ID)

	expiresAt := creds.Expiry()
	if expiresAt.IsZero() {
		fmt.Fprintln(out, "Token expiry: unknown")
		return
	}
	fmt.Fprintf(out, "Token expires: %s\n", expiresAt.Local().Format("2006-01-02 15:04:05 MST"))

	if now.After(expiresAt) {
		fmt.Fprintf(out, "⚠  Token expired %s ago - automatic refresh will be attempted on next request\n", formatDuration(now.Sub(expiresAt)))
	} else {
		fmt.Fprintf(out, "✓  Valid for %s\n", formatDuration(expiresAt.Sub(now)))
	}
}

func newAuthTokenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Display a current access token, refreshing it if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			token, err := c.Session.GetToken(cmd.Context(), client.TokenOptions{Leeway: client.RefreshLeeway})
			if err != nil {
				return err
			}
			if token == "" {
				return errors.New("not logged in")
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}
