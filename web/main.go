package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/invobilled/invobilled/internal/client"
	appconfig "github.com/invobilled/invobilled/internal/config"
	"github.com/invobilled/invobilled/internal/identity"
	"github.com/invobilled/invobilled/internal/pkg/logger"
	"github.com/invobilled/invobilled/internal/upload"
	"github.com/invobilled/invobilled/web/internal/config"
	"github.com/invobilled/invobilled/web/internal/handlers"
	"github.com/invobilled/invobilled/web/internal/middleware"
	"github.com/invobilled/invobilled/web/internal/session"
)

// setupWebLogging configures the global logger for the web service
func setupWebLogging(logLevel, logFormat string) error {
	cfg := logger.Config{
		Level:       logger.ParseLevel(logLevel),
		LogToStderr: true, // Web service always logs to stderr
		Format:      logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to web config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err = setupWebLogging(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to setup logging: %v\n", err)
		os.Exit(1)
	}

	log := slog.Default().With("component", "web")
	log.Info("starting invobilled web service")
	cfg.LogSummary(log)

	app, err := appconfig.Load(cfg.App.ConfigPath)
	if err != nil {
		log.Error("failed to load application config", slog.Any("error", err))
		os.Exit(1)
	}
	app.LogSummary(log)

	sessionSecret, err := cfg.SessionKey()
	if err != nil {
		log.Error("invalid session secret", slog.Any("error", err))
		os.Exit(1)
	}
	if sessionSecret == nil {
		log.Warn("no session secret configured, generating random one (sessions won't persist)")
		sessionSecret = make([]byte, 32)
		if _, err := rand.Read(sessionSecret); err != nil {
			log.Error("failed to generate session secret", slog.Any("error", err))
			os.Exit(1)
		}
	}

	sessionMgr := session.NewManager(sessionSecret, session.Options{
		Secure: cfg.Session.Secure,
		MaxAge: cfg.Session.MaxAge,
	})
	authMw := middleware.NewAuthMiddleware(sessionMgr, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stays nil when no identity provider is configured
	var auth handlers.Authenticator
	if app.Identity.Issuer != "" && app.Identity.ClientID != "" {
		provider, err := connectProvider(ctx, app, cfg, log)
		if err != nil {
			log.Error("failed to connect to identity provider", slog.Any("error", err))
			os.Exit(1)
		}
		auth = provider
	} else {
		log.Warn("no identity provider configured, sign-in is disabled")
	}

	clientOpts := []client.Option{
		client.WithTimeout(app.API.Timeout),
		client.WithLogger(log),
		client.WithUserAgent("invobilled-web"),
	}
	if len(app.API.ExternalHosts) > 0 {
		clientOpts = append(clientOpts, client.WithExternalHosts(app.API.ExternalHosts...))
	}

	h := handlers.New(sessionMgr, auth, handlers.Config{
		APIBaseURL:    app.BaseURL(),
		ClientOptions: clientOpts,
		UploadOptions: []upload.Option{
			upload.WithCloud(app.Cloudinary.Cloud),
			upload.WithPreset(app.Cloudinary.Preset),
			upload.WithEndpoint(app.Cloudinary.Endpoint),
		},
		AfterSignIn:  cfg.OAuth.AfterSignIn,
		AfterSignOut: cfg.OAuth.AfterSignOut,
		SyncTimeout:  cfg.Sync.Timeout,
	}, log)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           createRouter(h, authMw, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("error during shutdown", slog.Any("error", err))
		}
	}()

	log.Info("listening", slog.String("address", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to start server", slog.Any("error", err))
		os.Exit(1)
	}
	log.Info("web service stopped")
}

// connectProvider runs OIDC discovery, retrying while the issuer comes up
func connectProvider(ctx context.Context, app *appconfig.Config, cfg *config.WebServerConfig, log *slog.Logger) (*identity.Provider, error) {
	idCfg := identity.Config{
		Issuer:       app.Identity.Issuer,
		ClientID:     app.Identity.ClientID,
		ClientSecret: app.Identity.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURI,
		Scopes:       app.Identity.Scopes,
	}

	attempts := max(cfg.OAuth.ProviderRetry, 1)
	var lastErr error
	for i := 0; i < attempts; i++ {
		discoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		provider, err := identity.NewProvider(discoverCtx, idCfg)
		cancel()
		if err == nil {
			return provider, nil
		}
		lastErr = err

		if i < attempts-1 {
			log.Info("identity provider not ready yet, retrying",
				slog.Int("attempt", i+1),
				slog.Int("max_attempts", attempts),
				slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
	}
	return nil, lastErr
}

// createRouter sets up the HTTP router with all routes and middleware
func createRouter(h *handlers.Handler, authMw *middleware.AuthMiddleware, log *slog.Logger) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.LogRequest(log))

	// Health check endpoint (no auth required)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	h.Register(router, authMw)
	return router
}
