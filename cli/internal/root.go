package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/invobilled/invobilled/internal/client"
	appconfig "github.com/invobilled/invobilled/internal/config"
	"github.com/invobilled/invobilled/internal/identity"
	"github.com/invobilled/invobilled/internal/pkg/logger"
	"github.com/invobilled/invobilled/internal/usersync"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const cliContextKey contextKey = "cliContext"

// backgroundSync marks commands that register the signed-in user with the
// backend while they run
const backgroundSync = "background-sync"

// syncGrace bounds how long a finished command waits for its background sync
const syncGrace = 3 * time.Second

// CliContext holds shared CLI context
type CliContext struct {
	Config  *Config
	App     *appconfig.Config
	Store   *FileStore
	Session *identity.TokenSession
	Client  *client.Client
	Logger  *slog.Logger

	provider *lazyProvider
	sync     *usersync.Handle
}

// Global logging flags
var (
	logLevel      string
	logFile       string
	logToStderr   bool
	alsoLogStderr bool
	logFormat     string
)

// Execute runs the CLI. Cleanup also happens when a command fails, which
// cobra's post-run hooks don't cover.
func Execute(ctx context.Context, args []string) error {
	var c CliContext
	rootCmd := newRootCommand(&c)
	defer c.close()

	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// NewRootCommand creates the root cobra command
func NewRootCommand() *cobra.Command {
	return newRootCommand(&CliContext{})
}

func newRootCommand(ctx *CliContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "invobilled",
		Short:         "CLI for managing invoices with Invobilled",
		Long:          `A command line interface for creating, listing and sending invoices via the Invobilled API.`,
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors (main.go handles it)
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := setupLogging(); err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}

			ctx.Logger = logger.WithCommand(slog.Default().With("component", "cli"), cmd.CommandPath())
			ctx.Logger.Debug("CLI started", "command", cmd.CommandPath())

			// Config commands manage the contexts themselves
			if isConfigCommand(cmd) {
				return nil
			}

			if err := ctx.connect(cmd.ErrOrStderr()); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, ctx))

			if cmd.Annotations[backgroundSync] == "true" && ctx.Session.IsSignedIn() {
				// A CLI run is short, so check the session right away
				ctx.sync = ctx.newSyncer(usersync.WithInitialDelay(0)).Start(cmd.Context())
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.close()
		},
	}

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newInvoicesCommand())
	rootCmd.AddCommand(newUploadCommand())
	rootCmd.AddCommand(newSyncCommand())

	// Add logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn",
		"Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Log file path (if specified, logs to file instead of stderr)")
	rootCmd.PersistentFlags().BoolVar(&logToStderr, "logtostderr", false,
		"Log to stderr (default behavior unless --log-file specified)")
	rootCmd.PersistentFlags().BoolVar(&alsoLogStderr, "alsologtostderr", false,
		"Log to both file and stderr")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"Log format (text, json)")

	return rootCmd
}

// connect resolves configuration and builds the session and API client
func (c *CliContext) connect(stderr io.Writer) error {
	config, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app, err := config.AppConfig()
	if err != nil {
		return err
	}
	app.LogSummary(c.Logger)

	credsPath, err := credentialsPath(config.CurrentContext)
	if err != nil {
		return err
	}

	c.Config = config
	c.App = app
	c.Store = NewFileStore(credsPath)

	var refresher identity.Refresher
	if app.Identity.Issuer != "" && app.Identity.ClientID != "" {
		c.provider = &lazyProvider{cfg: identityConfig(app)}
		refresher = c.provider
	}

	c.Session = identity.NewTokenSession(c.Store, refresher,
		identity.WithLogger(c.Logger),
		identity.WithRedirect(func(context.Context) {
			fmt.Fprintln(stderr, "Your session has expired. Run 'invobilled auth login' to sign in again.")
		}))

	opts := []client.Option{
		client.WithTimeout(app.API.Timeout),
		client.WithLogger(c.Logger),
		client.WithUserAgent("invobilled-cli"),
	}
	if len(app.API.ExternalHosts) > 0 {
		opts = append(opts, client.WithExternalHosts(app.API.ExternalHosts...))
	}
	c.Client, err = client.NewClient(app.BaseURL(), c.Session, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

func (c *CliContext) newSyncer(opts ...usersync.Option) *usersync.Syncer {
	opts = append([]usersync.Option{usersync.WithLogger(c.Logger)}, opts...)
	return usersync.New(c.Client, c.Session, opts...)
}

// close lets an in-flight background sync finish, up to syncGrace, then
// stops it before the connection goes away
func (c *CliContext) close() error {
	if c.sync != nil {
		select {
		case <-c.sync.Done():
		case <-time.After(syncGrace):
		}
		c.sync.Stop()
		c.sync = nil
	}
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

// Provider returns the OIDC provider for the current context
func (c *CliContext) Provider(ctx context.Context) (*identity.Provider, error) {
	if c.provider == nil {
		return nil, fmt.Errorf("no identity provider configured for context %q (set --issuer and --client-id with 'invobilled config add-context')", c.Config.CurrentContext)
	}
	return c.provider.get(ctx)
}

func identityConfig(app *appconfig.Config) identity.Config {
	return identity.Config{
		Issuer:       app.Identity.Issuer,
		ClientID:     app.Identity.ClientID,
		ClientSecret: app.Identity.ClientSecret,
		Scopes:       app.Identity.Scopes,
	}
}

// lazyProvider defers OIDC discovery until a login or refresh needs it
type lazyProvider struct {
	cfg identity.Config

	mu       sync.Mutex
	provider *identity.Provider
}

func (l *lazyProvider) get(ctx context.Context) (*identity.Provider, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.provider != nil {
		return l.provider, nil
	}
	p, err := identity.NewProvider(ctx, l.cfg)
	if err != nil {
		return nil, err
	}
	l.provider = p
	return p, nil
}

// Refresh implements identity.Refresher
func (l *lazyProvider) Refresh(ctx context.Context, creds *identity.Credentials) (*identity.Credentials, error) {
	p, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return p.Refresh(ctx, creds)
}

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" {
			return true
		}
	}
	return false
}

// setupLogging configures the global logger based on CLI flags
func setupLogging() error {
	// Default to stderr logging unless file is specified
	if logFile == "" {
		logToStderr = true
	}

	cfg := logger.Config{
		Level:         logger.ParseLevel(logLevel),
		LogFile:       logFile,
		LogToStderr:   logToStderr,
		AlsoLogStderr: alsoLogStderr,
		Format:        logFormat,
	}

	globalLogger, err := logger.SetupLogger(cfg)
	if err != nil {
		return err
	}

	slog.SetDefault(globalLogger)
	return nil
}

// getCliContext extracts the CLI context from the command context
func getCliContext(cmd *cobra.Command) *CliContext {
	return cmd.Context().Value(cliContextKey).(*CliContext)
}
