package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	appconfig "github.com/invobilled/invobilled/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration and contexts",
		Long: `Manage the backends the CLI talks to. Each context names an environment
and optional overrides; credentials are stored per context.`,
	}

	cmd.AddCommand(
		newCurrentContextCommand(),
		newUseContextCommand(),
		newListContextsCommand(),
		newAddContextCommand(),
		newDeleteContextCommand(),
		newConfigShowCommand(),
	)
	return cmd
}

// readConfig wraps a command body that only reads the config
func readConfig(fn func(cmd *cobra.Command, args []string, config *Config) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return fn(cmd, args, config)
	}
}

// updateConfig wraps a command body that changes the config. The config is
// saved only when fn succeeds, and the returned message is printed after.
func updateConfig(fn func(args []string, config *Config) (string, error)) func(*cobra.Command, []string) error {
	return readConfig(func(cmd *cobra.Command, args []string, config *Config) error {
		msg, err := fn(args, config)
		if err != nil {
			return err
		}
		if err := SaveConfig(config); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	})
}

func newCurrentContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-context",
		Short: "Display the current context",
		RunE: readConfig(func(cmd *cobra.Command, _ []string, config *Config) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.CurrentContext)
			return nil
		}),
	}
}

func newUseContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "use-context CONTEXT_NAME",
		Short: "Switch to a different context",
		Args:  cobra.ExactArgs(1),
		RunE: updateConfig(func(args []string, config *Config) (string, error) {
			if err := config.SetCurrentContext(args[0]); err != nil {
				return "", err
			}
			return fmt.Sprintf("Switched to context %q", args[0]), nil
		}),
	}
}

func newListContextsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list-contexts",
		Aliases: []string{"get-contexts"},
		Short:   "List all available contexts",
		RunE: readConfig(func(cmd *cobra.Command, _ []string, config *Config) error {
			if len(config.Contexts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No contexts configured")
				return nil
			}
			writeContexts(cmd.OutOrStdout(), config)
			return nil
		}),
	}
}

// writeContexts prints one row per context, the active one starred
func writeContexts(out io.Writer, config *Config) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "CURRENT\tNAME\tENVIRONMENT\tAPI\tTHEME")
	for _, name := range config.ContextNames() {
		ctx := config.Contexts[name]
		marker := " "
		if name == config.CurrentContext {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", marker, name,
			appconfig.NormalizeEnvironment(ctx.Environment), ctx.BaseURL(), ctx.Rendering.Theme)
	}
}

func newAddContextCommand() *cobra.Command {
	var environment string
	ctx := &Context{}

	cmd := &cobra.Command{
		Use:   "add-context CONTEXT_NAME",
		Short: "Add or update a context",
		Args:  cobra.ExactArgs(1),
		RunE: updateConfig(func(args []string, config *Config) (string, error) {
			env := appconfig.NormalizeEnvironment(environment)
			if env != appconfig.EnvDevelopment && env != appconfig.EnvProduction {
				return "", fmt.Errorf("unknown environment %q (use development or production)", environment)
			}
			ctx.Environment = env
			config.AddContext(args[0], ctx)
			return fmt.Sprintf("Context %q added/updated", args[0]), nil
		}),
	}

	flags := cmd.Flags()
	flags.StringVar(&environment, "environment", appconfig.EnvDevelopment, "Backend environment (development, production)")
	flags.StringVar(&ctx.API.BaseURL, "base-url", "", "Backend API base URL (defaults to the environment's URL)")
	flags.StringVar(&ctx.Identity.Issuer, "issuer", "", "OIDC issuer URL")
	flags.StringVar(&ctx.Identity.ClientID, "client-id", "", "OIDC client ID")
	flags.StringVar(&ctx.Cloudinary.Cloud, "cloud", "", "Cloudinary cloud name")
	flags.StringVar(&ctx.Rendering.Theme, "theme", "auto", "Rendering theme")
	return cmd
}

func newDeleteContextCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-context CONTEXT_NAME",
		Short: "Delete a context",
		Args:  cobra.ExactArgs(1),
		RunE: updateConfig(func(args []string, config *Config) (string, error) {
			if err := config.DeleteContext(args[0]); err != nil {
				return "", err
			}
			return fmt.Sprintf("Context %q deleted", args[0]), nil
		}),
	}
}

// newConfigShowCommand prints the resolved settings of the current context,
// after environment overrides
func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current context configuration",
		RunE: readConfig(func(cmd *cobra.Command, _ []string, config *Config) error {
			ctx, err := config.GetCurrentContext()
			if err != nil {
				return err
			}
			app, err := config.AppConfig()
			if err != nil {
				return err
			}
			configPath, _ := GetConfigPath()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Current context: %s\n", config.CurrentContext)

			w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
			for _, row := range [][2]string{
				{"Environment", app.Environment},
				{"API Base URL", app.BaseURL()},
				{"Timeout", app.API.Timeout.String()},
				{"Identity Issuer", valueOrNone(app.Identity.Issuer)},
				{"Identity Client ID", valueOrNone(app.Identity.ClientID)},
				{"Cloudinary Cloud", valueOrNone(app.Cloudinary.Cloud)},
				{"Glamour Theme", ctx.Rendering.Theme},
				{"Config File", configPath},
			} {
				fmt.Fprintf(w, "  %s:\t%s\n", row[0], row[1])
			}
			return w.Flush()
		}),
	}
}

func valueOrNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
