package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/invobilled/invobilled/internal/usersync"
)

func newSyncCommand() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Register the signed-in user with the backend",
		Long: `Wait for a valid session and register the signed-in user with the backend.

A user that already exists is not an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := getCliContext(cmd)
			if !c.Session.IsSignedIn() {
				return errors.New("not logged in. Please run 'invobilled auth login' first")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			syncer := c.newSyncer()
			if err := syncer.Run(ctx); err != nil {
				return fmt.Errorf("user sync did not complete: %w", err)
			}

			switch syncer.State() {
			case usersync.StateSynced:
				fmt.Fprintln(cmd.OutOrStdout(), "✓ User synced")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "User sync finished without registering (see logs for details)")
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "How long to wait for a session token")
	return cmd
}
