package cmd

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/askany/askany/internal/app"
	"github.com/askany/askany/internal/config"
)

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	rootCmd.AddCommand(sessionsCmd)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage conversation sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		a, err := app.Setup(ctx, cfg)
		if err != nil {
			return fmt.Errorf("initializing application: %w", err)
		}
		defer func() {
			if closeErr := a.Close(); closeErr != nil {
				a.Logger.Warn("shutdown error", "error", closeErr)
			}
		}()

		ids := a.Answer.Sessions()
		if len(ids) == 0 {
			cmd.Println("No live sessions.")
			return nil
		}
		sort.Strings(ids)
		for _, id := range ids {
			cmd.Println(id)
		}
		return nil
	},
}
