package cmd

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/askany/askany/internal/app"
	"github.com/askany/askany/internal/config"
	"github.com/askany/askany/internal/search"
)

var (
	askSessionID string
	askMode      string
)

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "", "session id to continue a conversation")
	askCmd.Flags().StringVar(&askMode, "mode", "", "retrieval mode: semantic or hybrid (default from config)")
	rootCmd.AddCommand(askCmd)
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question against the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd, strings.Join(args, " "))
	},
}

func runAsk(cmd *cobra.Command, question string) error {
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

	mode := a.Mode()
	switch askMode {
	case "":
	case string(search.Semantic):
		mode = search.Semantic
	case string(search.Hybrid):
		mode = search.Hybrid
	default:
		return fmt.Errorf("unknown mode %q, want semantic or hybrid", askMode)
	}

	ans, err := a.Answer.Ask(ctx, askSessionID, question, mode)
	if err != nil {
		return fmt.Errorf("asking: %w", err)
	}

	cmd.Println(ans.Text)
	if len(ans.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for _, src := range ans.Sources {
			if src.URL != "" {
				cmd.Printf("  - %s (%s)\n", src.Title, src.URL)
				continue
			}
			cmd.Printf("  - %s\n", src.Title)
		}
	}
	cmd.Printf("\nSession: %s\n", ans.SessionID)
	return nil
}
