package cmd

import (
	"fmt"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/askany/askany/internal/app"
	"github.com/askany/askany/internal/config"
	"github.com/askany/askany/internal/ingest"
)

var ingestDir string

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "documents directory (default from config)")
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index the documents directory into the knowledge base",
	Long: `Ingest walks the documents directory, splits each document into
overlapping chunks, embeds them and writes the records into PostgreSQL.
Re-running ingest updates changed documents in place.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runIngest(cmd)
	},
}

func runIngest(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ingestDir != "" {
		cfg.DocumentsDir = ingestDir
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

	// A second interrupt kills the process; the first winds ingestion down.
	go func() {
		<-ctx.Done()
		a.Orchestrator.Stop()
	}()

	stats := a.Orchestrator.Run(ctx)
	printStats(cmd, stats)

	if stats.State == ingest.StateFailed {
		return fmt.Errorf("ingestion failed")
	}
	return nil
}

func printStats(cmd *cobra.Command, stats ingest.Stats) {
	cmd.Printf("Job %s: %s\n", stats.ID, stats.State)
	cmd.Printf("  scanned: %d\n", stats.DocumentsScanned)
	cmd.Printf("  indexed: %d\n", stats.DocumentsIndexed)
	cmd.Printf("  failed:  %d\n", stats.DocumentsFailed)
	cmd.Printf("  took:    %s\n", stats.Duration.Round(time.Millisecond))

	if len(stats.FailureReasons) == 0 {
		return
	}
	cmd.Println("Failures:")
	ids := make([]string, 0, len(stats.FailureReasons))
	for id := range stats.FailureReasons {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id == "" {
			cmd.Printf("  (job): %s\n", stats.FailureReasons[id])
			continue
		}
		cmd.Printf("  %s: %s\n", id, stats.FailureReasons[id])
	}
}
