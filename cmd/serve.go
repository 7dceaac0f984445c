package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/askany/askany/api"
	"github.com/askany/askany/internal/app"
	"github.com/askany/askany/internal/config"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd)
	},
}

// parseRateLimit reads ASKANY_API_RATE from the environment: requests per
// second per client IP. Zero or unset disables rate limiting.
func parseRateLimit() float64 {
	v := os.Getenv("ASKANY_API_RATE")
	if v == "" {
		return 0
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func runServe(cmd *cobra.Command) error {
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

	addr := cfg.ServerAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	rps := parseRateLimit()
	server := api.NewServer(a.Answer, a.DBPool, api.Config{
		Addr:              addr,
		DefaultMode:       a.Mode(),
		RequestsPerSecond: rps,
		Burst:             int(rps * 2),
		TrustProxy:        cfg.TrustProxy,
	}, a.Logger)

	a.Logger.Info("HTTP server ready",
		"addr", addr,
		"api", "/api/*",
		"health", "/healthz, /readyz",
	)
	return server.Run(ctx)
}
