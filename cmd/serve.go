package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quadra0/quadra/api"
	"github.com/quadra0/quadra/internal/app"
	"github.com/quadra0/quadra/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server and the learning scheduler",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Serve mode calls out to web search, so fail on a missing key
	// here rather than on the first searched question.
	if err := cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	server := api.NewServer(api.ServerConfig{
		Pool:     a.Pool,
		Answerer: a.Pipeline,
		Feedback: a.Feedback,
		Learning: a.Scheduler,
		Cycles:   a.Cycles,
		Logger:   logger,
	})

	addr := serveAddr
	if addr == "" {
		addr = cfg.ServerAddr
	}

	// The server and the scheduler share the signal context; either
	// one failing tears the other down.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx, addr) })
	g.Go(func() error { return a.Scheduler.Run(gctx) })

	return g.Wait()
}
