package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quadra0/quadra/internal/app"
	"github.com/quadra0/quadra/internal/config"
	"github.com/quadra0/quadra/internal/feedback"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one learning cycle and exit",
	RunE:  runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

func runCycle(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx := cmd.Context()
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

	result := a.Loop.RunCycle(ctx, feedback.TriggerManual)

	if result.Success {
		fmt.Printf("cycle completed: score %.3f from %d examples\n",
			result.Score, result.ExamplesUsed)
		return nil
	}
	fmt.Printf("cycle completed without publishing: %s\n", result.Error)
	return nil
}
