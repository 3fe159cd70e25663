package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quadra0/quadra/internal/app"
	"github.com/quadra0/quadra/internal/config"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a mathematics question from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
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

	question := strings.Join(args, " ")
	result := a.Pipeline.Process(ctx, question)

	fmt.Println(result.Answer)
	if len(result.Steps) > 0 {
		fmt.Println()
		for _, step := range result.Steps {
			fmt.Println(" ", step)
		}
	}
	fmt.Println()
	fmt.Printf("confidence: %.2f  routing: %s\n", result.Confidence, result.RoutingDecision)
	for _, src := range result.Sources {
		fmt.Println("source:", src)
	}
	if result.Error != "" {
		fmt.Println("note:", result.Error)
	}
	return nil
}
