// Package cmd implements the quadra command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quadra0/quadra/internal/log"
)

var (
	verbose bool
	logJSON bool
)

var rootCmd = &cobra.Command{
	Use:   "quadra",
	Short: "Quadra - a self-improving mathematics question-answering service",
	Long: `Quadra answers mathematics questions using a knowledge base,
web search and an LLM, and improves its own generation prompts from
user feedback through periodic learning cycles.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log in JSON format")
}

// newLogger builds the process logger from the global flags.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: logJSON})
}
