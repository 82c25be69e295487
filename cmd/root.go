// Package cmd wires the CLI entry points around the answer pipeline.
package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/auslex/auslex/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "auslex",
	Short: "Retrieval-grounded answers over an Australian legal corpus",
	Long: `auslex answers legal research questions by searching an embedded
passage corpus and generating schema-validated, citation-grounded answers.

Run "auslex serve" to expose the pipeline over HTTP, "auslex ingest" to
load documents into the corpus, or "auslex ask" for a one-shot question.`,
	SilenceUsage: true,
}

// Execute runs the root command. A .env file in the working directory is
// loaded first so GEMINI_API_KEY and AUSLEX_* variables can live there
// during development; a missing file is not an error.
func Execute() error {
	_ = godotenv.Load()
	return rootCmd.Execute()
}

// newLogger builds the process logger. DEBUG in the environment lowers the
// level; logs go to stderr so stdout stays clean for command output.
func newLogger() log.Logger {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	return log.New(log.Config{Level: level, JSON: true})
}
