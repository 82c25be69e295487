package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/auslex/auslex/internal/corpus"
	"github.com/auslex/auslex/internal/ingest"
)

var ingestFlags struct {
	dryRun           bool
	allowManaged     bool
	embeddingVersion string
	maxTokens        int
	overlapTokens    int
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.jsonl> [more.jsonl ...]",
	Short: "Chunk, embed, and load documents into the corpus",
	Long: `ingest reads JSONL document files, splits each document into
overlapping passages, embeds them, and upserts them into the corpus.
Re-running over the same input is safe: passages are keyed by content
hash, so unchanged text is never re-embedded into duplicates.

Ingestion refuses to run inside managed serverless environments, where
concurrent invocations would race each other through the corpus.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context(), args)
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestFlags.dryRun, "dry-run", false,
		"parse and chunk only; no provider or database calls")
	ingestCmd.Flags().BoolVar(&ingestFlags.allowManaged, "allow-managed", false,
		"override the managed-environment guard")
	ingestCmd.Flags().StringVar(&ingestFlags.embeddingVersion, "embedding-version", "",
		"embedding version tag stamped on every passage (default: the embedder model name)")
	ingestCmd.Flags().IntVar(&ingestFlags.maxTokens, "max-tokens", corpus.DefaultMaxTokens,
		"maximum tokens per passage")
	ingestCmd.Flags().IntVar(&ingestFlags.overlapTokens, "overlap-tokens", corpus.DefaultOverlapTokens,
		"token overlap between adjacent passages")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context, paths []string) error {
	logger := newLogger()

	opts := ingest.Options{
		DryRun:        ingestFlags.dryRun,
		AllowManaged:  ingestFlags.allowManaged,
		MaxTokens:     ingestFlags.maxTokens,
		OverlapTokens: ingestFlags.overlapTokens,
	}

	// Dry runs never touch the provider or the store, so skip the full
	// dependency setup and run against nil backends.
	if opts.DryRun {
		pipeline := ingest.New(nil, nil, ingestFlags.embeddingVersion, logger)
		result, err := pipeline.Run(ctx, paths, opts)
		if err != nil {
			return err
		}
		fmt.Printf("dry run: %d documents, %d chunks\n", result.Documents, result.Chunks)
		return nil
	}

	a, err := setup(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	version := ingestFlags.embeddingVersion
	if version == "" {
		version = a.cfg.EmbedderModel
	}

	pipeline := ingest.New(a.client, a.store, version, logger)
	result, err := pipeline.Run(ctx, paths, opts)
	if err != nil {
		return err
	}

	fmt.Printf("ingested %d documents as %d chunks (%d upserted)\n",
		result.Documents, result.Chunks, result.Upserted)
	return nil
}
