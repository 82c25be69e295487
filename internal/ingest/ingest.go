// Package ingest feeds source documents into the passage store: chunking,
// content hashing, batched embedding, and idempotent upserts. Ingestion is
// deliberately sequential; there are no parallel workers.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/auslex/auslex/internal/corpus"
	"github.com/auslex/auslex/internal/log"
)

// ErrManagedEnvironment reports a refusal to mutate the corpus from a
// managed or serverless execution context without the explicit override.
var ErrManagedEnvironment = errors.New("refusing to ingest from a managed environment (pass the override to proceed)")

// ErrLocked reports another ingestion already holding the lock.
var ErrLocked = errors.New("another ingestion is already running")

// embedBatchSize bounds one embedding request's payload.
const embedBatchSize = 64

// managedEnvVars identify managed or serverless execution contexts where an
// accidental ingestion is most likely to come from automation.
var managedEnvVars = []string{
	"AWS_LAMBDA_FUNCTION_NAME",
	"K_SERVICE",
	"FUNCTIONS_WORKER_RUNTIME",
	"VERCEL",
}

// Embedder turns passage texts into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Upserter writes passages with embeddings into the store.
type Upserter interface {
	Upsert(ctx context.Context, passages []corpus.Passage, embeddings [][]float32) error
}

// Options controls one ingestion run.
type Options struct {
	// DryRun performs chunking and hashing without calling the embedding
	// provider or writing to the store.
	DryRun bool

	// AllowManaged overrides the managed-environment guard.
	AllowManaged bool

	// MaxTokens and OverlapTokens configure the chunker; zero values use the
	// chunker defaults.
	MaxTokens     int
	OverlapTokens int
}

// Result summarizes an ingestion run.
type Result struct {
	Documents int
	Chunks    int
	Upserted  int
	DryRun    bool
	Duration  time.Duration
}

// Pipeline runs ingestions. embeddingVersion is stamped onto every passage
// so a later model change can be detected per row.
type Pipeline struct {
	embedder         Embedder
	store            Upserter
	embeddingVersion string
	lockPath         string
	logger           log.Logger
}

// New creates a Pipeline.
func New(embedder Embedder, store Upserter, embeddingVersion string, logger log.Logger) *Pipeline {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Pipeline{
		embedder:         embedder,
		store:            store,
		embeddingVersion: embeddingVersion,
		lockPath:         filepath.Join(os.TempDir(), "auslex-ingest.lock"),
		logger:           logger,
	}
}

// Run ingests the given JSONL files sequentially. Non-dry runs refuse to
// execute in a managed environment unless overridden, and take a file lock
// so two ingestions cannot interleave writes.
func (p *Pipeline) Run(ctx context.Context, paths []string, opts Options) (*Result, error) {
	start := time.Now()
	if !opts.DryRun {
		if env := detectManagedEnvironment(); env != "" && !opts.AllowManaged {
			return nil, fmt.Errorf("%w: detected %s", ErrManagedEnvironment, env)
		}

		lock := flock.New(p.lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquiring ingest lock: %w", err)
		}
		if !locked {
			return nil, ErrLocked
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				p.logger.Warn("releasing ingest lock", "error", err)
			}
		}()
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = corpus.DefaultMaxTokens
	}
	overlap := opts.OverlapTokens
	if overlap < 0 {
		overlap = corpus.DefaultOverlapTokens
	}

	result := &Result{DryRun: opts.DryRun}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.ingestFile(ctx, path, maxTokens, overlap, opts.DryRun, result); err != nil {
			return nil, err
		}
	}

	result.Duration = time.Since(start)
	p.logger.Info("ingestion complete",
		"documents", result.Documents,
		"chunks", result.Chunks,
		"upserted", result.Upserted,
		"dry_run", result.DryRun,
		"duration", result.Duration)
	return result, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, path string, maxTokens, overlap int, dryRun bool, result *Result) error {
	docs, err := LoadJSONL(path)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		chunks := corpus.Chunk(doc.ID, doc.Text, doc.Metadata, maxTokens, overlap)
		for i := range chunks {
			chunks[i].ContentHash = corpus.ContentHash(chunks[i].Text, chunks[i].Metadata)
			chunks[i].EmbeddingVersion = p.embeddingVersion
		}

		result.Documents++
		result.Chunks += len(chunks)

		if dryRun {
			continue
		}

		if err := p.embedAndUpsert(ctx, chunks, result); err != nil {
			return fmt.Errorf("ingesting document %q: %w", doc.ID, err)
		}
	}

	p.logger.Debug("ingested file", "path", path, "documents", len(docs))
	return nil
}

// embedAndUpsert processes one document's chunks in fixed-size sub-batches
// to respect provider payload limits.
func (p *Pipeline) embedAndUpsert(ctx context.Context, chunks []corpus.Passage, result *Result) error {
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		embeddings, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}

		if err := p.store.Upsert(ctx, batch, embeddings); err != nil {
			return fmt.Errorf("upserting batch: %w", err)
		}
		result.Upserted += len(batch)
	}
	return nil
}

// detectManagedEnvironment returns the name of the first managed-environment
// variable that is set, or empty when running on an operator's machine.
func detectManagedEnvironment() string {
	for _, name := range managedEnvVars {
		if os.Getenv(name) != "" {
			return name
		}
	}
	return ""
}
