package orchestrator

import (
	"context"
	"fmt"

	"github.com/auslex/auslex/internal/log"
	"github.com/auslex/auslex/internal/observability"
	"github.com/auslex/auslex/internal/store"
)

// RetrievalError reports an embedding or store failure during retrieval.
// The pipeline degrades on it: generation proceeds with an empty passage
// set rather than failing the request.
type RetrievalError struct {
	Stage string // "embed" or "search"
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed at %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Embedder turns query text into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher answers similarity queries over the passage store.
type Searcher interface {
	SimilaritySearch(ctx context.Context, q store.SearchQuery) ([]store.Match, error)
}

// Retriever adapts a validated tool call into a store query: it embeds the
// query text, fills missing jurisdiction and as-at from request-level
// defaults, and clamps the limit.
type Retriever struct {
	embedder     Embedder
	searcher     Searcher
	defaultLimit int
	logger       log.Logger
}

// NewRetriever creates a Retriever. defaultLimit applies when a tool call
// does not specify one; it is clamped to [1, MaxRetrievalLimit].
func NewRetriever(embedder Embedder, searcher Searcher, defaultLimit int, logger log.Logger) *Retriever {
	if defaultLimit < 1 || defaultLimit > MaxRetrievalLimit {
		defaultLimit = MaxRetrievalLimit
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Retriever{
		embedder:     embedder,
		searcher:     searcher,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// Retrieve runs one similarity search for the given tool call. req supplies
// the request-level defaults for fields the model's call left unset.
func (r *Retriever) Retrieve(ctx context.Context, args ToolArgs, req Request) ([]store.Match, error) {
	jurisdiction := args.Jurisdiction
	if jurisdiction == "" {
		jurisdiction = req.Jurisdiction
	}
	asAt := args.AsAt
	if asAt == nil {
		asAt = req.AsAt
	}
	limit := args.Limit
	if limit < 1 {
		limit = r.defaultLimit
	}
	if limit > MaxRetrievalLimit {
		limit = MaxRetrievalLimit
	}

	ctx, span := observability.StartRetrievalSpan(ctx, limit)
	defer span.End()

	embeddings, err := r.embedder.Embed(ctx, []string{args.Query})
	if err != nil {
		observability.RecordError(span, err)
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}
	if len(embeddings) != 1 {
		return nil, &RetrievalError{Stage: "embed",
			Err: fmt.Errorf("got %d embeddings for one query", len(embeddings))}
	}

	matches, err := r.searcher.SimilaritySearch(ctx, store.SearchQuery{
		Embedding:    embeddings[0],
		Jurisdiction: jurisdiction,
		AsAt:         asAt,
		Limit:        limit,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, &RetrievalError{Stage: "search", Err: err}
	}

	r.logger.Debug("retrieved passages",
		"query", args.Query,
		"jurisdiction", jurisdiction,
		"limit", limit,
		"matches", len(matches))
	return matches, nil
}
