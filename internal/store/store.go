// Package store persists legal passages with embeddings in PostgreSQL and
// serves filtered cosine similarity search over them via pgvector.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/auslex/auslex/internal/corpus"
	"github.com/auslex/auslex/internal/log"
)

var (
	// ErrLengthMismatch reports an upsert whose passages and embeddings
	// slices differ in length. This is a caller bug, not a data condition.
	ErrLengthMismatch = errors.New("passages and embeddings length mismatch")

	// ErrDimensionMismatch reports an embedding whose dimension differs from
	// the configured deployment dimension. This is a configuration error and
	// must never be written through silently.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Search limit bounds at the storage boundary. The retriever applies its own
// tighter clamp before queries reach here.
const (
	MinSearchLimit     = 1
	MaxSearchLimit     = 50
	DefaultSearchLimit = 8
)

// defaultQueryTimeout bounds each similarity query so a degraded index or a
// saturated pool cannot hold a request open indefinitely.
const defaultQueryTimeout = 10 * time.Second

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Match is a passage returned by similarity search, scored as
// 1 − cosine_distance.
type Match struct {
	Passage    corpus.Passage `json:"passage"`
	Similarity float64        `json:"similarity"`
}

// SearchQuery describes one similarity search. Jurisdiction and AsAt are
// pushed into the SQL itself rather than applied to a top-K result set:
// post-filtering a similarity-ranked top-K can silently drop every valid
// result when the best global matches belong to the wrong jurisdiction.
type SearchQuery struct {
	Embedding    []float32
	Jurisdiction string     // exact match; empty means all jurisdictions
	AsAt         *time.Time // in-force filter; nil means any time
	Limit        int        // clamped to [MinSearchLimit, MaxSearchLimit]
}

// Store manages the passages table. It is safe for concurrent use; the
// underlying pgxpool bounds connection usage and every query runs under a
// timeout.
type Store struct {
	db           querier
	dim          int
	queryTimeout time.Duration
	logger       log.Logger
}

// New creates a Store over the given pool. dim is the deployment's fixed
// embedding dimension; call CheckDimension after construction to fail fast
// if it disagrees with the schema.
func New(pool *pgxpool.Pool, dim int, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: pool, dim: dim, queryTimeout: defaultQueryTimeout, logger: logger}
}

// CheckDimension verifies that the configured embedding dimension matches
// the vector column in the passages table. pgvector records the dimension
// as the column's type modifier.
func (s *Store) CheckDimension(ctx context.Context) error {
	var schemaDim int
	err := s.db.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'passages'::regclass AND attname = 'embedding'`,
	).Scan(&schemaDim)
	if err != nil {
		return fmt.Errorf("reading embedding column dimension: %w", err)
	}
	if schemaDim != s.dim {
		return fmt.Errorf("%w: configured %d, schema declares vector(%d)",
			ErrDimensionMismatch, s.dim, schemaDim)
	}
	return nil
}

const upsertSQL = `INSERT INTO passages (
	id, text, jurisdiction, source_type, court_or_publisher, title,
	citation, provision, paragraph, url,
	date_made, date_in_force_from, date_in_force_to, version,
	content_hash, embedding, embedding_version, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now())
ON CONFLICT (content_hash) DO UPDATE SET
	text               = EXCLUDED.text,
	court_or_publisher = EXCLUDED.court_or_publisher,
	title              = EXCLUDED.title,
	url                = EXCLUDED.url,
	date_made          = EXCLUDED.date_made,
	date_in_force_from = EXCLUDED.date_in_force_from,
	date_in_force_to   = EXCLUDED.date_in_force_to,
	embedding          = EXCLUDED.embedding,
	embedding_version  = EXCLUDED.embedding_version,
	updated_at         = now()`

// Upsert writes passages with their embeddings, keyed by content hash.
// Re-publishing identical content updates the existing row in place, so
// ingestion is idempotent. The two slices must be equal length.
func (s *Store) Upsert(ctx context.Context, passages []corpus.Passage, embeddings [][]float32) error {
	if len(passages) != len(embeddings) {
		return fmt.Errorf("%w: %d passages, %d embeddings",
			ErrLengthMismatch, len(passages), len(embeddings))
	}
	if len(passages) == 0 {
		return nil
	}

	for i, emb := range embeddings {
		if len(emb) != s.dim {
			return fmt.Errorf("%w: passage %q has dimension %d, want %d",
				ErrDimensionMismatch, passages[i].ID, len(emb), s.dim)
		}
	}

	batch := &pgx.Batch{}
	for i, p := range passages {
		md := p.Metadata
		batch.Queue(upsertSQL,
			p.ID, p.Text, md.Jurisdiction, string(md.SourceType),
			md.CourtOrPublisher, md.Title, md.Citation, md.Provision,
			md.Paragraph, md.URL,
			md.DateMade, md.DateInForceFrom, md.DateInForceTo, md.Version,
			p.ContentHash, pgvector.NewVector(embeddings[i]), p.EmbeddingVersion,
		)
	}

	pool, ok := s.db.(*pgxpool.Pool)
	if !ok {
		// Fallback for non-pool queriers (transactions in tests).
		for i, p := range passages {
			md := p.Metadata
			if _, err := s.db.Exec(ctx, upsertSQL,
				p.ID, p.Text, md.Jurisdiction, string(md.SourceType),
				md.CourtOrPublisher, md.Title, md.Citation, md.Provision,
				md.Paragraph, md.URL,
				md.DateMade, md.DateInForceFrom, md.DateInForceTo, md.Version,
				p.ContentHash, pgvector.NewVector(embeddings[i]), p.EmbeddingVersion,
			); err != nil {
				return fmt.Errorf("upserting passage %q: %w", p.ID, err)
			}
		}
		return nil
	}

	results := pool.SendBatch(ctx, batch)
	defer func() {
		if err := results.Close(); err != nil {
			s.logger.Debug("closing upsert batch", "error", err)
		}
	}()

	for i := range passages {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting passage %q: %w", passages[i].ID, err)
		}
	}

	s.logger.Debug("upserted passages", "count", len(passages))
	return nil
}

const searchSQL = `SELECT
	id, text, jurisdiction, source_type, court_or_publisher, title,
	citation, provision, paragraph, url,
	date_made, date_in_force_from, date_in_force_to, version,
	content_hash, embedding_version,
	1 - (embedding <=> $1) AS similarity
FROM passages
WHERE ($2 = '' OR jurisdiction = $2)
  AND ($3::date IS NULL OR (
	(date_in_force_from IS NULL OR date_in_force_from <= $3::date) AND
	(date_in_force_to IS NULL OR date_in_force_to >= $3::date)))
ORDER BY embedding <=> $1
LIMIT $4`

// SimilaritySearch returns the top-limit passages by descending cosine
// similarity, with jurisdiction and as-at filters applied inside the query.
// The HNSW index accelerates the scan when available; without it pgvector
// falls back to an exact linear scan, so results stay correct either way.
func (s *Store) SimilaritySearch(ctx context.Context, q SearchQuery) ([]Match, error) {
	if len(q.Embedding) != s.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d",
			ErrDimensionMismatch, len(q.Embedding), s.dim)
	}

	limit := ClampLimit(q.Limit)

	queryCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.db.Query(queryCtx, searchSQL,
		pgvector.NewVector(q.Embedding), q.Jurisdiction, q.AsAt, limit)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("similarity search timeout: %w", err)
		}
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			p          corpus.Passage
			sourceType string
			similarity float64
		)
		if err := rows.Scan(
			&p.ID, &p.Text, &p.Metadata.Jurisdiction, &sourceType,
			&p.Metadata.CourtOrPublisher, &p.Metadata.Title,
			&p.Metadata.Citation, &p.Metadata.Provision,
			&p.Metadata.Paragraph, &p.Metadata.URL,
			&p.Metadata.DateMade, &p.Metadata.DateInForceFrom,
			&p.Metadata.DateInForceTo, &p.Metadata.Version,
			&p.ContentHash, &p.EmbeddingVersion,
			&similarity,
		); err != nil {
			return nil, fmt.Errorf("scanning passage row: %w", err)
		}
		p.Metadata.SourceType = corpus.SourceType(sourceType)
		matches = append(matches, Match{Passage: p, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading search results: %w", err)
	}

	return matches, nil
}

// Count returns the number of stored passages.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM passages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting passages: %w", err)
	}
	return count, nil
}

// Ping reports whether the backing database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

// ClampLimit bounds a requested result count to the storage search limits.
// Non-positive values fall back to the default rather than the minimum, so
// an unset limit still returns a useful result set.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultSearchLimit
	case limit > MaxSearchLimit:
		return MaxSearchLimit
	default:
		return limit
	}
}
