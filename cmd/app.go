package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/auslex/auslex/db"
	"github.com/auslex/auslex/internal/config"
	"github.com/auslex/auslex/internal/llm"
	"github.com/auslex/auslex/internal/log"
	"github.com/auslex/auslex/internal/orchestrator"
	"github.com/auslex/auslex/internal/store"
)

// app bundles the long-lived dependencies shared by serve and ask.
type app struct {
	cfg          *config.Config
	pool         *pgxpool.Pool
	store        *store.Store
	client       *llm.GeminiClient
	orchestrator *orchestrator.Orchestrator
	logger       log.Logger
}

// setup loads configuration, migrates the database, and wires the pipeline.
// The embedding dimension is verified against the live schema before any
// request runs: a mismatch between the configured dimension and the vector
// column would corrupt every similarity ranking, so it fails startup.
func setup(ctx context.Context, logger log.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	st := store.New(pool, cfg.EmbeddingDim, logger)
	if err := st.CheckDimension(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("verifying embedding dimension: %w", err)
	}

	client, err := llm.NewGemini(ctx, cfg.EmbeddingDim, logger,
		llm.WithGenerativeModel(cfg.GenerationModel),
		llm.WithEmbeddingModel(cfg.EmbedderModel),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating provider client: %w", err)
	}

	retriever := orchestrator.NewRetriever(client, st, cfg.RetrievalLimit, logger)
	orch := orchestrator.New(client, retriever, orchestrator.Config{
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		RetrievalLimit: cfg.RetrievalLimit,
	}, logger)

	return &app{
		cfg:          cfg,
		pool:         pool,
		store:        st,
		client:       client,
		orchestrator: orch,
		logger:       logger,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}
