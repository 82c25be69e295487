package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/auslex/auslex/internal/log"
	"github.com/auslex/auslex/internal/observability"
)

// maxEmbedBatch is the Gemini batch embedding request limit.
const maxEmbedBatch = 100

// GeminiClient implements Client over the Gemini API. The API key is read
// from GEMINI_API_KEY by the underlying genai client.
type GeminiClient struct {
	client          *genai.Client
	generativeModel string
	embeddingModel  string
	embeddingDim    int
	retry           retryPolicy
	logger          log.Logger
}

// GeminiOption configures a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithGenerativeModel overrides the generation model.
func WithGenerativeModel(model string) GeminiOption {
	return func(g *GeminiClient) { g.generativeModel = model }
}

// WithEmbeddingModel overrides the embedding model.
func WithEmbeddingModel(model string) GeminiOption {
	return func(g *GeminiClient) { g.embeddingModel = model }
}

// NewGemini creates a Gemini-backed client. dim is the deployment's fixed
// embedding dimension, requested from the provider via OutputDimensionality
// and verified on every response.
func NewGemini(ctx context.Context, dim int, logger log.Logger, opts ...GeminiOption) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	g := &GeminiClient{
		client:          client,
		generativeModel: "gemini-2.5-flash",
		embeddingModel:  "gemini-embedding-001",
		embeddingDim:    dim,
		retry:           defaultRetryPolicy,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Embed returns one embedding per text, batching requests at the provider
// limit. Every returned vector is checked against the configured dimension
// so a provider-side model change cannot silently poison the store.
func (g *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))
		batch := texts[start:end]

		contents := make([]*genai.Content, len(batch))
		for i, t := range batch {
			contents[i] = genai.NewContentFromText(t, genai.RoleUser)
		}

		var resp *genai.EmbedContentResponse
		err := withRetry(ctx, g.logger, g.retry, "embed", func() error {
			var callErr error
			resp, callErr = g.client.Models.EmbedContent(ctx, g.embeddingModel, contents,
				&genai.EmbedContentConfig{
					OutputDimensionality: genai.Ptr(int32(g.embeddingDim)),
				})
			return classify("embed", callErr)
		})
		if err != nil {
			return nil, err
		}

		if len(resp.Embeddings) != len(batch) {
			return nil, &ProviderError{Op: "embed", Err: fmt.Errorf(
				"provider returned %d embeddings for %d texts", len(resp.Embeddings), len(batch))}
		}
		for i, e := range resp.Embeddings {
			if len(e.Values) != g.embeddingDim {
				return nil, &ProviderError{Op: "embed", Err: fmt.Errorf(
					"embedding %d has dimension %d, want %d", start+i, len(e.Values), g.embeddingDim)}
			}
			embeddings = append(embeddings, e.Values)
		}
	}
	return embeddings, nil
}

// Generate performs a single non-streaming generation call with retry on
// transient failures.
func (g *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	config := g.buildConfig(req)
	ctx, span := observability.StartLLMSpan(ctx, "generate", g.generativeModel)
	defer span.End()
	start := time.Now()

	var resp *genai.GenerateContentResponse
	err := withRetry(ctx, g.logger, g.retry, "generate", func() error {
		var callErr error
		resp, callErr = g.client.Models.GenerateContent(ctx, g.generativeModel, req.Contents, config)
		return classify("generate", callErr)
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	out := convertResponse(resp)
	observability.RecordLLMUsage(span, out.Usage.InputTokens, out.Usage.OutputTokens, time.Since(start))
	return out, nil
}

// GenerateStream streams text fragments to onDelta as they arrive and
// returns the aggregated response. Stream failures are not retried mid-way:
// replaying a partially delivered stream would duplicate output, so the
// caller decides how to recover.
func (g *GeminiClient) GenerateStream(ctx context.Context, req Request, onDelta func(delta string) error) (*Response, error) {
	config := g.buildConfig(req)
	ctx, span := observability.StartLLMSpan(ctx, "generate_stream", g.generativeModel)
	defer span.End()
	start := time.Now()

	out := &Response{}
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, g.generativeModel, req.Contents, config) {
		if err != nil {
			err = classify("generate_stream", err)
			observability.RecordError(span, err)
			return nil, err
		}
		if chunk.UsageMetadata != nil {
			out.Usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
			out.Usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
		}
		if calls := chunk.FunctionCalls(); len(calls) > 0 {
			out.FunctionCalls = append(out.FunctionCalls, calls...)
		}
		delta := chunk.Text()
		if delta == "" {
			continue
		}
		out.Text += delta
		if err := onDelta(delta); err != nil {
			return nil, fmt.Errorf("delivering stream delta: %w", err)
		}
	}
	observability.RecordLLMUsage(span, out.Usage.InputTokens, out.Usage.OutputTokens, time.Since(start))
	return out, nil
}

func (g *GeminiClient) buildConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(req.Temperature),
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = req.Tools
	}
	if req.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = req.ResponseSchema
	}
	return config
}

func convertResponse(resp *genai.GenerateContentResponse) *Response {
	out := &Response{
		Text:          resp.Text(),
		FunctionCalls: resp.FunctionCalls(),
	}
	if resp.UsageMetadata != nil {
		out.Usage.InputTokens = resp.UsageMetadata.PromptTokenCount
		out.Usage.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return out
}
