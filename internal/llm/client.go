// Package llm provides the model provider client used for question
// embedding, tool-calling, and answer generation, with transient-failure
// retry and a typed error taxonomy.
package llm

import (
	"context"

	"google.golang.org/genai"
)

// Request describes one generation call. When ResponseSchema is set the
// provider is forced into JSON mode and must return a document matching the
// schema; Tools and ResponseSchema are mutually exclusive per provider
// constraints.
type Request struct {
	System         string
	Contents       []*genai.Content
	Tools          []*genai.Tool
	ResponseSchema *genai.Schema
	Temperature    float32
	MaxTokens      int
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int32
	OutputTokens int32
}

// Response is the provider's reply. FunctionCalls is non-empty when the
// model chose to invoke a declared tool instead of answering in text.
type Response struct {
	Text          string
	FunctionCalls []*genai.FunctionCall
	Usage         Usage
}

// Client is the provider surface the answer pipeline depends on. Tests
// substitute a scripted fake; production uses GeminiClient.
type Client interface {
	// Embed returns one embedding per input text, all at the configured
	// dimension, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Generate performs a single non-streaming generation call.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream performs a streaming generation call, invoking onDelta
	// for each text fragment as it arrives, and returns the aggregated
	// response. A non-nil error from onDelta aborts the stream.
	GenerateStream(ctx context.Context, req Request, onDelta func(delta string) error) (*Response, error)
}
