// Package orchestrator drives the answer pipeline for one question: a
// tool-call turn that asks the model what to search for, retrieval from the
// passage store, schema-constrained answer generation, validation with a
// single correction attempt, and conservative confidence finalization.
package orchestrator

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/auslex/auslex/internal/answer"
	"github.com/auslex/auslex/internal/llm"
	"github.com/auslex/auslex/internal/log"
	"github.com/auslex/auslex/internal/observability"
	"github.com/auslex/auslex/internal/store"
)

//go:embed prompts/research.md
var researchPrompt string

//go:embed prompts/generate.md
var generatePrompt string

//go:embed prompts/stream.md
var streamPrompt string

//go:embed prompts/correct.md
var correctPrompt string

// searchCorpusTool is the single function exposed to the model during the
// tool-call turn.
var searchCorpusTool = &genai.Tool{
	FunctionDeclarations: []*genai.FunctionDeclaration{{
		Name:        "search_corpus",
		Description: "Search the legal corpus for passages relevant to a query.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {
					Type:        genai.TypeString,
					Description: "Focused search query derived from the question.",
				},
				"jurisdiction": {
					Type:        genai.TypeString,
					Description: "Jurisdiction filter, e.g. Cth, NSW, Vic.",
				},
				"as_at": {
					Type:        genai.TypeString,
					Description: "Point-in-time filter as a YYYY-MM-DD date.",
				},
				"limit": {
					Type:        genai.TypeInteger,
					Description: "Number of passages to retrieve, 1 to 12.",
				},
			},
			Required: []string{"query"},
		},
	}},
}

// Request is one inbound question with its request-level retrieval defaults.
type Request struct {
	Question     string
	Jurisdiction string
	AsAt         *time.Time
}

// Result is the outcome of a completed pipeline run.
type Result struct {
	Answer   *answer.Answer
	Matches  []store.Match
	Degraded bool // retrieval failed; the answer is not grounded
	Duration time.Duration
}

// Config carries the generation settings the orchestrator passes through to
// the provider.
type Config struct {
	Temperature    float32
	MaxTokens      int
	RetrievalLimit int
}

// Orchestrator runs the answer pipeline. It holds no per-request state and
// is safe for concurrent use.
type Orchestrator struct {
	client    llm.Client
	retriever *Retriever
	cfg       Config
	logger    log.Logger
}

// New creates an Orchestrator.
func New(client llm.Client, retriever *Retriever, cfg Config, logger log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{client: client, retriever: retriever, cfg: cfg, logger: logger}
}

// Answer runs the full pipeline synchronously and returns the validated
// answer with the passages it was grounded on.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	ctx, span := observability.StartPipelineSpan(ctx, req.Jurisdiction)
	defer span.End()

	matches, degraded, err := o.research(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordRetrievalResult(span, len(matches), degraded)

	// An empty result from a healthy search means the corpus has nothing on
	// the topic; a grounded generation call cannot improve on saying so.
	if len(matches) == 0 && !degraded {
		a := answer.CannotAnswer(req.Question)
		return &Result{Answer: a, Duration: time.Since(start)}, nil
	}

	a, err := o.generateValidated(ctx, req, matches)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	finalize(a, req, matches)
	return &Result{
		Answer:   a,
		Matches:  matches,
		Degraded: degraded,
		Duration: time.Since(start),
	}, nil
}

// AnswerStream runs the pipeline in streaming mode: prose deltas from a
// streaming generation call are forwarded through onDelta as they arrive,
// then a second, non-streamed call produces the authoritative validated
// answer. Streaming hides latency; it does not reduce total provider calls.
// If ctx is cancelled before the stream completes, the authoritative call
// is skipped.
func (o *Orchestrator) AnswerStream(
	ctx context.Context,
	req Request,
	onSnippets func(matches []store.Match) error,
	onDelta func(delta string) error,
) (*Result, error) {
	start := time.Now()
	ctx, span := observability.StartPipelineSpan(ctx, req.Jurisdiction)
	defer span.End()

	matches, degraded, err := o.research(ctx, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordRetrievalResult(span, len(matches), degraded)

	if onSnippets != nil {
		if err := onSnippets(matches); err != nil {
			return nil, fmt.Errorf("delivering snippets: %w", err)
		}
	}

	if len(matches) == 0 && !degraded {
		a := answer.CannotAnswer(req.Question)
		if err := onDelta(a.Answer); err != nil {
			return nil, fmt.Errorf("delivering answer: %w", err)
		}
		return &Result{Answer: a, Duration: time.Since(start)}, nil
	}

	streamReq := llm.Request{
		System:      streamPrompt,
		Contents:    []*genai.Content{genai.NewContentFromText(o.groundingText(req, matches), genai.RoleUser)},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}
	if _, err := o.client.GenerateStream(ctx, streamReq, onDelta); err != nil {
		return nil, err
	}

	// A client gone mid-stream must not trigger the authoritative call.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a, err := o.generateValidated(ctx, req, matches)
	if err != nil {
		return nil, err
	}

	finalize(a, req, matches)
	return &Result{
		Answer:   a,
		Matches:  matches,
		Degraded: degraded,
		Duration: time.Since(start),
	}, nil
}

// research runs the tool-call and retrieve phases. Every search the model
// requested is executed and the results are merged, deduplicated by passage
// id, in first-seen order. Retrieval failures degrade to the passages the
// other searches produced instead of failing the request.
func (o *Orchestrator) research(ctx context.Context, req Request) (matches []store.Match, degraded bool, err error) {
	var (
		seen    = make(map[string]bool)
		anyFail bool
	)
	for _, args := range o.toolCalls(ctx, req) {
		found, retrieveErr := o.retriever.Retrieve(ctx, args, req)
		if retrieveErr != nil {
			if errors.Is(retrieveErr, context.Canceled) || errors.Is(retrieveErr, context.DeadlineExceeded) {
				return nil, false, retrieveErr
			}
			var re *RetrievalError
			if errors.As(retrieveErr, &re) {
				o.logger.Warn("retrieval degraded, continuing without this search",
					"stage", re.Stage, "query", args.Query, "error", re.Err)
				anyFail = true
				continue
			}
			return nil, false, retrieveErr
		}
		for _, m := range found {
			if seen[m.Passage.ID] {
				continue
			}
			seen[m.Passage.ID] = true
			matches = append(matches, m)
		}
	}
	return matches, anyFail && len(matches) == 0, nil
}

// toolCalls asks the model what to search for and returns every validated
// search_corpus call. If the model declines to call the tool, requests only
// unknown tools, or produces arguments that fail validation, the question
// itself becomes the single query; the model's refinement is an
// optimization, not a correctness requirement.
func (o *Orchestrator) toolCalls(ctx context.Context, req Request) []ToolArgs {
	fallback := []ToolArgs{{Query: req.Question}}

	resp, err := o.client.Generate(ctx, llm.Request{
		System:      researchPrompt,
		Contents:    []*genai.Content{genai.NewContentFromText(req.Question, genai.RoleUser)},
		Tools:       []*genai.Tool{searchCorpusTool},
		Temperature: 0,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		o.logger.Warn("tool-call turn failed, searching with the raw question", "error", err)
		return fallback
	}

	var calls []ToolArgs
	for _, fc := range resp.FunctionCalls {
		if fc.Name != "search_corpus" {
			o.logger.Warn("ignoring unknown tool call", "name", fc.Name)
			continue
		}
		args, err := ParseToolArgs(fc.Args)
		if err != nil {
			o.logger.Warn("rejecting malformed tool arguments", "error", err)
			return fallback
		}
		calls = append(calls, args)
	}
	if len(calls) == 0 {
		o.logger.Debug("model issued no search call, searching with the raw question")
		return fallback
	}
	return calls
}

// generateValidated runs the schema-constrained generation call and
// validates its output. On validation failure exactly one correction
// attempt is made; a second failure surfaces the ValidationError.
func (o *Orchestrator) generateValidated(ctx context.Context, req Request, matches []store.Match) (*answer.Answer, error) {
	schema, err := answer.GenaiSchema()
	if err != nil {
		return nil, err
	}

	genReq := llm.Request{
		System:         generatePrompt,
		Contents:       []*genai.Content{genai.NewContentFromText(o.groundingText(req, matches), genai.RoleUser)},
		ResponseSchema: schema,
		Temperature:    o.cfg.Temperature,
		MaxTokens:      o.cfg.MaxTokens,
	}
	resp, err := o.client.Generate(ctx, genReq)
	if err != nil {
		return nil, err
	}

	a, parseErr := answer.Parse(resp.Text)
	if parseErr == nil {
		return a, nil
	}

	var ve *answer.ValidationError
	if !errors.As(parseErr, &ve) {
		return nil, parseErr
	}
	o.logger.Warn("answer failed validation, attempting one correction", "detail", ve.Detail)

	corrected, err := o.correct(ctx, resp.Text)
	if err != nil {
		return nil, err
	}
	return corrected, nil
}

// correct resends the invalid output with the schema description and
// validates the result. Failure here is terminal.
func (o *Orchestrator) correct(ctx context.Context, invalid string) (*answer.Answer, error) {
	schemaDesc, err := answer.SchemaDescription()
	if err != nil {
		return nil, err
	}
	schema, err := answer.GenaiSchema()
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Schema:\n%s\n\nPrevious output:\n%s", schemaDesc, invalid)
	resp, err := o.client.Generate(ctx, llm.Request{
		System:         correctPrompt,
		Contents:       []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		ResponseSchema: schema,
		Temperature:    0,
		MaxTokens:      o.cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return answer.Parse(resp.Text)
}

// groundingText builds the user content for a generation call: the question,
// its retrieval context, and the numbered passages.
func (o *Orchestrator) groundingText(req Request, matches []store.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	if req.Jurisdiction != "" {
		fmt.Fprintf(&b, "Jurisdiction: %s\n", req.Jurisdiction)
	}
	if req.AsAt != nil {
		fmt.Fprintf(&b, "As at: %s\n", req.AsAt.Format("2006-01-02"))
	}

	if len(matches) == 0 {
		b.WriteString("\nNo passages were retrieved from the corpus.\n")
		return b.String()
	}

	b.WriteString("\nRetrieved passages:\n")
	for i, m := range matches {
		md := m.Passage.Metadata
		fmt.Fprintf(&b, "\n[%d] %s", i+1, md.Citation)
		if md.Provision != "" {
			fmt.Fprintf(&b, ", %s", md.Provision)
		}
		if md.Paragraph != "" {
			fmt.Fprintf(&b, ", %s", md.Paragraph)
		}
		fmt.Fprintf(&b, " (%s, %s; similarity %.3f)\n%s\n",
			md.Jurisdiction, md.SourceType, m.Similarity, m.Passage.Text)
	}
	return b.String()
}

// finalize stamps the question onto the answer, fills in an omitted
// confidence from the retrieval signal, and applies the conservative
// confidence overrides.
func finalize(a *answer.Answer, req Request, matches []store.Match) {
	if a.Question == "" {
		a.Question = req.Question
	}
	if a.Confidence == 0 && len(matches) > 0 {
		a.Confidence = assessConfidence(matches)
	}
	answer.Finalize(a, len(matches))
}

// assessConfidence derives a confidence estimate from the retrieval signal
// when the model left it out: the best similarity discounted, with a small
// bonus when several passages agree. matches are ranked best first.
func assessConfidence(matches []store.Match) float64 {
	c := matches[0].Similarity * 0.8
	if len(matches) >= 3 {
		c += 0.1
	}
	return c
}
