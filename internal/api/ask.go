package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/auslex/auslex/internal/answer"
	"github.com/auslex/auslex/internal/log"
	"github.com/auslex/auslex/internal/orchestrator"
	"github.com/auslex/auslex/internal/sse"
	"github.com/auslex/auslex/internal/store"
)

// maxQuestionBytes bounds the request body; questions are short.
const maxQuestionBytes = 16 << 10

// askRequest is the POST /ask body.
type askRequest struct {
	Question     string `json:"question"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	AsAt         string `json:"asAt,omitempty"` // YYYY-MM-DD
}

// askResponse is the non-streamed reply.
type askResponse struct {
	Answer   *answer.Answer `json:"answer"`
	Snippets []store.Match  `json:"snippets"`
}

// metricsPayload is the final SSE metrics event.
type metricsPayload struct {
	DurationMS int64 `json:"duration_ms"`
	Passages   int   `json:"passages"`
}

// Answerer runs the pipeline for one question. Satisfied by
// orchestrator.Orchestrator; tests substitute a fake.
type Answerer interface {
	Answer(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
	AnswerStream(ctx context.Context, req orchestrator.Request,
		onSnippets func([]store.Match) error,
		onDelta func(string) error) (*orchestrator.Result, error)
}

type askHandler struct {
	pipeline Answerer
	timeout  time.Duration
	logger   log.Logger
}

// ask handles POST /ask. The stream=1 query flag switches to SSE delivery.
func (h *askHandler) ask(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if r.URL.Query().Get("stream") == "1" {
		h.askStream(w, r, req)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.pipeline.Answer(ctx, req)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, askResponse{
		Answer:   result.Answer,
		Snippets: result.Matches,
	})
}

// askStream delivers the answer as an SSE stream with the fixed event order
// ready, snippets, delta*, done, metrics. done always precedes stream close.
func (h *askHandler) askStream(w http.ResponseWriter, r *http.Request, req orchestrator.Request) {
	writer, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, h.logger, http.StatusInternalServerError, "streaming_unsupported", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := writer.WriteEvent(ctx, "ready", map[string]string{"status": "ok"}); err != nil {
		h.logger.Debug("client gone before stream start", "error", err)
		return
	}

	result, err := h.pipeline.AnswerStream(ctx, req,
		func(matches []store.Match) error {
			return writer.WriteEvent(ctx, "snippets", matches)
		},
		func(delta string) error {
			return writer.WriteEvent(ctx, "delta", map[string]string{"text": delta})
		})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Debug("stream cancelled by client",
				"request_id", requestIDFromContext(r.Context()))
			return
		}
		status, code, msg := classifyPipelineError(err)
		h.logger.Error("streaming pipeline failed", "status", status, "code", code, "error", err)
		if werr := writer.WriteError(code, msg); werr != nil {
			h.logger.Debug("writing stream error event", "error", werr)
		}
		return
	}

	if err := writer.WriteEvent(ctx, "done", askResponse{
		Answer:   result.Answer,
		Snippets: result.Matches,
	}); err != nil {
		h.logger.Debug("writing done event", "error", err)
		return
	}
	if err := writer.WriteEvent(ctx, "metrics", metricsPayload{
		DurationMS: result.Duration.Milliseconds(),
		Passages:   len(result.Matches),
	}); err != nil {
		h.logger.Debug("writing metrics event", "error", err)
	}
}

func (h *askHandler) parseRequest(r *http.Request) (orchestrator.Request, error) {
	var body askRequest
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxQuestionBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return orchestrator.Request{}, errors.New("body must be a JSON object with a question field")
	}
	if body.Question == "" {
		return orchestrator.Request{}, errors.New("question must not be empty")
	}

	req := orchestrator.Request{
		Question:     body.Question,
		Jurisdiction: body.Jurisdiction,
	}
	if body.AsAt != "" {
		t, err := time.Parse("2006-01-02", body.AsAt)
		if err != nil {
			return orchestrator.Request{}, errors.New("asAt must be a YYYY-MM-DD date")
		}
		req.AsAt = &t
	}
	return req, nil
}

func (h *askHandler) writePipelineError(w http.ResponseWriter, err error) {
	status, code, msg := classifyPipelineError(err)
	h.logger.Error("pipeline failed", "status", status, "code", code, "error", err)
	writeError(w, h.logger, status, code, msg)
}

// classifyPipelineError maps pipeline failures onto transport errors. A
// surviving validation failure is a bad gateway: the upstream model produced
// output this service refuses to pass along.
func classifyPipelineError(err error) (status int, code, message string) {
	var ve *answer.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadGateway, "validation_failed",
			"the model did not produce a valid answer after correction"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout", "the request timed out"
	default:
		return http.StatusBadGateway, "provider_error", "the answer pipeline failed"
	}
}
