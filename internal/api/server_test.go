package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/auslex/auslex/internal/answer"
	"github.com/auslex/auslex/internal/corpus"
	"github.com/auslex/auslex/internal/log"
	"github.com/auslex/auslex/internal/orchestrator"
	"github.com/auslex/auslex/internal/store"
	"github.com/auslex/auslex/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// fakePipeline scripts the dependency behind the HTTP handlers.
type fakePipeline struct {
	result    *orchestrator.Result
	err       error
	deltas    []string
	lastReq   orchestrator.Request
	streamErr error
}

func (f *fakePipeline) Answer(_ context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.lastReq = req
	return f.result, f.err
}

func (f *fakePipeline) AnswerStream(_ context.Context, req orchestrator.Request,
	onSnippets func([]store.Match) error, onDelta func(string) error) (*orchestrator.Result, error) {
	f.lastReq = req
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if err := onSnippets(f.result.Matches); err != nil {
		return nil, err
	}
	for _, d := range f.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
	}
	return f.result, nil
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func sampleResult() *orchestrator.Result {
	return &orchestrator.Result{
		Answer: &answer.Answer{
			Question:   "What does s 501 of the Migration Act allow?",
			Answer:     "Section 501 allows visa refusal or cancellation on character grounds.",
			Confidence: 0.8,
		},
		Matches: []store.Match{
			{
				Passage: corpus.Passage{
					ID: "mig-act-s501-1",
					Metadata: corpus.Metadata{
						Jurisdiction: "Cth",
						SourceType:   corpus.SourceTypeLegislation,
						Title:        "Migration Act 1958 (Cth)",
					},
				},
				Similarity: 0.91,
			},
		},
		Duration: 1200 * time.Millisecond,
	}
}

func newTestServer(pipeline Answerer, pinger Pinger) http.Handler {
	return NewServer(Config{
		Pipeline:       pipeline,
		Pinger:         pinger,
		Logger:         log.NewNop(),
		RequestTimeout: 5 * time.Second,
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})
}

func postAsk(t *testing.T, handler http.Handler, body, query string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ask"+query, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAskSync(t *testing.T) {
	pipeline := &fakePipeline{result: sampleResult()}
	handler := newTestServer(pipeline, &fakePinger{})

	rec := postAsk(t, handler, `{"question":"What does s 501 allow?","jurisdiction":"Cth","asAt":"2024-01-15"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp askResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Answer == nil || resp.Answer.Confidence != 0.8 {
		t.Errorf("answer = %+v, want confidence 0.8", resp.Answer)
	}
	if len(resp.Snippets) != 1 {
		t.Errorf("snippets = %d, want 1", len(resp.Snippets))
	}

	if pipeline.lastReq.Jurisdiction != "Cth" {
		t.Errorf("jurisdiction = %q, want Cth", pipeline.lastReq.Jurisdiction)
	}
	if pipeline.lastReq.AsAt == nil || pipeline.lastReq.AsAt.Format("2006-01-02") != "2024-01-15" {
		t.Errorf("asAt = %v, want 2024-01-15", pipeline.lastReq.AsAt)
	}
}

func TestAskBadRequests(t *testing.T) {
	handler := newTestServer(&fakePipeline{result: sampleResult()}, &fakePinger{})

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"not json", "hello"},
		{"missing question", `{"jurisdiction":"Cth"}`},
		{"empty question", `{"question":""}`},
		{"bad date", `{"question":"q","asAt":"15/01/2024"}`},
		{"unknown field", `{"question":"q","extra":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAsk(t, handler, tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAskValidationFailureMapsToBadGateway(t *testing.T) {
	pipeline := &fakePipeline{err: &answer.ValidationError{Detail: "schema violation", Raw: "{}"}}
	handler := newTestServer(pipeline, &fakePinger{})

	rec := postAsk(t, handler, `{"question":"q"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "validation_failed") {
		t.Errorf("body = %s, want validation_failed code", rec.Body.String())
	}
}

func TestAskTimeoutMapsToGatewayTimeout(t *testing.T) {
	pipeline := &fakePipeline{err: context.DeadlineExceeded}
	handler := newTestServer(pipeline, &fakePinger{})

	rec := postAsk(t, handler, `{"question":"q"}`, "")
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", rec.Code)
	}
}

func TestAskStreamEventOrder(t *testing.T) {
	pipeline := &fakePipeline{
		result: sampleResult(),
		deltas: []string{"Section 501 ", "allows refusal."},
	}
	handler := newTestServer(pipeline, &fakePinger{})

	rec := postAsk(t, handler, `{"question":"What does s 501 allow?"}`, "?stream=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	events := testutil.ParseSSEEvents(t, rec.Body.String())

	var order []string
	for _, ev := range events {
		order = append(order, ev.Type)
	}
	want := []string{"ready", "snippets", "delta", "delta", "done", "metrics"}
	if len(order) != len(want) {
		t.Fatalf("event order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("event order = %v, want %v", order, want)
		}
	}

	done := testutil.FindEvent(events, "done")
	var final askResponse
	if err := json.Unmarshal([]byte(done.Data), &final); err != nil {
		t.Fatalf("decoding done payload: %v", err)
	}
	if final.Answer == nil || final.Answer.Confidence != 0.8 {
		t.Errorf("done answer = %+v, want confidence 0.8", final.Answer)
	}

	metrics := testutil.FindEvent(events, "metrics")
	var mp metricsPayload
	if err := json.Unmarshal([]byte(metrics.Data), &mp); err != nil {
		t.Fatalf("decoding metrics payload: %v", err)
	}
	if mp.DurationMS != 1200 || mp.Passages != 1 {
		t.Errorf("metrics = %+v, want 1200ms and 1 passage", mp)
	}
}

func TestAskStreamPipelineErrorEmitsErrorEvent(t *testing.T) {
	pipeline := &fakePipeline{streamErr: errors.New("model unavailable")}
	handler := newTestServer(pipeline, &fakePinger{})

	rec := postAsk(t, handler, `{"question":"q"}`, "?stream=1")
	events := testutil.ParseSSEEvents(t, rec.Body.String())
	if ev := testutil.FindEvent(events, "error"); ev == nil {
		t.Fatalf("events = %v, want an error event", events)
	}
	if ev := testutil.FindEvent(events, "done"); ev != nil {
		t.Error("done event present after pipeline failure")
	}
}

func TestHealthAndReadiness(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		handler := newTestServer(&fakePipeline{}, &fakePinger{})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("health status = %d, want 200", rec.Code)
		}
	})

	t.Run("database down", func(t *testing.T) {
		handler := newTestServer(&fakePipeline{}, &fakePinger{err: errors.New("connection refused")})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("ready status = %d, want 503", rec.Code)
		}
	})
}

func TestRateLimitExceeded(t *testing.T) {
	handler := NewServer(Config{
		Pipeline:       &fakePipeline{result: sampleResult()},
		Pinger:         &fakePinger{},
		Logger:         log.NewNop(),
		RateLimitRPS:   1,
		RateLimitBurst: 2,
	})

	var last *httptest.ResponseRecorder
	for range 3 {
		last = postAsk(t, handler, `{"question":"q"}`, "")
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestServer(&fakePipeline{}, &fakePinger{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ask", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /ask status = %d, want 405", rec.Code)
	}
}
