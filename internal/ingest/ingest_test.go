package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/gofrs/flock"

	"github.com/auslex/auslex/internal/corpus"
	"github.com/auslex/auslex/internal/log"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, 4)
	}
	return out, nil
}

type fakeUpserter struct {
	passages []corpus.Passage
	err      error
}

func (f *fakeUpserter) Upsert(ctx context.Context, passages []corpus.Passage, embeddings [][]float32) error {
	if f.err != nil {
		return f.err
	}
	if len(passages) != len(embeddings) {
		return errors.New("length mismatch reached the store")
	}
	f.passages = append(f.passages, passages...)
	return nil
}

const sampleJSONL = `{"id": "migration-act-s501", "text": "[1] Migration Act 1958 (Cth) s 501 character test notes.\n\n[2] The Minister may refuse to grant a visa if not satisfied the person passes the character test.", "metadata": {"jurisdiction": "Cth", "sourceType": "legislation", "title": "Migration Act 1958", "citation": "Migration Act 1958 (Cth)", "provision": "s 501"}}
{"id": "crimes-act-s61", "text": "Assault occasioning actual bodily harm.", "metadata": {"jurisdiction": "NSW", "sourceType": "legislation", "citation": "Crimes Act 1900 (NSW)", "provision": "s 61"}}
`

func writeTempJSONL(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func newTestPipeline(t *testing.T, embedder *fakeEmbedder, upserter *fakeUpserter) *Pipeline {
	t.Helper()
	p := New(embedder, upserter, "gemini-embedding-001", log.NewNop())
	p.lockPath = filepath.Join(t.TempDir(), "ingest.lock")
	return p
}

func TestRunIngestsDocuments(t *testing.T) {
	embedder := &fakeEmbedder{}
	upserter := &fakeUpserter{}
	p := newTestPipeline(t, embedder, upserter)
	path := writeTempJSONL(t, sampleJSONL)

	result, err := p.Run(context.Background(), []string{path}, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Documents != 2 {
		t.Errorf("Documents = %d, want 2", result.Documents)
	}
	if result.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2", result.Chunks)
	}
	if result.Upserted != 2 {
		t.Errorf("Upserted = %d, want 2", result.Upserted)
	}

	for _, pass := range upserter.passages {
		if pass.ContentHash == "" {
			t.Errorf("passage %q missing content hash", pass.ID)
		}
		if pass.EmbeddingVersion != "gemini-embedding-001" {
			t.Errorf("passage %q embedding version = %q", pass.ID, pass.EmbeddingVersion)
		}
	}
}

func TestRunDryRunSkipsProviderAndStore(t *testing.T) {
	embedder := &fakeEmbedder{}
	upserter := &fakeUpserter{}
	p := newTestPipeline(t, embedder, upserter)
	path := writeTempJSONL(t, sampleJSONL)

	result, err := p.Run(context.Background(), []string{path}, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.DryRun {
		t.Error("Result.DryRun = false")
	}
	if result.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2", result.Chunks)
	}
	if embedder.calls != 0 {
		t.Errorf("embedder called %d times in dry run, want 0", embedder.calls)
	}
	if len(upserter.passages) != 0 {
		t.Errorf("store received %d passages in dry run, want 0", len(upserter.passages))
	}
}

func TestRunRefusesManagedEnvironment(t *testing.T) {
	t.Setenv("K_SERVICE", "auslex-api")

	p := newTestPipeline(t, &fakeEmbedder{}, &fakeUpserter{})
	path := writeTempJSONL(t, sampleJSONL)

	_, err := p.Run(context.Background(), []string{path}, Options{})
	if !errors.Is(err, ErrManagedEnvironment) {
		t.Fatalf("Run() error = %v, want ErrManagedEnvironment", err)
	}
}

func TestRunManagedEnvironmentOverride(t *testing.T) {
	t.Setenv("K_SERVICE", "auslex-api")

	p := newTestPipeline(t, &fakeEmbedder{}, &fakeUpserter{})
	path := writeTempJSONL(t, sampleJSONL)

	if _, err := p.Run(context.Background(), []string{path}, Options{AllowManaged: true}); err != nil {
		t.Fatalf("Run() with override error = %v", err)
	}
}

func TestRunDryRunAllowedInManagedEnvironment(t *testing.T) {
	t.Setenv("VERCEL", "1")

	p := newTestPipeline(t, &fakeEmbedder{}, &fakeUpserter{})
	path := writeTempJSONL(t, sampleJSONL)

	if _, err := p.Run(context.Background(), []string{path}, Options{DryRun: true}); err != nil {
		t.Fatalf("dry Run() error = %v", err)
	}
}

func TestRunRejectsConcurrentIngestion(t *testing.T) {
	p := newTestPipeline(t, &fakeEmbedder{}, &fakeUpserter{})
	path := writeTempJSONL(t, sampleJSONL)

	held := flock.New(p.lockPath)
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("acquiring test lock: locked=%v err=%v", locked, err)
	}
	defer held.Unlock()

	_, err = p.Run(context.Background(), []string{path}, Options{})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("Run() error = %v, want ErrLocked", err)
	}
}

func TestRunBatchesEmbeddings(t *testing.T) {
	embedder := &fakeEmbedder{}
	upserter := &fakeUpserter{}
	p := newTestPipeline(t, embedder, upserter)

	// 70 oversized paragraphs chunk one-per-paragraph, forcing two
	// embedding sub-batches at the 64 limit.
	text := ""
	for range 70 {
		text += "This paragraph runs well past a ten token budget so it is emitted as its own chunk every time.\n\n"
	}
	doc := `{"id": "long-doc", "text": ` + marshalString(text) + `, "metadata": {"jurisdiction": "Cth", "sourceType": "legislation", "citation": "Long Act"}}` + "\n"
	path := writeTempJSONL(t, doc)

	result, err := p.Run(context.Background(), []string{path}, Options{MaxTokens: 10, OverlapTokens: 0})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Chunks != 70 {
		t.Fatalf("Chunks = %d, want 70", result.Chunks)
	}
	if embedder.calls != 2 {
		t.Errorf("embedder calls = %d, want 2", embedder.calls)
	}
}

func TestLoadJSONLValidation(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"missing id", `{"text": "t", "metadata": {"jurisdiction": "Cth", "sourceType": "legislation"}}`},
		{"missing text", `{"id": "a", "metadata": {"jurisdiction": "Cth", "sourceType": "legislation"}}`},
		{"missing jurisdiction", `{"id": "a", "text": "t", "metadata": {"sourceType": "legislation"}}`},
		{"bad source type", `{"id": "a", "text": "t", "metadata": {"jurisdiction": "Cth", "sourceType": "blog"}}`},
		{"not json", `this is not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTempJSONL(t, tt.line+"\n")
			if _, err := LoadJSONL(path); err == nil {
				t.Error("LoadJSONL() succeeded, want validation error")
			}
		})
	}
}

func TestLoadJSONLSkipsBlankLines(t *testing.T) {
	path := writeTempJSONL(t, "\n"+sampleJSONL+"\n")
	docs, err := LoadJSONL(path)
	if err != nil {
		t.Fatalf("LoadJSONL() error = %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("got %d documents, want 2", len(docs))
	}
}

func marshalString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
