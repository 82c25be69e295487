package corpus

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestChunkEmptyInput(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\n\n", " \n \t \n "} {
		if got := Chunk("doc", text, Metadata{}, 100, 10); len(got) != 0 {
			t.Errorf("Chunk(%q) = %d chunks, want 0", text, len(got))
		}
	}
}

func TestChunkSingleSmallDocument(t *testing.T) {
	// The two-paragraph s 501 sample fits comfortably in one 800-token chunk.
	text := "[1] Migration Act 1958 (Cth) s 501 character test notes.\n\n" +
		"[2] The Minister may refuse to grant a visa if not satisfied the person passes the character test."
	md := Metadata{
		Jurisdiction: "Cth",
		SourceType:   SourceTypeLegislation,
		Citation:     "Migration Act 1958 (Cth)",
		Provision:    "s 501",
	}

	chunks := Chunk("migration-act-s501", text, md, 800, 80)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}

	c := chunks[0]
	if c.ID != "migration-act-s501#0000" {
		t.Errorf("unexpected id %q", c.ID)
	}
	if !strings.Contains(c.Text, "character test") {
		t.Errorf("chunk text missing content: %q", c.Text)
	}
	if c.Metadata.Provision != "s 501" {
		t.Errorf("metadata not carried: %+v", c.Metadata)
	}
}

func TestChunkCoversAllParagraphsUnsplit(t *testing.T) {
	const paragraphCount = 30
	var sb strings.Builder
	for i := 0; i < paragraphCount; i++ {
		fmt.Fprintf(&sb, "Paragraph %d of the instrument deals with subject matter item %d in detail.\n\n", i, i)
	}

	chunks := Chunk("doc", sb.String(), Metadata{}, 60, 10)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	joined := strings.Join(collectTexts(chunks), "\n\n")
	for i := 0; i < paragraphCount; i++ {
		needle := fmt.Sprintf("Paragraph %d of the instrument deals with subject matter item %d in detail.", i, i)
		if !strings.Contains(joined, needle) {
			t.Errorf("paragraph %d missing from output", i)
		}
		// No paragraph may be split across a chunk boundary.
		found := false
		for _, c := range chunks {
			if strings.Contains(c.Text, needle) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("paragraph %d split across chunks", i)
		}
	}
}

func TestChunkOverlapSeedsNextChunk(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "Provision number %d contains operative words and a distinct closing phrase tail%d.\n\n", i, i)
	}

	const overlapTokens = 12
	chunks := Chunk("doc", sb.String(), Metadata{}, 50, overlapTokens)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		overlapWords := int(float64(overlapTokens) * wordsPerToken)
		if overlapWords > len(prevWords) {
			overlapWords = len(prevWords)
		}
		tail := strings.Join(prevWords[len(prevWords)-overlapWords:], " ")
		if !strings.Contains(normalizeWhitespace(chunks[i].Text), tail) {
			t.Errorf("chunk %d does not start with predecessor tail %q", i, tail)
		}
	}
}

func TestChunkOversizedParagraphEmittedWhole(t *testing.T) {
	big := strings.Repeat("word ", 500) // ~667 tokens, budget 100
	text := "A short leading paragraph.\n\n" + strings.TrimSpace(big) + "\n\nA short trailing paragraph."

	chunks := Chunk("doc", text, Metadata{}, 100, 10)

	var oversized *Passage
	for i := range chunks {
		if EstimateTokens(chunks[i].Text) > 100 {
			if oversized != nil {
				t.Fatal("more than one oversized chunk")
			}
			oversized = &chunks[i]
		}
	}
	if oversized == nil {
		t.Fatal("oversized paragraph was not emitted whole")
	}
	if strings.Count(oversized.Text, "word") != 500 {
		t.Error("oversized paragraph was truncated or split")
	}
}

func TestChunkSequentialIDs(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "Paragraph %d has enough words to matter for the running budget computation here.\n\n", i)
	}

	chunks := Chunk("act-1958", sb.String(), Metadata{}, 40, 0)
	for i, c := range chunks {
		want := fmt.Sprintf("act-1958#%04d", i)
		if c.ID != want {
			t.Errorf("chunk %d id = %q, want %q", i, c.ID, want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	// 75 words ≈ 100 tokens under the 0.75 words-per-token heuristic.
	text := strings.TrimSpace(strings.Repeat("w ", 75))
	if got := EstimateTokens(text); got != 100 {
		t.Errorf("EstimateTokens(75 words) = %d, want 100", got)
	}
}

func TestInForceAt(t *testing.T) {
	date := func(s string) *time.Time {
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			t.Fatalf("bad date %q: %v", s, err)
		}
		return &d
	}
	at := func(s string) time.Time { return *date(s) }

	tests := []struct {
		name string
		md   Metadata
		asAt time.Time
		want bool
	}{
		{"no bounds", Metadata{}, at("2020-06-01"), true},
		{"inside window", Metadata{DateInForceFrom: date("2019-01-01"), DateInForceTo: date("2021-01-01")}, at("2020-06-01"), true},
		{"before from", Metadata{DateInForceFrom: date("2021-01-01")}, at("2020-06-01"), false},
		{"after to", Metadata{DateInForceTo: date("2019-12-31")}, at("2020-06-01"), false},
		{"on from bound", Metadata{DateInForceFrom: date("2020-06-01")}, at("2020-06-01"), true},
		{"on to bound", Metadata{DateInForceTo: date("2020-06-01")}, at("2020-06-01"), true},
		{"open ended from", Metadata{DateInForceFrom: date("2019-01-01")}, at("2099-01-01"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.md.InForceAt(tt.asAt); got != tt.want {
				t.Errorf("InForceAt = %v, want %v", got, tt.want)
			}
		})
	}
}

func collectTexts(chunks []Passage) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
