package corpus

import (
	"fmt"
	"strings"
)

// Default chunking parameters, tuned for embedding models with a ~2048
// token input window.
const (
	DefaultMaxTokens     = 800
	DefaultOverlapTokens = 80
)

// wordsPerToken converts the word-count heuristic to a token estimate.
// English prose averages roughly 0.75 words per token, so tokens ≈ words/0.75.
// This is an approximation, not exact tokenization; the pipeline accepts the
// imprecision in exchange for not depending on a tokenizer.
const wordsPerToken = 0.75

// EstimateTokens approximates the token count of text by word count.
func EstimateTokens(text string) int {
	return tokensForWords(len(strings.Fields(text)))
}

func tokensForWords(words int) int {
	return int(float64(words)/wordsPerToken + 0.5)
}

// Chunk splits a document into paragraph-aligned, token-budgeted passages.
//
// Paragraphs are delimited by blank lines and are never split: a chunk is
// flushed when appending the next paragraph would exceed maxTokens, and the
// next chunk is seeded with roughly overlapTokens of the flushed chunk's
// trailing words to preserve cross-boundary context. A single paragraph
// larger than maxTokens is emitted whole rather than split mid-sentence, so
// citation-bearing sentences stay intact at the cost of occasional oversized
// chunks.
//
// Empty or whitespace-only input yields no chunks. Passage IDs are derived
// from docID plus the chunk sequence index; embeddings and content hashes
// are attached later in the pipeline.
func Chunk(docID, text string, md Metadata, maxTokens, overlapTokens int) []Passage {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}

	paragraphs := splitParagraphs(text)
	if len(paragraphs) == 0 {
		return nil
	}

	overlapWords := int(float64(overlapTokens) * wordsPerToken)

	var chunks []Passage
	var current []string // words of the running chunk
	var parts []string   // paragraphs of the running chunk, for joining

	flush := func() {
		if len(parts) == 0 {
			return
		}
		chunks = append(chunks, Passage{
			ID:       fmt.Sprintf("%s#%04d", docID, len(chunks)),
			Text:     strings.Join(parts, "\n\n"),
			Metadata: md,
		})

		// Seed the next chunk with the trailing overlap words.
		if overlapWords > 0 && len(current) > 0 {
			tail := current
			if len(tail) > overlapWords {
				tail = tail[len(tail)-overlapWords:]
			}
			seed := strings.Join(tail, " ")
			current = append([]string(nil), tail...)
			parts = []string{seed}
		} else {
			current = nil
			parts = nil
		}
	}

	for _, p := range paragraphs {
		words := strings.Fields(p)

		if len(parts) > 0 && tokensForWords(len(current)+len(words)) > maxTokens {
			flush()
		}

		// An oversized paragraph goes out whole, unsplit.
		if tokensForWords(len(words)) > maxTokens {
			parts = nil
			current = nil
			chunks = append(chunks, Passage{
				ID:       fmt.Sprintf("%s#%04d", docID, len(chunks)),
				Text:     p,
				Metadata: md,
			})
			continue
		}

		parts = append(parts, p)
		current = append(current, words...)
	}

	// Do not emit a trailing chunk that is only the overlap seed.
	if len(parts) > 0 && !onlyOverlapSeed(parts, chunks) {
		chunks = append(chunks, Passage{
			ID:       fmt.Sprintf("%s#%04d", docID, len(chunks)),
			Text:     strings.Join(parts, "\n\n"),
			Metadata: md,
		})
	}

	return chunks
}

// onlyOverlapSeed reports whether parts holds nothing but the overlap seed
// carried over from the previous flush.
func onlyOverlapSeed(parts []string, chunks []Passage) bool {
	if len(parts) != 1 || len(chunks) == 0 {
		return false
	}
	return strings.HasSuffix(normalizeWhitespace(chunks[len(chunks)-1].Text), normalizeWhitespace(parts[0]))
}

// splitParagraphs splits text on blank-line boundaries. A line containing
// only whitespace counts as blank. Whitespace-only paragraphs are dropped.
func splitParagraphs(text string) []string {
	var out []string
	var lines []string

	flush := func() {
		if len(lines) == 0 {
			return
		}
		block := strings.TrimSpace(strings.Join(lines, "\n"))
		if block != "" {
			out = append(out, block)
		}
		lines = nil
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	flush()

	return out
}
