package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/auslex/auslex/internal/corpus"
)

// Document is one source document in an ingestion file: JSONL, one document
// per line.
type Document struct {
	ID       string          `json:"id"`
	Text     string          `json:"text"`
	Metadata corpus.Metadata `json:"metadata"`
}

// maxLineBytes bounds a single JSONL line. Consolidated acts run long, but
// anything past this is almost certainly a malformed file.
const maxLineBytes = 8 << 20

// LoadJSONL reads documents from a JSONL file, validating each line.
func LoadJSONL(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var docs []Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var doc Document
		if err := json.Unmarshal(line, &doc); err != nil {
			return nil, fmt.Errorf("%s:%d: invalid JSON: %w", path, lineNo, err)
		}
		if err := validateDocument(doc); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return docs, nil
}

func validateDocument(doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document missing id")
	}
	if doc.Text == "" {
		return fmt.Errorf("document %q has no text", doc.ID)
	}
	if doc.Metadata.Jurisdiction == "" {
		return fmt.Errorf("document %q has no jurisdiction", doc.ID)
	}
	if !doc.Metadata.SourceType.Valid() {
		return fmt.Errorf("document %q has invalid sourceType %q", doc.ID, doc.Metadata.SourceType)
	}
	return nil
}
