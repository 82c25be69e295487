// Package corpus defines the legal passage model and the pure document
// processing steps that precede embedding: paragraph-aligned chunking and
// content hashing for idempotent ingestion.
package corpus

import "time"

// SourceType categorizes the legal authority a passage comes from.
type SourceType string

const (
	SourceTypeLegislation SourceType = "legislation"
	SourceTypeRegulation  SourceType = "regulation"
	SourceTypeCase        SourceType = "case"
	SourceTypeGuideline   SourceType = "guideline"
	SourceTypeOther       SourceType = "other"
)

// Valid reports whether s is one of the known source types.
func (s SourceType) Valid() bool {
	switch s {
	case SourceTypeLegislation, SourceTypeRegulation, SourceTypeCase,
		SourceTypeGuideline, SourceTypeOther:
		return true
	}
	return false
}

// Metadata carries the legal context of a passage. Jurisdiction and
// SourceType are always set; the remaining fields depend on the source
// document.
type Metadata struct {
	Jurisdiction     string     `json:"jurisdiction"`
	SourceType       SourceType `json:"sourceType"`
	Title            string     `json:"title,omitempty"`
	Citation         string     `json:"citation,omitempty"`
	Provision        string     `json:"provision,omitempty"`
	Paragraph        string     `json:"paragraph,omitempty"`
	URL              string     `json:"url,omitempty"`
	CourtOrPublisher string     `json:"courtOrPublisher,omitempty"`
	Version          string     `json:"version,omitempty"`
	DateMade         *time.Time `json:"dateMade,omitempty"`
	DateInForceFrom  *time.Time `json:"dateInForceFrom,omitempty"`
	DateInForceTo    *time.Time `json:"dateInForceTo,omitempty"`
}

// InForceAt reports whether the passage is legally in force at t.
// A missing bound is unbounded in that direction; a passage with neither
// bound is always eligible.
func (m Metadata) InForceAt(t time.Time) bool {
	if m.DateInForceFrom != nil && t.Before(*m.DateInForceFrom) {
		return false
	}
	if m.DateInForceTo != nil && t.After(*m.DateInForceTo) {
		return false
	}
	return true
}

// Passage is a retrievable chunk of corpus text. Created by ingestion,
// updated in place when matching content is re-ingested, never deleted
// by this pipeline.
type Passage struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Metadata         Metadata `json:"metadata"`
	ContentHash      string   `json:"contentHash,omitempty"`
	EmbeddingVersion string   `json:"embeddingVersion,omitempty"`
}
