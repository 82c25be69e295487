// Package answer defines the structured answer contract produced by the
// generation pipeline, its schema validation, and the conservative
// confidence overrides applied before an answer is returned.
package answer

// Limitation tags attached to an answer's limitations list.
const (
	// LimitationInsufficientRetrieval marks answers built on fewer than two
	// retrieved passages.
	LimitationInsufficientRetrieval = "insufficient_retrieval"

	// LimitationNoSources marks answers produced with no retrieved passages
	// at all, typically after a degraded retrieval.
	LimitationNoSources = "no_sources"
)

// confidenceCeiling caps model-reported confidence when the evidence base
// is sparse.
const confidenceCeiling = 0.6

// minEvidencePassages is the passage count below which an answer is treated
// as under-evidenced.
const minEvidencePassages = 2

// Citation identifies a legal authority referenced by an answer. Only
// jurisdiction and sourceType are always present.
type Citation struct {
	Jurisdiction string `json:"jurisdiction"`
	SourceType   string `json:"sourceType"`
	Title        string `json:"title,omitempty"`
	Citation     string `json:"citation,omitempty"`
	Provision    string `json:"provision,omitempty"`
	Paragraph    string `json:"paragraph,omitempty"`
	URL          string `json:"url,omitempty"`
}

// Quote is a verbatim excerpt from a retrieved passage with its source.
type Quote struct {
	Text     string   `json:"text"`
	Citation Citation `json:"citation"`
}

// Answer is the structured response returned for one question. Instances
// are ephemeral; they are produced and returned within a single request and
// never persisted here.
type Answer struct {
	Question       string     `json:"question"`
	Answer         string     `json:"answer"`
	Quotes         []Quote    `json:"quotes"`
	Citations      []Citation `json:"citations"`
	ReasoningNotes string     `json:"reasoning_notes"`
	Limitations    []string   `json:"limitations"`
	Confidence     float64    `json:"confidence"`
}

// CannotAnswer returns the canned low-confidence answer used when retrieval
// produced nothing to ground a response on.
func CannotAnswer(question string) *Answer {
	return &Answer{
		Question: question,
		Answer: "I cannot answer this question confidently: no relevant passages " +
			"were found in the corpus. The corpus may not cover this topic, or " +
			"the question may need rephrasing.",
		ReasoningNotes: "retrieval returned no passages; no grounded answer is possible",
		Limitations:    []string{LimitationNoSources, LimitationInsufficientRetrieval},
		Confidence:     0,
	}
}

// Finalize applies conservative overrides after schema validation:
// confidence is clamped to [0,1], and answers built on fewer than two
// passages get the insufficient_retrieval tag and a confidence ceiling
// regardless of the model-reported value.
func Finalize(a *Answer, passageCount int) {
	if a.Confidence < 0 {
		a.Confidence = 0
	}
	if a.Confidence > 1 {
		a.Confidence = 1
	}

	if passageCount >= minEvidencePassages {
		return
	}

	if !hasLimitation(a, LimitationInsufficientRetrieval) {
		a.Limitations = append(a.Limitations, LimitationInsufficientRetrieval)
	}
	if a.Confidence > confidenceCeiling {
		a.Confidence = confidenceCeiling
	}
}

func hasLimitation(a *Answer, tag string) bool {
	for _, l := range a.Limitations {
		if l == tag {
			return true
		}
	}
	return false
}
