package orchestrator

import (
	"fmt"
	"time"
)

// MaxRetrievalLimit bounds how many passages a single generation may be
// grounded on, tighter than the storage search limit, to keep the context
// window handed to the model bounded.
const MaxRetrievalLimit = 12

// ToolArgs is the validated form of a search_corpus tool call.
type ToolArgs struct {
	Query        string
	Jurisdiction string
	AsAt         *time.Time
	Limit        int
}

// ParseError reports a tool-call argument that failed validation.
type ParseError struct {
	Field  string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tool argument %q: %s", e.Field, e.Detail)
}

// ParseToolArgs validates raw tool-call arguments against the declared
// search_corpus schema. Missing or malformed fields produce a ParseError
// rather than being silently defaulted; the caller decides how to recover.
func ParseToolArgs(raw map[string]any) (ToolArgs, error) {
	var args ToolArgs

	queryVal, ok := raw["query"]
	if !ok {
		return ToolArgs{}, &ParseError{Field: "query", Detail: "required field missing"}
	}
	query, ok := queryVal.(string)
	if !ok {
		return ToolArgs{}, &ParseError{Field: "query", Detail: fmt.Sprintf("expected string, got %T", queryVal)}
	}
	if query == "" {
		return ToolArgs{}, &ParseError{Field: "query", Detail: "must not be empty"}
	}
	args.Query = query

	if v, ok := raw["jurisdiction"]; ok {
		s, ok := v.(string)
		if !ok {
			return ToolArgs{}, &ParseError{Field: "jurisdiction", Detail: fmt.Sprintf("expected string, got %T", v)}
		}
		args.Jurisdiction = s
	}

	if v, ok := raw["as_at"]; ok {
		s, ok := v.(string)
		if !ok {
			return ToolArgs{}, &ParseError{Field: "as_at", Detail: fmt.Sprintf("expected string, got %T", v)}
		}
		if s != "" {
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				return ToolArgs{}, &ParseError{Field: "as_at", Detail: "must be a YYYY-MM-DD date"}
			}
			args.AsAt = &t
		}
	}

	if v, ok := raw["limit"]; ok {
		limit, err := toInt(v)
		if err != nil {
			return ToolArgs{}, &ParseError{Field: "limit", Detail: err.Error()}
		}
		if limit < 1 || limit > MaxRetrievalLimit {
			return ToolArgs{}, &ParseError{
				Field:  "limit",
				Detail: fmt.Sprintf("must be between 1 and %d, got %d", MaxRetrievalLimit, limit),
			}
		}
		args.Limit = limit
	}

	return args, nil
}

// toInt accepts the numeric representations JSON decoding and the provider
// SDK produce for an integer argument.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("expected integer, got %v", n)
		}
		return int(n), nil
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}
