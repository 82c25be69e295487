package answer

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

// ValidationError reports model output that failed schema validation after
// the single correction attempt was exhausted. It is terminal: the caller
// must surface it, never return the unvalidated content.
type ValidationError struct {
	Detail string
	Raw    string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("answer validation failed: %s", e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var compileSchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	schema, err := jsonschema.For[Answer](nil)
	if err != nil {
		return nil, fmt.Errorf("deriving answer schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving answer schema: %w", err)
	}
	return resolved, nil
})

// Schema returns the resolved JSON schema for Answer. The schema is derived
// from the struct once and reused.
func Schema() (*jsonschema.Resolved, error) {
	return compileSchema()
}

// SchemaDescription returns the schema as a JSON document, suitable for
// embedding in a correction prompt.
func SchemaDescription() (string, error) {
	resolved, err := compileSchema()
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(resolved.Schema())
	if err != nil {
		return "", fmt.Errorf("marshaling answer schema: %w", err)
	}
	return string(data), nil
}

// GenaiSchema returns the answer schema in the provider's native form for
// constrained JSON-mode generation.
func GenaiSchema() (*genai.Schema, error) {
	resolved, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return convertToGenai(resolved.Schema())
}

// Parse validates raw model output against the answer schema and returns
// the decoded Answer. Markdown code fences around the JSON are tolerated;
// anything else that fails decoding or validation returns a
// ValidationError.
func Parse(raw string) (*Answer, error) {
	resolved, err := compileSchema()
	if err != nil {
		return nil, err
	}

	cleaned := stripCodeFence(raw)

	var instance map[string]any
	if err := json.Unmarshal([]byte(cleaned), &instance); err != nil {
		return nil, &ValidationError{
			Detail: "output is not a JSON object",
			Raw:    raw,
			Err:    err,
		}
	}

	if err := resolved.Validate(instance); err != nil {
		return nil, &ValidationError{
			Detail: "JSON does not conform to the answer schema",
			Raw:    raw,
			Err:    err,
		}
	}

	var a Answer
	if err := json.Unmarshal([]byte(cleaned), &a); err != nil {
		return nil, &ValidationError{
			Detail: "JSON does not decode into the answer type",
			Raw:    raw,
			Err:    err,
		}
	}
	return &a, nil
}

// stripCodeFence removes a surrounding ```json fence if present. Models in
// JSON mode usually return bare JSON, but fenced output still shows up.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

// convertToGenai converts a JSON schema to the provider's schema type.
// Only the subset of JSON Schema the answer contract uses is supported.
func convertToGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	out := &genai.Schema{}

	switch schema.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "number", "integer":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
	default:
		if schema.Type != "" {
			return nil, fmt.Errorf("unsupported schema type %q", schema.Type)
		}
	}

	if schema.Description != "" {
		out.Description = schema.Description
	}

	if len(schema.Enum) > 0 {
		out.Enum = make([]string, 0, len(schema.Enum))
		for _, v := range schema.Enum {
			if s, ok := v.(string); ok {
				out.Enum = append(out.Enum, s)
			}
		}
	}

	if len(schema.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, prop := range schema.Properties {
			converted, err := convertToGenai(prop)
			if err != nil {
				return nil, fmt.Errorf("converting property %q: %w", name, err)
			}
			out.Properties[name] = converted
		}
	}

	if len(schema.Required) > 0 {
		out.Required = schema.Required
	}

	if schema.Items != nil {
		converted, err := convertToGenai(schema.Items)
		if err != nil {
			return nil, fmt.Errorf("converting items schema: %w", err)
		}
		out.Items = converted
	}

	return out, nil
}
