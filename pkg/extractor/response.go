package extractor

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed analysis.schema.json
var analysisSchemaJSON string

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020

		if err := compiler.AddResource("analysis.schema.json", strings.NewReader(analysisSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("analysis.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

// rawAnalysis is the envelope after schema validation. Findings stay
// untyped until validateFinding has looked at them.
type rawAnalysis struct {
	SiteCategory string
	FutureEvents []map[string]any
	PastEvents   []map[string]any
	Insights     []string
}

// stripFences removes markdown code fences the model sometimes wraps
// around its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```JSON", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// decodeJSON decodes a single JSON value. When the text has prose around
// the value, the outermost delimited span is tried as well.
func decodeJSON(raw string, open, close byte) (any, error) {
	value, err := decodeStrictJSON([]byte(raw))
	if err == nil {
		return value, nil
	}
	start := strings.IndexByte(raw, open)
	end := strings.LastIndexByte(raw, close)
	if start < 0 || end <= start {
		return nil, err
	}
	return decodeStrictJSON([]byte(raw[start : end+1]))
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

// parseAnalysis turns raw model output into an envelope. Any error means
// the response is treated as having no findings.
func parseAnalysis(raw string) (*rawAnalysis, error) {
	value, err := decodeJSON(stripFences(raw), '{', '}')
	if err != nil {
		return nil, fmt.Errorf("decode response JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	obj := value.(map[string]any)
	out := &rawAnalysis{
		SiteCategory: stringField(obj["site_category"]),
		FutureEvents: objectList(obj["future_events"]),
		PastEvents:   objectList(obj["past_events"]),
	}
	if list, ok := obj["insights"].([]any); ok {
		for _, v := range list {
			if s := stringField(v); s != "" {
				out.Insights = append(out.Insights, s)
			}
		}
	}
	return out, nil
}

func (r *rawAnalysis) hasContent() bool {
	return len(r.FutureEvents) > 0 || len(r.PastEvents) > 0 || len(r.Insights) > 0
}

func objectList(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// stringField renders an untrusted scalar as trimmed text. The literal
// "null" counts as missing.
func stringField(v any) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = t
	case json.Number:
		s = t.String()
	case bool:
		if t {
			s = "true"
		} else {
			s = "false"
		}
	default:
		return ""
	}
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") || strings.EqualFold(s, "undefined") {
		return ""
	}
	return s
}

func boolField(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(strings.TrimSpace(t), "true")
	default:
		return false
	}
}
