package ai

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/goccy/go-json"
	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema reflects the JSON schema of value's type for structured
// completions. Pointers are dereferenced.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflector.Reflect(reflect.New(t).Interface())
}

// DecodeCompletion parses a model answer into out. A relevance answer may
// also come back as a bare array of scores.
func DecodeCompletion(raw string, out any) error {
	if r, ok := out.(*RelevanceResponse); ok {
		return decodeRelevance(raw, r)
	}
	return UnmarshalFlexible(raw, out)
}

func decodeRelevance(raw string, out *RelevanceResponse) error {
	var resp RelevanceResponse
	err := UnmarshalFlexible(raw, &resp)
	if err == nil && resp.Scores != nil {
		*out = resp
		return nil
	}

	var scores []RelevanceScore
	if arrErr := UnmarshalFlexible(raw, &scores); arrErr == nil {
		out.Scores = scores
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode relevance: %w", err)
	}
	*out = resp
	return nil
}

// UnmarshalFlexible decodes model output that is not always clean JSON.
// It accepts markdown code fences, double-encoded strings and syntax that
// jsonrepair can fix (unquoted keys, trailing commas, missing brackets).
func UnmarshalFlexible(input string, out any) error {
	input = stripCodeFence(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = stripCodeFence(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	repaired, err := jsonrepair.JSONRepair(stripDuplicateLeadingBrace(input))
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: %w (repaired: %s)", err, repaired)
	}
	return nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the language tag line
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}
