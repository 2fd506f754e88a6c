// Package responseparser implements ResponseParser (spec.md §4.5):
// recovering a valid JSON document from an LLM's raw text response and
// projecting it onto the caller's target schema, tolerating the garbage
// characters, markdown fences, and mixed commentary models routinely emit
// around the JSON they were asked for.
package responseparser

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
)

// ErrNoJSONFound is returned when no valid JSON object or array can be
// located anywhere in the response text.
var ErrNoJSONFound = errors.New("responseparser: no valid JSON object or array found in response")

var codeBlockPattern = regexp.MustCompile(`(?s)` + "```" + `(?:json)?\s*(.+?)\s*` + "```")

// Extract recovers a JSON string from response, trying progressively more
// aggressive strategies until one yields valid JSON.
func Extract(response string) (string, error) {
	if response == "" {
		return "", ErrNoJSONFound
	}

	cleaned := stripMarkdownFence(response)

	if jsonStr := extractByBrackets(cleaned); jsonStr != "" && json.Valid([]byte(jsonStr)) {
		return jsonStr, nil
	}

	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}

	if jsonStr := extractByOuterBounds(response); jsonStr != "" && json.Valid([]byte(jsonStr)) {
		return jsonStr, nil
	}

	if jsonStr := stripNonJSON(cleaned); jsonStr != "" && json.Valid([]byte(jsonStr)) {
		return jsonStr, nil
	}

	if fixed := trailingCommaPattern.ReplaceAllString(response, "$1"); fixed != response {
		return Extract(fixed)
	}

	return "", fmt.Errorf("%w: response length=%d", ErrNoJSONFound, len(response))
}

// Parse recovers JSON from response and projects it onto target.
func Parse(response string, target interface{}) error {
	jsonStr, err := Extract(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(jsonStr), target); err != nil {
		log.Printf("[responseparser] unmarshal failed: %v", err)
		return fmt.Errorf("responseparser: unmarshal: %w", err)
	}
	return nil
}

var trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)

// ParseValue recovers response's JSON, decodes it as a generic value, and
// projects it onto schema, dropping any key schema doesn't declare.
func ParseValue(response string, schema map[string]interface{}) (interface{}, error) {
	jsonStr, err := Extract(response)
	if err != nil {
		return map[string]interface{}{}, err
	}
	jsonStr = trailingCommaPattern.ReplaceAllString(jsonStr, "$1")

	var value interface{}
	if err := json.Unmarshal([]byte(jsonStr), &value); err != nil {
		return map[string]interface{}{}, fmt.Errorf("responseparser: unmarshal: %w", err)
	}
	return Project(value, schema), nil
}

// Project filters value to the keys schema's properties declare, recursing
// into nested objects and array items. Primitives and unrecognized schema
// shapes pass through unchanged.
func Project(value interface{}, schema map[string]interface{}) interface{} {
	if schema == nil {
		return value
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		obj, ok := value.(map[string]interface{})
		if !ok {
			return value
		}
		out := make(map[string]interface{}, len(props))
		for key, subSchema := range props {
			v, present := obj[key]
			if !present {
				continue
			}
			sub, _ := subSchema.(map[string]interface{})
			out[key] = Project(v, sub)
		}
		return out
	}

	if items, ok := schema["items"].(map[string]interface{}); ok {
		arr, ok := value.([]interface{})
		if !ok {
			return value
		}
		out := make([]interface{}, len(arr))
		for i, item := range arr {
			out[i] = Project(item, items)
		}
		return out
	}

	return value
}

// MergeResult is the shape ParseWithReasoning expects an LLM merge response
// to take: the merged payload alongside the model's field-by-field
// explanation of how it merged.
type MergeResult struct {
	MergedData map[string]interface{} `json:"merged_data"`
	Reasoning  map[string]interface{} `json:"reasoning"`
}

// ParseWithReasoning decodes a merge response shaped {merged_data, reasoning},
// projecting merged_data onto schema. If the response lacks that shape, it
// falls back to treating the whole response as merged_data with a
// synthesized reasoning object, rather than failing the merge outright.
func ParseWithReasoning(response string, schema map[string]interface{}) (map[string]interface{}, map[string]interface{}, error) {
	jsonStr, err := Extract(response)
	if err != nil {
		return map[string]interface{}{}, map[string]interface{}{"fallback": err.Error()}, err
	}
	jsonStr = trailingCommaPattern.ReplaceAllString(jsonStr, "$1")

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return map[string]interface{}{}, map[string]interface{}{"fallback": err.Error()}, nil
	}

	mergedData, hasMerged := raw["merged_data"].(map[string]interface{})
	reasoning, hasReasoning := raw["reasoning"].(map[string]interface{})
	if hasMerged && hasReasoning {
		projected, _ := Project(mergedData, schema).(map[string]interface{})
		return projected, reasoning, nil
	}

	projected, _ := Project(raw, schema).(map[string]interface{})
	return projected, map[string]interface{}{"fallback": "model did not return merged_data/reasoning shape"}, nil
}

// stripMarkdownFence removes a ```json ... ``` or ``` ... ``` wrapper if
// the model wrapped its answer in one.
func stripMarkdownFence(s string) string {
	s = strings.TrimSpace(s)

	if m := codeBlockPattern.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}

	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// extractByBrackets walks from the first opening brace/bracket and uses
// depth tracking (string-and-escape aware) to find its matching close,
// so trailing commentary after the JSON doesn't break parsing.
func extractByBrackets(s string) string {
	startObj := strings.IndexByte(s, '{')
	startArr := strings.IndexByte(s, '[')

	var start int
	var open, close byte
	switch {
	case startObj == -1 && startArr == -1:
		return ""
	case startObj == -1, startArr != -1 && startArr < startObj:
		start, open, close = startArr, '[', ']'
	default:
		start, open, close = startObj, '{', '}'
	}

	depth := 0
	inString := false
	escaped := false
	end := -1

	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// no-op, inside a string literal
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				end = i + 1
			}
		}
		if end != -1 {
			break
		}
	}

	if end == -1 {
		return ""
	}
	return s[start:end]
}

// extractByOuterBounds takes the first opening bracket and the last
// matching closing bracket, for responses where bracket depth tracking
// fails (e.g. unescaped quotes inside a string value).
func extractByOuterBounds(s string) string {
	if first, last := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); first != -1 && last > first {
		if candidate := s[first : last+1]; json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	if first, last := strings.IndexByte(s, '['), strings.LastIndexByte(s, ']'); first != -1 && last > first {
		if candidate := s[first : last+1]; json.Valid([]byte(candidate)) {
			return candidate
		}
	}
	return ""
}

// stripNonJSON trims anything before the first brace and after the last,
// then drops stray control characters the model sometimes emits.
func stripNonJSON(s string) string {
	if last := strings.LastIndexByte(s, '}'); last > 0 {
		s = s[:last+1]
	}
	if first := strings.IndexByte(s, '{'); first > 0 {
		s = s[first:]
	}

	var cleaned strings.Builder
	for _, r := range s {
		if (r >= 32 && r < 127) || r == '\n' || r == '\r' || r == '\t' {
			cleaned.WriteRune(r)
		}
	}
	return cleaned.String()
}
