package responseparser

import (
	"encoding/json"
	"testing"
)

func TestExtractDirectJSON(t *testing.T) {
	got, err := Extract(`{"a": 1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !json.Valid([]byte(got)) {
		t.Fatalf("expected valid json, got %q", got)
	}
}

func TestExtractFencedCodeBlock(t *testing.T) {
	resp := "Here is the data:\n```json\n{\"name\": \"alpha\", \"count\": 3}\n```\nLet me know if you need anything else."
	got, err := Extract(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("extracted text is not valid json: %v", err)
	}
	if out["name"] != "alpha" {
		t.Errorf("name = %v, want alpha", out["name"])
	}
}

func TestExtractWithSurroundingCommentary(t *testing.T) {
	resp := `Sure, here's the extracted structure: {"subject": "Algorithms", "credits": 4} Hope that helps!`
	got, err := Extract(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(got), &out); err != nil {
		t.Fatalf("extracted text is not valid json: %v", err)
	}
}

func TestExtractNoJSON(t *testing.T) {
	if _, err := Extract("there is no json here at all"); err == nil {
		t.Fatal("expected an error when no JSON object or array is present")
	}
}

func TestExtractEmptyResponse(t *testing.T) {
	if _, err := Extract(""); err == nil {
		t.Fatal("expected an error for an empty response")
	}
}

func TestProjectFiltersToSchemaProperties(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string"},
		},
	}
	value := map[string]interface{}{"name": "Alice", "secret": "drop me"}

	got := Project(value, schema).(map[string]interface{})
	if _, present := got["secret"]; present {
		t.Error("Project left an undeclared key in the output")
	}
	if got["name"] != "Alice" {
		t.Errorf("name = %v, want Alice", got["name"])
	}
}

func TestProjectRecursesIntoArrayItems(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"subjects": map[string]interface{}{
				"items": map[string]interface{}{
					"properties": map[string]interface{}{
						"code": map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	}
	value := map[string]interface{}{
		"subjects": []interface{}{
			map[string]interface{}{"code": "CS101", "internalNote": "drop"},
		},
	}

	got := Project(value, schema).(map[string]interface{})
	subjects := got["subjects"].([]interface{})
	first := subjects[0].(map[string]interface{})
	if _, present := first["internalNote"]; present {
		t.Error("Project left an undeclared nested key in an array item")
	}
	if first["code"] != "CS101" {
		t.Errorf("code = %v, want CS101", first["code"])
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "string"},
		},
	}
	value := map[string]interface{}{"a": "x", "b": "y"}

	once := Project(value, schema)
	twice := Project(once, schema)

	onceBytes, _ := json.Marshal(once)
	twiceBytes, _ := json.Marshal(twice)
	if string(onceBytes) != string(twiceBytes) {
		t.Errorf("Project is not idempotent: %s != %s", onceBytes, twiceBytes)
	}
}

func TestParseValueDropsTrailingCommas(t *testing.T) {
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "string"},
		},
	}
	value, err := ParseValue(`{"a": "ok",}`, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj := value.(map[string]interface{})
	if obj["a"] != "ok" {
		t.Errorf("a = %v, want ok", obj["a"])
	}
}

func TestParseWithReasoningHappyPath(t *testing.T) {
	resp := `{"merged_data": {"a": "1"}, "reasoning": {"notes": "merged a"}}`
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "string"},
		},
	}
	merged, reasoning, err := ParseWithReasoning(resp, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["a"] != "1" {
		t.Errorf("merged[a] = %v, want 1", merged["a"])
	}
	if reasoning["notes"] != "merged a" {
		t.Errorf("reasoning[notes] = %v, want 'merged a'", reasoning["notes"])
	}
}

func TestParseWithReasoningFallsBackWhenShapeMissing(t *testing.T) {
	resp := `{"a": "1"}`
	schema := map[string]interface{}{
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "string"},
		},
	}
	merged, reasoning, err := ParseWithReasoning(resp, schema)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if merged["a"] != "1" {
		t.Errorf("merged[a] = %v, want 1", merged["a"])
	}
	if _, ok := reasoning["fallback"]; !ok {
		t.Error("expected a synthesized fallback reasoning entry")
	}
}

func TestParseWithReasoningReportsErrorOnGarbage(t *testing.T) {
	_, reasoning, err := ParseWithReasoning("complete nonsense, no json whatsoever", nil)
	if err == nil {
		t.Fatal("expected Extract's no-JSON error to surface")
	}
	if reasoning["fallback"] == "" {
		t.Error("expected a non-empty fallback reasoning message even on failure")
	}
}
