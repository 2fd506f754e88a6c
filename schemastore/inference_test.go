package schemastore

import "testing"

func TestDetectFieldTypeMapsPrimitives(t *testing.T) {
	cases := []struct {
		value interface{}
		want  string
	}{
		{nil, "null"},
		{true, "boolean"},
		{float64(3.14), "number"},
		{"hello", "string"},
		{[]interface{}{"a"}, "array"},
		{map[string]interface{}{"a": 1}, "object"},
	}
	for _, c := range cases {
		if got := DetectFieldType(c.value); got != c.want {
			t.Errorf("DetectFieldType(%#v) = %q, want %q", c.value, got, c.want)
		}
	}
}

func TestGenerateFromSampleInfersNestedShape(t *testing.T) {
	sample := map[string]interface{}{
		"name": "Acme Corp",
		"revenue": map[string]interface{}{
			"amount":   float64(1000000),
			"currency": "USD",
		},
		"tags": []interface{}{"enterprise", "saas"},
	}

	schema := GenerateFromSample(sample, "Company")
	if schema["title"] != "Company" {
		t.Errorf("expected title Company, got %v", schema["title"])
	}
	props := schema["properties"].(map[string]interface{})

	name := props["name"].(map[string]interface{})
	if name["type"] != "string" {
		t.Errorf("expected name field to be string, got %v", name["type"])
	}

	revenue := props["revenue"].(map[string]interface{})
	if revenue["type"] != "object" {
		t.Errorf("expected revenue field to be object, got %v", revenue["type"])
	}
	revenueProps := revenue["properties"].(map[string]interface{})
	amount := revenueProps["amount"].(map[string]interface{})
	if amount["type"] != "number" {
		t.Errorf("expected nested amount field to be number, got %v", amount["type"])
	}

	tags := props["tags"].(map[string]interface{})
	if tags["type"] != "array" {
		t.Errorf("expected tags field to be array, got %v", tags["type"])
	}
	items := tags["items"].(map[string]interface{})
	if items["type"] != "string" {
		t.Errorf("expected tags items to be string, got %v", items["type"])
	}
}

func TestGenerateFromSampleDefaultsTitle(t *testing.T) {
	schema := GenerateFromSample(map[string]interface{}{}, "")
	if schema["title"] != "Auto-generated Schema" {
		t.Errorf("expected default title, got %v", schema["title"])
	}
}

func TestGenerateFromSampleEmptyArrayDefaultsToString(t *testing.T) {
	schema := GenerateFromSample(map[string]interface{}{"items": []interface{}{}}, "")
	props := schema["properties"].(map[string]interface{})
	items := props["items"].(map[string]interface{})
	itemSchema := items["items"].(map[string]interface{})
	if itemSchema["type"] != "string" {
		t.Errorf("expected empty array items to default to string, got %v", itemSchema["type"])
	}
}

func TestMergeSchemasReconcilesTypeConflicts(t *testing.T) {
	a := GenerateFromSample(map[string]interface{}{"age": float64(30)}, "A")
	b := GenerateFromSample(map[string]interface{}{"age": "thirty"}, "B")

	merged := MergeSchemas([]map[string]interface{}{a, b}, "Merged")
	props := merged["properties"].(map[string]interface{})
	age := props["age"].(map[string]interface{})

	union, ok := age["type"].([]interface{})
	if !ok {
		t.Fatalf("expected a union type for conflicting field, got %#v", age["type"])
	}
	if len(union) != 2 {
		t.Errorf("expected two distinct types in the union, got %v", union)
	}
}

func TestMergeSchemasWithNoInputsReturnsEmptySchema(t *testing.T) {
	merged := MergeSchemas(nil, "Empty")
	if merged["title"] != "Empty" {
		t.Errorf("expected title Empty, got %v", merged["title"])
	}
	props := merged["properties"].(map[string]interface{})
	if len(props) != 0 {
		t.Errorf("expected no properties, got %v", props)
	}
}
