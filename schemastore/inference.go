package schemastore

// DetectFieldType maps a decoded JSON value onto a JSON-Schema primitive
// type name, mirroring the source system's field-type detector used to
// bootstrap a schema from a sample of already-extracted data.
func DetectFieldType(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, int, int64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		_ = v
		return "string"
	}
}

// GenerateFromSample infers a JSON-Schema draft-07-shaped document from one
// sample JSON object, the way a caller would bootstrap a SchemaStore entry
// for a dataset before any schema has been registered for it. Nested
// objects and arrays are walked recursively; an empty array's item type
// defaults to "string" since no sample element is available to inspect.
func GenerateFromSample(data map[string]interface{}, title string) map[string]interface{} {
	if title == "" {
		title = "Auto-generated Schema"
	}
	return map[string]interface{}{
		"title":      title,
		"type":       "object",
		"properties": generateProperties(data),
	}
}

func generateProperties(obj map[string]interface{}) map[string]interface{} {
	props := make(map[string]interface{}, len(obj))
	for key, value := range obj {
		fieldType := DetectFieldType(value)

		switch fieldType {
		case "object":
			props[key] = map[string]interface{}{
				"type":       fieldType,
				"properties": generateProperties(value.(map[string]interface{})),
			}
		case "array":
			items, _ := value.([]interface{})
			if len(items) == 0 {
				props[key] = map[string]interface{}{
					"type":  fieldType,
					"items": map[string]interface{}{"type": "string"},
				}
				continue
			}
			itemType := DetectFieldType(items[0])
			if itemType == "object" {
				if obj, ok := items[0].(map[string]interface{}); ok {
					props[key] = map[string]interface{}{
						"type": fieldType,
						"items": map[string]interface{}{
							"type":       itemType,
							"properties": generateProperties(obj),
						},
					}
					continue
				}
			}
			props[key] = map[string]interface{}{
				"type":  fieldType,
				"items": map[string]interface{}{"type": itemType},
			}
		default:
			props[key] = map[string]interface{}{"type": fieldType}
		}
	}
	return props
}

// MergeSchemas folds several inferred schemas' properties into one,
// reconciling type conflicts into a union-type array the way two datasets
// with slightly different shapes for the same field get reconciled into a
// single registerable schema.
func MergeSchemas(schemas []map[string]interface{}, title string) map[string]interface{} {
	if title == "" {
		title = "Merged Schema"
	}
	merged := map[string]interface{}{
		"title":      title,
		"type":       "object",
		"properties": map[string]interface{}{},
	}
	if len(schemas) == 0 {
		return merged
	}

	mergedProps := merged["properties"].(map[string]interface{})
	for _, schema := range schemas {
		props, ok := schema["properties"].(map[string]interface{})
		if !ok {
			continue
		}
		for name, def := range props {
			existing, exists := mergedProps[name]
			if !exists {
				mergedProps[name] = def
				continue
			}
			mergedProps[name] = reconcileProperty(existing, def)
		}
	}
	return merged
}

func reconcileProperty(existing, next interface{}) interface{} {
	existingMap, eok := existing.(map[string]interface{})
	nextMap, nok := next.(map[string]interface{})
	if !eok || !nok {
		return existing
	}

	existingType := existingMap["type"]
	nextType := nextMap["type"]
	if existingType != nextType {
		existingMap["type"] = unionType(existingType, nextType)
	}

	existingNested, eHasNested := existingMap["properties"].(map[string]interface{})
	nextNested, nHasNested := nextMap["properties"].(map[string]interface{})
	if eHasNested && nHasNested {
		existingMap["properties"] = MergeSchemas(
			[]map[string]interface{}{{"properties": existingNested}, {"properties": nextNested}},
			"",
		)["properties"]
	}
	return existingMap
}

func unionType(a, b interface{}) interface{} {
	types := []interface{}{}
	seen := map[interface{}]bool{}
	for _, t := range []interface{}{a, b} {
		switch v := t.(type) {
		case []interface{}:
			for _, inner := range v {
				if !seen[inner] {
					seen[inner] = true
					types = append(types, inner)
				}
			}
		default:
			if !seen[v] {
				seen[v] = true
				types = append(types, v)
			}
		}
	}
	return types
}
