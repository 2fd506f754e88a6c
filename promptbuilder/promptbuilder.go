// Package promptbuilder implements PromptBuilder (spec.md §4.4): turning
// a chunk of document text plus the caller's target schema into the
// system/user prompt pair ExtractionEngine sends to an LLMClient.
package promptbuilder

import (
	"encoding/json"
	"fmt"

	"github.com/sahilchouksey/extraction-orchestrator/chunker"
	"github.com/sahilchouksey/extraction-orchestrator/llm"
)

const chunkSystemPromptTemplate = `Extract structured data from the provided document excerpt according to this JSON Schema:

%s

Rules:
- Output ONLY valid JSON matching the schema. No markdown formatting, no explanation.
- This excerpt is chunk %d of %d from a larger document; fields that can't be determined from this excerpt alone should be omitted rather than guessed.
- Preserve exact wording for any field that asks for verbatim text.`

const mergeSystemPrompt = `You are merging partial JSON extraction results from sequential chunks of the same document into one consolidated result conforming to the original schema.

Tasks:
1. Combine array fields across chunks, removing exact duplicates.
2. When the same entity appears in more than one chunk, keep the most complete version.
3. Preserve field ordering and structure implied by the schema.

Output ONLY a JSON object of the form {"merged_data": <the merged result>, "reasoning": {<field name>: <how it was merged>}}, with no other text.`

// Params carries the sampling parameters a job was configured with
// (spec.md §6 `llmTemperature`/`llmMaxTokens`), applied to every chunk and
// merge request so a job's configured temperature actually reaches the
// provider instead of silently defaulting to zero.
type Params struct {
	Temperature float64
	MaxTokens   int
}

// BuildChunkPrompt returns the system/user prompt pair for extracting one
// chunk against schema.
func BuildChunkPrompt(c chunker.Chunk, schema json.RawMessage, params Params) llm.Request {
	system := fmt.Sprintf(chunkSystemPromptTemplate, string(schema), c.Index+1, c.Total)
	user := fmt.Sprintf("Chunk %d of %d:\n\n%s", c.Index+1, c.Total, c.Text)

	var schemaMap map[string]interface{}
	_ = json.Unmarshal(schema, &schemaMap)

	return llm.Request{
		SystemPrompt:   system,
		UserPrompt:     user,
		Temperature:    params.Temperature,
		MaxTokens:      params.MaxTokens,
		JSONSchema:     schemaMap,
		JSONSchemaName: "extraction_chunk",
	}
}

// BuildMergePrompt returns the prompt pair for folding a new chunk's
// extraction into the running merged result.
func BuildMergePrompt(merged json.RawMessage, next json.RawMessage, schema json.RawMessage, params Params) llm.Request {
	user := fmt.Sprintf("Schema:\n%s\n\nCurrent merged result:\n%s\n\nNew chunk result to merge in:\n%s",
		string(schema), string(merged), string(next))

	var schemaMap map[string]interface{}
	_ = json.Unmarshal(schema, &schemaMap)
	var responseSchema map[string]interface{}
	if schemaMap != nil {
		responseSchema = map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"merged_data": schemaMap,
				"reasoning":   map[string]interface{}{"type": "object"},
			},
			"required": []string{"merged_data", "reasoning"},
		}
	}

	return llm.Request{
		SystemPrompt:   mergeSystemPrompt,
		UserPrompt:     user,
		Temperature:    params.Temperature,
		MaxTokens:      params.MaxTokens,
		JSONSchema:     responseSchema,
		JSONSchemaName: "extraction_merge",
	}
}
