// Package llm implements the LLMClient external interface (spec.md §6):
// a single chat-completion call used by PromptBuilder/ExtractionEngine to
// run one chunk's extraction prompt against a configured provider.
package llm

import "context"

// Request is one chat-completion call: a system prompt plus the chunk's
// user prompt, with optional structured-output enforcement.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	// JSONSchema, when non-nil, asks the provider to constrain output to
	// this schema. Providers that don't support it fall back to
	// prompt-level JSON enforcement.
	JSONSchema     map[string]interface{}
	JSONSchemaName string
}

// Response is a completion result plus usage accounting for logging.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Client is the provider-agnostic interface ExtractionEngine drives.
// Implementations: digitalocean.go (DigitalOcean AI inference, OpenAI
// wire-compatible) and openai.go (github.com/openai/openai-go).
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
