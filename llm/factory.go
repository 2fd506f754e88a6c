package llm

import (
	"errors"
	"fmt"
)

// ErrAPIKeyRequired is returned by New when UseAPI is true but no API key
// is configured. jobmanager.Start checks for this condition itself before
// ever calling New, so in normal operation New never needs to return it;
// it exists as a defense-in-depth typed error rather than the source
// system's pattern of catching a ValueError and silently retrying with
// useApi=false.
var ErrAPIKeyRequired = errors.New("llm: API key is required when useApi is true")

// Config is the provider-selection subset of the orchestrator's
// environment configuration.
type Config struct {
	Provider string

	// UseAPI selects cloud-API mode (APIKey/BaseURL/Model) when true, or
	// local-inference mode (LocalBaseURL/LocalModel, no key) when false —
	// the same per-provider api/local split the source config keys its
	// provider tables on.
	UseAPI bool

	APIKey  string
	BaseURL string
	Model   string

	LocalBaseURL string
	LocalModel   string

	Temperature    float64
	MaxTokens      int
	TimeoutSeconds int
}

// New builds the configured Client, wrapping it in a conservative rate
// limiter the way the teacher always guards its GenAI calls. UseAPI/APIKey
// are validated by the caller (jobmanager.Start) ahead of time; New itself
// still refuses to build a cloud client with no key rather than silently
// degrading.
func New(cfg Config) (Client, error) {
	limiter := NewRateLimiter(DefaultRateLimiterConfig())

	model := cfg.Model
	baseURL := cfg.BaseURL
	apiKey := cfg.APIKey
	if !cfg.UseAPI {
		apiKey = ""
		if cfg.LocalBaseURL != "" {
			baseURL = cfg.LocalBaseURL
		}
		if cfg.LocalModel != "" {
			model = cfg.LocalModel
		}
	} else if cfg.APIKey == "" {
		return nil, ErrAPIKeyRequired
	}

	switch cfg.Provider {
	case "", "digitalocean":
		return NewDigitalOceanClient(DigitalOceanConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Model:   model,
			Limiter: limiter,
		}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Model:   model,
			Limiter: limiter,
		}), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}
