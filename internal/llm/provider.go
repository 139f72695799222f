package llm

import (
	"context"
	"fmt"

	"github.com/arborlabs/arbor/config"
)

// Provider is the interface all LLM implementations must satisfy.
//
// Options is a free-form bag; recognized keys are "temperature" (float64),
// "max_tokens" (int), "system" (string) and "api_key" (string). An "api_key"
// option binds caller-supplied credentials to that single call only: the
// provider's own key is untouched, so there is nothing to restore on any exit
// path, including errors.
type Provider interface {
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// NewProvider creates an LLM provider based on configuration. The first
// configured provider wins; multi-provider routing is handled by model names.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}
	for name, provider := range cfg.Providers {
		switch provider.Type {
		case "openai":
			return NewOpenAIProvider(provider), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type for %q: %s", name, provider.Type)
		}
	}
	return nil, fmt.Errorf("no valid LLM providers found")
}
