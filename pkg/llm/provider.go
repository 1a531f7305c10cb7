package llm

import (
	"context"
	"fmt"
)

// Provider is one chat-completion backend.
type Provider interface {
	// Complete returns the assistant message for req.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream behaves like Complete and reports text deltas to onDelta as they arrive.
	Stream(ctx context.Context, req Request, onDelta func(string)) (*Response, error)

	// Name returns the provider name
	Name() string
}

// ProviderConfig selects and authenticates a provider.
type ProviderConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// NewProvider creates a provider from its configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
