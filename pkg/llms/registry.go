package llms

import (
	"context"
	"fmt"
	"strings"

	"github.com/walnutseal1/yk-project/pkg/registry"
)

// Provider is the provider-agnostic streaming gateway to one model.
//
// Query opens a streaming session and yields typed chunks on the returned
// channel. The channel closes when the stream ends; an error chunk is always
// the last element. Consumers cancel by cancelling ctx and draining.
type Provider interface {
	Query(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	ModelName() string

	// SetModel swaps the model identifier (the path part, not the provider
	// scheme) for subsequent queries.
	SetModel(model string)

	Close() error
}

// Options carries construction parameters common to all providers.
type Options struct {
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature float64
	ThinkLevel  string
	// TimeoutSeconds bounds each streaming request end to end.
	TimeoutSeconds int
}

// Factory builds a provider for a model path under one identifier scheme.
type Factory func(model string, opts Options) (Provider, error)

var providerFactories = newFactoryRegistry()

func newFactoryRegistry() *registry.BaseRegistry[Factory] {
	r := registry.NewBaseRegistry[Factory]()
	// OpenAI-wire providers differ only in endpoint and credential source.
	_ = r.Register("openrouter", func(model string, opts Options) (Provider, error) {
		return newOpenAICompatProvider("openrouter", model, opts)
	})
	_ = r.Register("lmstudio", func(model string, opts Options) (Provider, error) {
		return newOpenAICompatProvider("lmstudio", model, opts)
	})
	_ = r.Register("kobold-cpp", func(model string, opts Options) (Provider, error) {
		return newOpenAICompatProvider("kobold-cpp", model, opts)
	})
	_ = r.Register("ollama", func(model string, opts Options) (Provider, error) {
		return newOllamaProvider(model, opts)
	})
	return r
}

// SplitModelID splits a "provider/model" identifier on the first slash. The
// model part may itself contain slashes (e.g. openrouter vendor paths,
// ollama hf.co pulls).
func SplitModelID(id string) (provider, model string, err error) {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("model format must be 'provider/model_name', got %q", id)
	}
	return parts[0], parts[1], nil
}

// New resolves the identifier scheme against the provider registry and
// constructs the gateway. Selection happens once, at construction.
func New(modelID string, opts Options) (Provider, error) {
	scheme, model, err := SplitModelID(modelID)
	if err != nil {
		return nil, err
	}
	factory, ok := providerFactories.Get(scheme)
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s (supported: %s)",
			scheme, strings.Join(providerFactories.Names(), ", "))
	}
	return factory(model, opts)
}
