// Package embedders provides dense-vector embedding providers behind a
// scheme registry, mirroring the llms provider registry.
package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/walnutseal1/yk-project/pkg/httpclient"
	"github.com/walnutseal1/yk-project/pkg/registry"
)

// Embedder computes a dense vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// Factory builds an embedder for a model path under one identifier scheme.
type Factory func(model string) (Embedder, error)

var embedderFactories = newFactoryRegistry()

func newFactoryRegistry() *registry.BaseRegistry[Factory] {
	r := registry.NewBaseRegistry[Factory]()
	_ = r.Register("ollama", func(model string) (Embedder, error) {
		return newOllamaEmbedder(model), nil
	})
	_ = r.Register("lmstudio", func(model string) (Embedder, error) {
		return newOpenAIEmbedder(envOrDefault("LMSTUDIO_URL", "http://127.0.0.1:1234")+"/v1", "", model), nil
	})
	return r
}

// New resolves a "provider/model" identifier to an embedder.
func New(modelID string) (Embedder, error) {
	parts := strings.SplitN(modelID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("model format must be 'provider/model_name', got %q", modelID)
	}
	factory, ok := embedderFactories.Get(parts[0])
	if !ok {
		return nil, fmt.Errorf("unsupported provider for embeddings: %s", parts[0])
	}
	return factory(parts[1])
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// OllamaEmbedder calls the ollama daemon's native embeddings endpoint.
type OllamaEmbedder struct {
	baseURL    string
	model      string
	httpClient *httpclient.Client
}

func newOllamaEmbedder(model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: envOrDefault("OLLAMA_HOST", "http://localhost:11434"),
		model:   model,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		),
	}
}

func (e *OllamaEmbedder) ModelName() string { return e.model }

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	requestBody, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no vector")
	}
	return result.Embedding, nil
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *httpclient.Client
}

func newOpenAIEmbedder(baseURL, apiKey, model string) *OpenAIEmbedder {
	return &OpenAIEmbedder{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: 60 * time.Second}),
		),
	}
}

func (e *OpenAIEmbedder) ModelName() string { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	requestBody, err := json.Marshal(map[string]string{
		"model": e.model,
		"input": text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(requestBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response contained no vector")
	}
	return result.Data[0].Embedding, nil
}
