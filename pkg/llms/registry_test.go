package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitModelID(t *testing.T) {
	tests := []struct {
		name         string
		id           string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{name: "simple", id: "ollama/qwen3:4b", wantProvider: "ollama", wantModel: "qwen3:4b"},
		{name: "model with slashes", id: "openrouter/deepseek/deepseek-chat", wantProvider: "openrouter", wantModel: "deepseek/deepseek-chat"},
		{name: "no slash", id: "qwen3", wantErr: true},
		{name: "empty provider", id: "/model", wantErr: true},
		{name: "empty model", id: "ollama/", wantErr: true},
		{name: "empty", id: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, model, err := SplitModelID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, provider)
			assert.Equal(t, tt.wantModel, model)
		})
	}
}

func TestNewUnsupportedProvider(t *testing.T) {
	_, err := New("unknown/model", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestNewBadFormat(t *testing.T) {
	_, err := New("not-a-model-id", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider/model_name")
}

func TestNewOllama(t *testing.T) {
	p, err := New("ollama/qwen3:4b", Options{MaxTokens: 100})
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, "qwen3:4b", p.ModelName())

	p.SetModel("qwen3:8b")
	assert.Equal(t, "qwen3:8b", p.ModelName())
}

func TestRegisteredSchemes(t *testing.T) {
	names := providerFactories.Names()
	assert.Equal(t, []string{"kobold-cpp", "lmstudio", "ollama", "openrouter"}, names)
}
