package chatcontext

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walnutseal1/yk-project/pkg/llms"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 8), 2},
		{strings.Repeat("x", 9), 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimateTokens(tt.text), "text %q", tt.text)
	}
}

func msg(role, content string) llms.Message {
	return llms.Message{Role: role, Content: content}
}

func TestTrimNoOpWhenUnderBudget(t *testing.T) {
	messages := []llms.Message{msg("user", "hi"), msg("assistant", "hello")}
	kept, trimmed := Trim(messages, 10000, nil)
	assert.Equal(t, messages, kept)
	assert.Empty(t, trimmed)
}

func TestTrimDropsOldestFirst(t *testing.T) {
	messages := []llms.Message{
		msg("user", strings.Repeat("a", 400)),
		msg("assistant", strings.Repeat("b", 400)),
		msg("user", "recent"),
	}
	perMsg := EstimateTokens(messages[0].Serialize())

	kept, trimmed := Trim(messages, perMsg+EstimateTokens(messages[2].Serialize()), nil)
	require.Len(t, trimmed, 1)
	assert.Equal(t, messages[0], trimmed[0])
	require.Len(t, kept, 2)
	assert.Equal(t, "recent", kept[1].Content)

	// trimmed ++ kept reconstructs the input.
	assert.Equal(t, messages, append(append([]llms.Message{}, trimmed...), kept...))
}

func TestTrimAccountsForSystemMessages(t *testing.T) {
	system := []llms.Message{msg("system", strings.Repeat("s", 4000))}
	messages := []llms.Message{
		msg("user", strings.Repeat("a", 2000)),
		msg("user", strings.Repeat("b", 2000)),
	}

	// Without the system prompt both fit; with it, the oldest must go.
	kept, trimmed := Trim(messages, 1200, system)
	assert.Len(t, trimmed, 2)
	assert.Empty(t, kept)

	kept, trimmed = Trim(messages, 2000, system)
	require.Len(t, trimmed, 1)
	assert.Equal(t, messages[0], trimmed[0])
	require.Len(t, kept, 1)
}

func TestTrimEverythingWhenSystemExceedsBudget(t *testing.T) {
	system := []llms.Message{msg("system", strings.Repeat("s", 4000))}
	messages := []llms.Message{msg("user", "hi")}

	kept, trimmed := Trim(messages, 100, system)
	assert.Empty(t, kept)
	assert.Equal(t, messages, trimmed)
}

func TestTrimDoesNotMutateInput(t *testing.T) {
	messages := []llms.Message{
		msg("user", strings.Repeat("a", 400)),
		msg("user", "recent"),
	}
	original := append([]llms.Message{}, messages...)

	Trim(messages, 10, nil)
	assert.Equal(t, original, messages)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.json")
	messages := []llms.Message{
		msg("user", "hello"),
		{Role: "assistant", Content: "hi", ToolCalls: []llms.ToolCall{
			{ID: "c1", Name: "roll_dice", Arguments: []byte(`{"dice":"1d6"}`)},
		}},
	}

	require.NoError(t, Save(messages, path))
	loaded := Load(path)
	assert.Equal(t, messages, loaded)
}

func TestLoadMissingFile(t *testing.T) {
	assert.Nil(t, Load(filepath.Join(t.TempDir(), "absent.json")))
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.json")
	require.NoError(t, Save([]llms.Message{msg("user", "x")}, path))
	require.NoError(t, writeCorrupt(path))
	assert.Nil(t, Load(path))
}

func writeCorrupt(path string) error {
	return os.WriteFile(path, []byte("{broken"), 0o644)
}
