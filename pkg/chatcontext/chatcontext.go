// Package chatcontext manages the running conversation transcript: token
// budgeting, oldest-first trimming, and persistence across restarts.
package chatcontext

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/walnutseal1/yk-project/pkg/llms"
)

// EstimateTokens approximates the token cost of a string as ceil(len/4).
// The estimate is intentionally cheap; it only has to be stable and
// monotonic for the trim budget to hold.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func messagesTokens(messages []llms.Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Serialize())
	}
	return total
}

// Trim pops the oldest turns until the rest fit in max_tokens minus the
// system prompt's cost. On return either kept fits the budget or kept is
// empty; trimmed holds the removed turns oldest first, so trimmed followed
// by kept reconstructs the input.
func Trim(messages []llms.Message, maxTokens int, systemMessages []llms.Message) (kept, trimmed []llms.Message) {
	available := maxTokens - messagesTokens(systemMessages)

	kept = make([]llms.Message, len(messages))
	copy(kept, messages)

	for len(kept) > 0 && messagesTokens(kept) > available {
		trimmed = append(trimmed, kept[0])
		kept = kept[1:]
	}
	return kept, trimmed
}

// Save persists the transcript as indented JSON.
func Save(messages []llms.Message, path string) error {
	data, err := json.MarshalIndent(messages, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal context: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Load restores a persisted transcript. A missing or corrupt file yields an
// empty transcript rather than an error so a fresh install starts clean.
func Load(path string) []llms.Message {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read context file", "path", path, "error", err)
		}
		return nil
	}
	var messages []llms.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		slog.Warn("context file is malformed, starting empty", "path", path, "error", err)
		return nil
	}
	return messages
}
