package chatcontext

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/walnutseal1/yk-project/pkg/llms"
)

// TokenCounter reports exact token counts for usage accounting. The trim
// budget stays on EstimateTokens; exact counts are for operators, not for
// the contract.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter loads the cl100k_base encoding. Returns nil if the
// encoding data is unavailable; callers fall back to the estimate.
func NewTokenCounter() *TokenCounter {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil
	}
	return &TokenCounter{encoding: encoding}
}

// Count returns the exact token count, or the estimate when no encoding is
// loaded.
func (c *TokenCounter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return EstimateTokens(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CountMessages totals the serialized cost of a transcript.
func (c *TokenCounter) CountMessages(messages []llms.Message) int {
	total := 0
	for _, m := range messages {
		total += c.Count(m.Serialize())
	}
	return total
}
