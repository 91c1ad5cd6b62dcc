package llms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(s *thinkSplitter, deltas ...string) []StreamChunk {
	var out []StreamChunk
	for _, d := range deltas {
		out = append(out, s.split(d)...)
	}
	out = append(out, s.flush()...)
	return out
}

func joinByType(chunks []StreamChunk, typ string) string {
	var b string
	for _, c := range chunks {
		if c.Type == typ {
			b += c.Text
		}
	}
	return b
}

func TestThinkSplitter(t *testing.T) {
	tests := []struct {
		name         string
		deltas       []string
		wantContent  string
		wantThinking string
	}{
		{
			name:        "plain content",
			deltas:      []string{"hello ", "world"},
			wantContent: "hello world",
		},
		{
			name:         "single think block",
			deltas:       []string{"<think>pondering</think>answer"},
			wantContent:  "answer",
			wantThinking: "pondering",
		},
		{
			name:         "think block spanning deltas",
			deltas:       []string{"<think>first ", "second</think>", "done"},
			wantContent:  "done",
			wantThinking: "first second",
		},
		{
			name:         "open tag split across deltas",
			deltas:       []string{"<th", "ink>inner</think>out"},
			wantContent:  "out",
			wantThinking: "inner",
		},
		{
			name:         "close tag split across deltas",
			deltas:       []string{"<think>inner</th", "ink>out"},
			wantContent:  "out",
			wantThinking: "inner",
		},
		{
			name:        "false tag prefix flushed",
			deltas:      []string{"a <thin", "g happened"},
			wantContent: "a <thing happened",
		},
		{
			name:         "unterminated think block",
			deltas:       []string{"<think>never closed"},
			wantThinking: "never closed",
		},
		{
			name:         "content before think",
			deltas:       []string{"pre<think>mid</think>post"},
			wantContent:  "prepost",
			wantThinking: "mid",
		},
		{
			name:         "multiple think blocks",
			deltas:       []string{"<think>a</think>x<think>b</think>y"},
			wantContent:  "xy",
			wantThinking: "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := collect(&thinkSplitter{}, tt.deltas...)
			assert.Equal(t, tt.wantContent, joinByType(chunks, ChunkContent))
			assert.Equal(t, tt.wantThinking, joinByType(chunks, ChunkThinking))
		})
	}
}

func TestThinkSplitterNoTagLeakage(t *testing.T) {
	chunks := collect(&thinkSplitter{}, "<think>a</think>b")
	for _, c := range chunks {
		assert.NotContains(t, c.Text, "<think>")
		assert.NotContains(t, c.Text, "</think>")
	}
}
