package llms

import (
	"encoding/json"
)

// Message roles used throughout the conversation context.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation. Assistant turns may carry the tool
// calls the model issued; tool turns carry the stringified result.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Serialize renders the message for token estimation and wire payloads.
func (m Message) Serialize() string {
	data, err := json.Marshal(m)
	if err != nil {
		return m.Role + ": " + m.Content
	}
	return string(data)
}

// ToolCall is a fully-formed tool invocation produced by a model.
// Arguments is a JSON-shaped value (object or encoded object).
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition is the provider-facing schema of a registered tool.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Stream chunk types emitted by Provider.Query.
const (
	ChunkContent  = "content"
	ChunkThinking = "thinking"
	ChunkToolCall = "tool_call"
	ChunkError    = "error"
)

// StreamChunk is one typed increment of a streaming model response.
// A chunk of type error is terminal: the stream closes after it.
type StreamChunk struct {
	Type     string
	Text     string
	ToolCall *ToolCall
	Err      error
}
