package tools

import (
	"context"
	"fmt"
)

// SendMessageTool delivers a message straight to the user through the
// transport. Its result is nil: delivery is the side effect, and the model
// gets nothing to chew on afterwards.
type SendMessageTool struct {
	deliver func(message string)
}

// NewSendMessageTool wires the delivery sink, typically the transport's
// outbound chunk stream.
func NewSendMessageTool(deliver func(message string)) *SendMessageTool {
	return &SendMessageTool{deliver: deliver}
}

func (t *SendMessageTool) Info() ToolInfo {
	return ToolInfo{
		Name:        "send_message",
		Description: "Sends a message to the human user.",
		Parameters: []ToolParameter{
			{
				Name:        "message",
				Type:        "string",
				Description: "Message contents. All unicode (including emojis) are supported.",
				Required:    true,
			},
		},
	}
}

func (t *SendMessageTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	message := stringArg(args, "message")
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}
	if t.deliver != nil {
		t.deliver(message)
	}
	return nil, nil
}
