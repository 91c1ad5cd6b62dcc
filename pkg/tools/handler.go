package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/walnutseal1/yk-project/pkg/llms"
	"github.com/walnutseal1/yk-project/pkg/registry"
)

// Authorizer decides whether a gated tool may run. A non-nil error denies
// the call; the error text becomes the denial reason the model sees.
type Authorizer interface {
	Authorize(action string) error
}

// DenyAll refuses every gated action. It is the default when no interactive
// approver is wired in.
type DenyAll struct{}

func (DenyAll) Authorize(action string) error {
	return fmt.Errorf("approval required for '%s' and no approver is available", action)
}

// ToolCallResult is the outcome of one dispatched call.
type ToolCallResult struct {
	CallID  string
	Name    string
	Result  interface{}
	Err     string
	Success bool
}

// Handler registers tools by name and dispatches tool calls from the
// models.
type Handler struct {
	tools            *registry.BaseRegistry[Tool]
	order            []string
	approvalRequired map[string]bool
	authorizer       Authorizer
}

func NewHandler() *Handler {
	return &Handler{
		tools:      registry.NewBaseRegistry[Tool](),
		authorizer: DenyAll{},
	}
}

// SetAuthorizer replaces the approver consulted for gated tools.
func (h *Handler) SetAuthorizer(a Authorizer) {
	if a != nil {
		h.authorizer = a
	}
}

// SetApprovalRequired installs the tool-name → requires-approval map.
func (h *Handler) SetApprovalRequired(m map[string]bool) {
	h.approvalRequired = m
}

// RegisterTool adds a tool under its own name. Re-registering a name
// replaces the previous tool.
func (h *Handler) RegisterTool(tool Tool) {
	name := tool.Info().Name
	if _, exists := h.tools.Get(name); !exists {
		h.order = append(h.order, name)
	}
	_ = h.tools.Register(name, tool)
}

// Definitions returns every registered tool's schema in registration order.
func (h *Handler) Definitions() []llms.ToolDefinition {
	defs := make([]llms.ToolDefinition, 0, len(h.order))
	for _, name := range h.order {
		if tool, ok := h.tools.Get(name); ok {
			defs = append(defs, tool.Info().Definition())
		}
	}
	return defs
}

// Has reports whether a tool name is registered.
func (h *Handler) Has(name string) bool {
	_, ok := h.tools.Get(name)
	return ok
}

// ExecuteToolCall looks up and runs one tool call. Failures never escape as
// errors; they come back as unsuccessful results the model can read.
func (h *Handler) ExecuteToolCall(ctx context.Context, tc llms.ToolCall) ToolCallResult {
	tool, ok := h.tools.Get(tc.Name)
	if !ok {
		return ToolCallResult{
			CallID: tc.ID,
			Name:   tc.Name,
			Err:    fmt.Sprintf("Tool '%s' not found", tc.Name),
		}
	}

	args, err := decodeArguments(tc.Arguments)
	if err != nil {
		return ToolCallResult{
			CallID: tc.ID,
			Name:   tc.Name,
			Err:    fmt.Sprintf("Invalid JSON in arguments: %s", string(tc.Arguments)),
		}
	}

	if h.approvalRequired[tc.Name] {
		if err := h.authorizer.Authorize(tc.Name); err != nil {
			// Denial is the tool's output, not a dispatch failure.
			return ToolCallResult{
				CallID:  tc.ID,
				Name:    tc.Name,
				Result:  "User denied authorization: " + err.Error(),
				Success: true,
			}
		}
	}

	result, err := tool.Execute(ctx, args)
	if err != nil {
		return ToolCallResult{CallID: tc.ID, Name: tc.Name, Err: err.Error()}
	}
	return ToolCallResult{CallID: tc.ID, Name: tc.Name, Result: result, Success: true}
}

// ProcessToolCalls executes a batch in order, synchronously. Each entry in
// the returned slice is the call's result value, a nil for a nil-returning
// tool, or its error string. Ordering matches the call list.
func (h *Handler) ProcessToolCalls(ctx context.Context, calls []llms.ToolCall) []interface{} {
	results := make([]interface{}, 0, len(calls))
	for _, tc := range calls {
		slog.Debug("executing tool call", "tool", tc.Name, "id", tc.ID)
		result := h.ExecuteToolCall(ctx, tc)
		if result.Success {
			results = append(results, result.Result)
		} else {
			results = append(results, fmt.Sprintf("Error calling %s: %s", tc.Name, result.Err))
		}
	}
	return results
}

// decodeArguments accepts either a JSON object or a JSON string wrapping
// one; some providers double-encode.
func decodeArguments(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err == nil {
		if args == nil {
			args = map[string]interface{}{}
		}
		return args, nil
	}
	var wrapped string
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object")
	}
	if err := json.Unmarshal([]byte(wrapped), &args); err != nil {
		return nil, fmt.Errorf("arguments are not a JSON object")
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, nil
}
