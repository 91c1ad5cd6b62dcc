// Package tools implements the tool-call dispatcher and the built-in tools
// the models can invoke.
package tools

import (
	"context"

	"github.com/walnutseal1/yk-project/pkg/llms"
)

// Tool is a callable the dispatcher can hand to a model.
type Tool interface {
	Info() ToolInfo
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolInfo describes a tool to the model.
type ToolInfo struct {
	Name        string
	Description string
	Parameters  []ToolParameter
}

// ToolParameter is one named argument in a tool's schema. Type uses the
// JSON-schema vocabulary: string, integer, number, boolean, object, array.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Definition renders the info into the provider-facing schema shape.
func (i ToolInfo) Definition() llms.ToolDefinition {
	properties := make(map[string]interface{}, len(i.Parameters))
	required := []string{}
	for _, p := range i.Parameters {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		prop := map[string]interface{}{"type": typ}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return llms.ToolDefinition{
		Name:        i.Name,
		Description: i.Description,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArgDefault(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func floatArgDefault(args map[string]interface{}, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}
