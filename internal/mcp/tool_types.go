package mcp

import "fmt"

// ToolDescriptor is the tools/list item shape exposed over the gateway.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToolCallPayload is the tools/call request body.
type ToolCallPayload struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ErrToolNotFound indicates the invoker does not own the requested tool.
var ErrToolNotFound = fmt.Errorf("tool not found")

// DefaultInputSchema is the schema used when an upstream tool reports none.
func DefaultInputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}
