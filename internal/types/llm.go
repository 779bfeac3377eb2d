package types

import "context"

// ToolDefinition describes one tool the model may invoke, shared between
// the tool-routing gate, the agentic loop, and the capability registry.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any // JSON-schema-shaped map
}

// ToolCall is a tool invocation requested by a model turn.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is fed back to the model after a ToolCall executes.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one turn of a conversation passed to an LLMClient.
type Message struct {
	Role    string // "system", "user", "assistant", "tool"
	Content string
	// ToolCalls is set on assistant turns that invoked tools.
	ToolCalls []ToolCall
	// ToolCallID ties a "tool" role message back to the ToolCall it answers.
	ToolCallID string
}

// CompletionResult is what a provider returns for one turn: text, one or
// more tool calls, or both. A plain textual completion has Text set and
// ToolCalls empty.
type CompletionResult struct {
	Text      string
	ToolCalls []ToolCall
}

// LLMClient is the uniform contract every provider implementation satisfies,
// regardless of transport (official SDK or hand-rolled REST).
type LLMClient interface {
	// Complete runs one turn. tools may be nil for plain completions.
	Complete(ctx context.Context, model string, messages []Message, tools []ToolDefinition) (CompletionResult, error)
}
