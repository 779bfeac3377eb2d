// Package cognition implements the scheduler's fourth tick phase (spec
// §4.1 step 4, §4.3): context assembly, the tool-routing gate, the
// direct-response generator, and the bounded agentic tool-use loop.
package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"iris/internal/types"
)

// ToolRoutingDecision is the tool-routing gate's parsed reply (spec §6:
// "JSON object with exactly the fields use_tool, tool_name, input,
// confidence").
type ToolRoutingDecision struct {
	UseTool    bool
	ToolName   string
	Input      map[string]any
	Confidence float64
}

// wireDecision mirrors the gate's wire shape. UseTool and Confidence are
// pointers so an absent key is detected and rejected; a null or absent
// tool_name or input both decode to empty and are accepted, with tool_name
// required only when use_tool is true.
type wireDecision struct {
	UseTool    *bool           `json:"use_tool"`
	ToolName   *string         `json:"tool_name"`
	Input      json.RawMessage `json:"input"`
	Confidence *float64        `json:"confidence"`
}

// Completer is the narrow LLM contract the gate and agentic loop need.
type Completer interface {
	Complete(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error)
	CompleteLite(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error)
}

// ToolRoutingGate prompts the lite model for a single-turn routing
// decision. It holds no memory between calls (spec §4.3).
type ToolRoutingGate struct {
	provider string
}

// NewToolRoutingGate builds a gate bound to one provider. The provider's
// configured lite model (falling back to its main model) is resolved by
// the router, not chosen here.
func NewToolRoutingGate(provider string) *ToolRoutingGate {
	return &ToolRoutingGate{provider: provider}
}

// Decide runs one gate turn. A schema-invalid or malformed reply returns
// ok=false (never an error the caller must specially handle) so the
// pipeline's fallthrough to the agentic loop is the normal path, not an
// exceptional one.
func (g *ToolRoutingGate) Decide(ctx context.Context, llm Completer, contextText string, tools []types.ToolDefinition) (ToolRoutingDecision, bool) {
	result, err := llm.CompleteLite(ctx, g.provider, []types.Message{
		{Role: "system", Content: gateSystemPrompt(tools)},
		{Role: "user", Content: contextText},
	}, nil)
	if err != nil {
		return ToolRoutingDecision{}, false
	}
	return parseGateReply(result.Text)
}

func gateSystemPrompt(tools []types.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("You are a routing gate. Given the conversation context, decide whether a tool should be invoked.\n")
	b.WriteString("Respond with exactly one JSON object with the fields use_tool (bool), tool_name (string or null), input (object or null), confidence (number 0-1). No other text.\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		b.WriteString(fmt.Sprintf("- %s: %s\n", t.Name, t.Description))
	}
	return b.String()
}

// parseGateReply enforces the fixed schema: exactly use_tool, tool_name,
// input, confidence, with use_tool and confidence always present and
// well-typed. A failure here is spec §7's "Validation" error kind — never
// recovered locally, always a fallthrough signal to the caller.
func parseGateReply(raw string) (ToolRoutingDecision, bool) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return ToolRoutingDecision{}, false
	}
	for k := range keys {
		switch k {
		case "use_tool", "tool_name", "input", "confidence":
		default:
			return ToolRoutingDecision{}, false
		}
	}

	var w wireDecision
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return ToolRoutingDecision{}, false
	}
	if w.UseTool == nil || w.Confidence == nil {
		return ToolRoutingDecision{}, false
	}
	if *w.Confidence < 0 || *w.Confidence > 1 {
		return ToolRoutingDecision{}, false
	}

	d := ToolRoutingDecision{UseTool: *w.UseTool, Confidence: *w.Confidence}
	if w.ToolName != nil {
		d.ToolName = *w.ToolName
	}
	if d.UseTool && d.ToolName == "" {
		return ToolRoutingDecision{}, false
	}
	if len(w.Input) > 0 && string(w.Input) != "null" {
		if err := json.Unmarshal(w.Input, &d.Input); err != nil {
			return ToolRoutingDecision{}, false
		}
	}
	return d, true
}
