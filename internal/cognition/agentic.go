package cognition

import (
	"context"

	"iris/internal/types"
)

// runAgenticLoop gives the main model the full tool set and executes
// whatever it calls until it emits text-only output or the per-tick
// tool-call cap is reached (spec §4.3: "bounded by a per-tick tool-call
// cap (default 4)"). A cancellation check runs between iterations.
func (p *Pipeline) runAgenticLoop(ctx context.Context, assembled string) Outcome {
	var tools []types.ToolDefinition
	if p.tools != nil {
		tools = p.tools.Tools()
	}

	messages := []types.Message{{Role: "user", Content: assembled}}
	var lastText string

	for calls := 0; calls < p.toolCap; calls++ {
		select {
		case <-ctx.Done():
			return Outcome{ResponseText: lastText, UsedAgenticLoop: true, Err: ctx.Err()}
		default:
		}

		result, err := p.llm.Complete(ctx, p.provider, messages, tools)
		if err != nil {
			return Outcome{ResponseText: lastText, UsedAgenticLoop: true, Err: err}
		}
		lastText = result.Text

		if len(result.ToolCalls) == 0 {
			return Outcome{ResponseText: result.Text, UsedAgenticLoop: true}
		}

		messages = append(messages, types.Message{Role: "assistant", Content: result.Text, ToolCalls: result.ToolCalls})
		for _, call := range result.ToolCalls {
			var output string
			if p.tools == nil {
				output = "no tool invoker configured"
			} else if out, err := p.tools.Invoke(ctx, call.Name, call.Input); err != nil {
				output = err.Error()
			} else {
				output = out
			}
			messages = append(messages, types.Message{Role: "tool", Content: output, ToolCallID: call.ID})
		}
	}

	// Cap reached: return the best-effort text from the last turn (spec
	// §4.3: "Terminates ... when the cap is reached (return best-effort
	// text)").
	return Outcome{ResponseText: lastText, UsedAgenticLoop: true}
}
