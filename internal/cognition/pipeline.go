package cognition

import (
	"context"
	"fmt"
	"strings"

	"iris/internal/memory"
	"iris/internal/types"
)

// ToolInvoker executes one tool call via the capability IPC layer (spec
// §4.4). Implemented by internal/capability's registry; kept as an
// interface here so cognition never imports process-supervisor internals.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolName string, input map[string]any) (string, error)
	Tools() []types.ToolDefinition
}

// Embedder produces the query vector context assembly uses for semantic
// recall. Satisfied by internal/embedding.Engine.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// directInvokeConfidenceFloor is the fixed threshold from spec §4.1 step 4:
// confidence ≥ 0.72 triggers direct tool invocation.
const directInvokeConfidenceFloor = 0.72

// Pipeline is the unified response pipeline (spec §4.1 step 4, §4.3):
// context assembly → tool-routing gate → direct reply / direct tool call /
// agentic loop.
type Pipeline struct {
	ring     *memory.Ring
	semantic *memory.SemanticStore
	embedder Embedder
	gate     *ToolRoutingGate
	llm      Completer
	provider string
	tools    ToolInvoker
	toolCap  int

	selfContext func() string
}

// New builds a Pipeline. selfContext may be nil, in which case no
// self-context summary line is added to assembled context.
func New(ring *memory.Ring, semantic *memory.SemanticStore, embedder Embedder, gate *ToolRoutingGate, llm Completer, provider string, tools ToolInvoker, toolCallCap int, selfContext func() string) *Pipeline {
	return &Pipeline{
		ring: ring, semantic: semantic, embedder: embedder, gate: gate,
		llm: llm, provider: provider, tools: tools, toolCap: toolCallCap,
		selfContext: selfContext,
	}
}

// Outcome is what one pipeline run produced, for the scheduler's action
// execution and self-critic phases.
type Outcome struct {
	ResponseText   string
	UsedAgenticLoop bool
	InvokedTool     string
	Err             error
}

// Run executes the full pipeline for one dialogue event's text.
func (p *Pipeline) Run(ctx context.Context, userText string) Outcome {
	assembled, err := p.assembleContext(ctx, userText)
	if err != nil {
		return Outcome{Err: err}
	}

	var tools []types.ToolDefinition
	if p.tools != nil {
		tools = p.tools.Tools()
	}

	decision, ok := p.gate.Decide(ctx, p.llm, assembled, tools)
	switch {
	case !ok:
		return p.runAgenticLoop(ctx, assembled)
	case !decision.UseTool:
		return p.directResponse(ctx, assembled)
	case decision.Confidence >= directInvokeConfidenceFloor:
		return p.invokeDirect(ctx, decision)
	default:
		return p.runAgenticLoop(ctx, assembled)
	}
}

// assembleContext builds the text handed to both the gate and the main
// model: up to 10 most-recent working-memory entries (oldest first, so the
// most recent is last and biases model attention toward it), then up to 3
// semantic-recall entries above cosine similarity 0.6, then an optional
// self-context summary line, then the new event (spec §4.1 step 4, §4.3
// "Context assembly ordering").
func (p *Pipeline) assembleContext(ctx context.Context, userText string) (string, error) {
	var b strings.Builder

	for _, entry := range p.ring.Recent(10) {
		fmt.Fprintf(&b, "[working-memory] %s\n", entry.TopicID)
	}

	if p.embedder != nil && p.semantic != nil {
		query, err := p.embedder.Embed(ctx, userText)
		if err == nil {
			recalled, err := p.semantic.Recall(query, 3, 0.6)
			if err == nil {
				for _, k := range recalled {
					fmt.Fprintf(&b, "[semantic-recall] %s\n", k.Summary)
				}
			}
		}
	}

	if p.selfContext != nil {
		if summary := p.selfContext(); summary != "" {
			fmt.Fprintf(&b, "[self-context] %s\n", summary)
		}
	}

	fmt.Fprintf(&b, "[user] %s", userText)
	return b.String(), nil
}

func (p *Pipeline) directResponse(ctx context.Context, assembled string) Outcome {
	result, err := p.llm.Complete(ctx, p.provider, []types.Message{
		{Role: "user", Content: assembled},
	}, nil)
	if err != nil {
		return Outcome{Err: err}
	}
	return Outcome{ResponseText: result.Text}
}

func (p *Pipeline) invokeDirect(ctx context.Context, decision ToolRoutingDecision) Outcome {
	if p.tools == nil {
		return Outcome{Err: types.Tag(types.KindCapabilityFault, "cognition.invokeDirect", fmt.Errorf("no tool invoker configured"))}
	}
	output, err := p.tools.Invoke(ctx, decision.ToolName, decision.Input)
	if err != nil {
		return Outcome{InvokedTool: decision.ToolName, Err: err}
	}
	return Outcome{ResponseText: output, InvokedTool: decision.ToolName}
}
