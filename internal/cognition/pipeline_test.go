package cognition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris/internal/memory"
	"iris/internal/types"
)

type fakeCompleter struct {
	liteReply string
	mainReply types.CompletionResult
	mainCalls int
}

func (f *fakeCompleter) Complete(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	f.mainCalls++
	return f.mainReply, nil
}

func (f *fakeCompleter) CompleteLite(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	return types.CompletionResult{Text: f.liteReply}, nil
}

type fakeTools struct {
	invoked string
	input   map[string]any
	output  string
	defs    []types.ToolDefinition
}

func (f *fakeTools) Invoke(ctx context.Context, name string, input map[string]any) (string, error) {
	f.invoked = name
	f.input = input
	return f.output, nil
}

func (f *fakeTools) Tools() []types.ToolDefinition { return f.defs }

func newTestPipeline(t *testing.T, llm *fakeCompleter, tools ToolInvoker) *Pipeline {
	t.Helper()
	ring := memory.New(32, 8, time.Minute)
	gate := NewToolRoutingGate("claude")
	return New(ring, nil, nil, gate, llm, "claude", tools, 4, nil)
}

func TestPipeline_DirectToolInvocation_HighConfidence(t *testing.T) {
	llm := &fakeCompleter{liteReply: `{"use_tool":true,"tool_name":"read_file","input":{"path":"/etc/hostname"},"confidence":0.9}`}
	tools := &fakeTools{output: "myhost", defs: []types.ToolDefinition{{Name: "read_file"}}}
	p := newTestPipeline(t, llm, tools)

	out := p.Run(context.Background(), "what is the hostname")

	require.NoError(t, out.Err)
	assert.Equal(t, "read_file", out.InvokedTool)
	assert.Equal(t, "myhost", out.ResponseText)
	assert.False(t, out.UsedAgenticLoop)
	assert.Equal(t, 0, llm.mainCalls)
}

func TestPipeline_SchemaFailureFallsThroughToAgenticLoop(t *testing.T) {
	llm := &fakeCompleter{
		liteReply: `yes please`,
		mainReply: types.CompletionResult{Text: "a normal assistant message"},
	}
	tools := &fakeTools{defs: nil}
	p := newTestPipeline(t, llm, tools)

	out := p.Run(context.Background(), "hello")

	require.NoError(t, out.Err)
	assert.True(t, out.UsedAgenticLoop)
	assert.Equal(t, "a normal assistant message", out.ResponseText)
	assert.Equal(t, 1, llm.mainCalls)
}

func TestPipeline_LowConfidenceFallsThroughToAgenticLoop(t *testing.T) {
	llm := &fakeCompleter{
		liteReply: `{"use_tool":true,"tool_name":"read_file","input":{},"confidence":0.4}`,
		mainReply: types.CompletionResult{Text: "fallback response"},
	}
	p := newTestPipeline(t, llm, &fakeTools{})

	out := p.Run(context.Background(), "hi")

	require.NoError(t, out.Err)
	assert.True(t, out.UsedAgenticLoop)
	assert.Equal(t, "fallback response", out.ResponseText)
}

func TestPipeline_DirectResponse_NoToolNeeded(t *testing.T) {
	llm := &fakeCompleter{
		liteReply: `{"use_tool":false,"tool_name":null,"input":null,"confidence":0.2}`,
		mainReply: types.CompletionResult{Text: "direct answer"},
	}
	p := newTestPipeline(t, llm, &fakeTools{})

	out := p.Run(context.Background(), "what's 2+2")

	require.NoError(t, out.Err)
	assert.False(t, out.UsedAgenticLoop)
	assert.Equal(t, "direct answer", out.ResponseText)
}

func TestPipeline_AgenticLoop_RespectsToolCallCap(t *testing.T) {
	llm := &fakeCompleter{
		liteReply: `yes please`,
		mainReply: types.CompletionResult{
			Text:      "partial",
			ToolCalls: []types.ToolCall{{ID: "1", Name: "loop_tool"}},
		},
	}
	tools := &fakeTools{output: "ok", defs: []types.ToolDefinition{{Name: "loop_tool"}}}
	p := newTestPipeline(t, llm, tools)
	p.toolCap = 4

	out := p.Run(context.Background(), "keep calling tools")

	require.NoError(t, out.Err)
	assert.True(t, out.UsedAgenticLoop)
	assert.Equal(t, 4, llm.mainCalls)
	assert.Equal(t, "partial", out.ResponseText)
}
