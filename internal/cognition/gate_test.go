package cognition

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"

	"iris/internal/types"
)

func TestParseGateReply_ValidDirectTool(t *testing.T) {
	d, ok := parseGateReply(`{"use_tool":true,"tool_name":"read_file","input":{"path":"/etc/hostname"},"confidence":0.9}`)
	assert.True(t, ok)
	assert.True(t, d.UseTool)
	assert.Equal(t, "read_file", d.ToolName)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, "/etc/hostname", d.Input["path"])
}

func TestParseGateReply_NotJSON(t *testing.T) {
	_, ok := parseGateReply(`yes please`)
	assert.False(t, ok)
}

func TestParseGateReply_MissingRequiredField(t *testing.T) {
	_, ok := parseGateReply(`{"use_tool":true,"tool_name":"read_file"}`)
	assert.False(t, ok)
}

func TestParseGateReply_UseToolWithoutName(t *testing.T) {
	_, ok := parseGateReply(`{"use_tool":true,"tool_name":null,"input":null,"confidence":0.8}`)
	assert.False(t, ok)
}

func TestParseGateReply_ConfidenceOutOfRange(t *testing.T) {
	_, ok := parseGateReply(`{"use_tool":false,"tool_name":null,"input":null,"confidence":1.5}`)
	assert.False(t, ok)
}

func TestParseGateReply_NoToolNeeded(t *testing.T) {
	d, ok := parseGateReply(`{"use_tool":false,"tool_name":null,"input":null,"confidence":0.3}`)
	assert.True(t, ok)
	assert.False(t, d.UseTool)
}

func TestParseGateReply_FencedCodeBlock(t *testing.T) {
	d, ok := parseGateReply("```json\n{\"use_tool\":false,\"tool_name\":null,\"input\":null,\"confidence\":0.1}\n```")
	assert.True(t, ok)
	assert.False(t, d.UseTool)
}

// TestGateSystemPrompt_Fixture pins the routing gate's instruction text
// against a golden file so a change to its wording (which the LLM is
// schema-constrained by) is a deliberate, reviewed diff rather than a
// silent drift.
func TestGateSystemPrompt_Fixture(t *testing.T) {
	tools := []types.ToolDefinition{
		{Name: "read_file", Description: "Read a file from disk"},
		{Name: "spawn_capability", Description: "Invoke a confirmed capability by name"},
	}
	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "gate_system_prompt", []byte(gateSystemPrompt(tools)))
}
