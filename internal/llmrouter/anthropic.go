package llmrouter

import (
	"context"
	"encoding/json"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"iris/internal/types"
)

// anthropicClient wraps the official anthropic-sdk-go Messages API for the
// claude-* model family (spec §4.5). The wiring pattern (option.WithAPIKey,
// client.Messages.New, converting ContentBlockUnion tool_use blocks into
// types.ToolCall) is grounded on the agentsdk-go model adapter vendored in
// the myclaw example repo (third_party/agentsdk-go/pkg/model/anthropic.go).
type anthropicClient struct {
	client    anthropic.Client
	maxTokens int64
}

func newAnthropicClient(apiKey, baseURL string) *anthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &anthropicClient{
		client:    anthropic.NewClient(opts...),
		maxTokens: 4096,
	}
}

func (c *anthropicClient) Complete(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	var systemBlocks []anthropic.TextBlockParam
	msgParams := make([]anthropic.MessageParam, 0, len(messages))

	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			systemBlocks = append(systemBlocks, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			msgParams = append(msgParams, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		case "tool":
			result, err := json.Marshal(m.Content)
			if err != nil {
				return types.CompletionResult{}, types.Tag(types.KindValidation, "anthropic.Complete", err)
			}
			msgParams = append(msgParams, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewToolResultBlock(m.ToolCallID, string(result), false)},
			})
		default:
			msgParams = append(msgParams, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages:  msgParams,
	}
	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if len(tools) > 0 {
		toolParams, err := convertAnthropicTools(tools)
		if err != nil {
			return types.CompletionResult{}, err
		}
		params.Tools = toolParams
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return types.CompletionResult{}, types.Tag(types.KindTransient, "anthropic.Complete", err)
	}
	return convertAnthropicResponse(msg), nil
}

func convertAnthropicTools(tools []types.ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		data, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, types.Tag(types.KindValidation, "anthropic.convertTools", err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(data, &schema); err != nil {
			return nil, types.Tag(types.KindValidation, "anthropic.convertTools", err)
		}
		if schema.Type == "" {
			schema.Type = "object"
		}
		tool := anthropic.ToolParam{Name: t.Name, InputSchema: schema, Description: anthropic.String(t.Description)}
		out = append(out, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func convertAnthropicResponse(msg *anthropic.Message) types.CompletionResult {
	var text strings.Builder
	var calls []types.ToolCall
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				_ = json.Unmarshal(block.Input, &args)
			}
			calls = append(calls, types.ToolCall{ID: block.ID, Name: block.Name, Input: args})
		default:
			if block.Text != "" {
				text.WriteString(block.Text)
			}
		}
	}
	return types.CompletionResult{Text: text.String(), ToolCalls: calls}
}
