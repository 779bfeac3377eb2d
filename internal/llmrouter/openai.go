package llmrouter

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"iris/internal/types"
)

// openaiClient wraps the official openai-go Chat Completions API for the
// gpt-*/o1-*/o3-*/o4-* model families (spec §4.5). Grounded on the
// agentsdk-go model adapter vendored in the myclaw example repo
// (third_party/agentsdk-go/pkg/model/openai.go).
type openaiClient struct {
	client    openai.Client
	maxTokens int64
}

func newOpenAIClient(apiKey, baseURL string) *openaiClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &openaiClient{client: openai.NewClient(opts...), maxTokens: 4096}
}

func (c *openaiClient) Complete(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(model),
		MaxCompletionTokens: openai.Int(c.maxTokens),
		Messages:            convertOpenAIMessages(messages),
	}
	if len(tools) > 0 {
		params.Tools = convertOpenAITools(tools)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return types.CompletionResult{}, types.Tag(types.KindTransient, "openai.Complete", err)
	}
	return convertOpenAIResponse(resp), nil
}

func convertOpenAIMessages(messages []types.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func convertOpenAITools(tools []types.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		params := shared.FunctionParameters{}
		for k, v := range t.InputSchema {
			params[k] = v
		}
		if _, ok := params["type"]; !ok {
			params["type"] = "object"
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		})
	}
	return out
}

func convertOpenAIResponse(resp *openai.ChatCompletion) types.CompletionResult {
	if resp == nil || len(resp.Choices) == 0 {
		return types.CompletionResult{}
	}
	msg := resp.Choices[0].Message
	var calls []types.ToolCall
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: args})
	}
	return types.CompletionResult{Text: msg.Content, ToolCalls: calls}
}
