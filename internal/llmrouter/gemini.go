package llmrouter

import (
	"context"
	"strings"

	"google.golang.org/genai"

	"iris/internal/types"
)

// geminiClient wraps google.golang.org/genai for the gemini-* model family
// (spec §4.5). The teacher only reaches for genai in its embedding engine
// (internal/embedding/genai.go) and hand-rolls its own Gemini chat REST
// client; this generalizes the teacher's genai wiring to chat completions
// instead of duplicating its hand-rolled HTTP client, since genai already
// covers both surfaces from one official SDK.
type geminiClient struct {
	client *genai.Client
}

func newGeminiClient(ctx context.Context, apiKey string) (*geminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, types.Tag(types.KindFatal, "gemini.newClient", err)
	}
	return &geminiClient{client: client}, nil
}

func (c *geminiClient) Complete(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	var contents []*genai.Content
	var systemParts []string
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			systemParts = append(systemParts, m.Content)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if len(systemParts) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(systemParts, "\n"), genai.RoleUser)
	}
	if len(tools) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: convertGeminiTools(tools)}}
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return types.CompletionResult{}, types.Tag(types.KindTransient, "gemini.Complete", err)
	}
	return convertGeminiResponse(resp), nil
}

func convertGeminiTools(tools []types.ToolDefinition) []*genai.FunctionDeclaration {
	out := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		out = append(out, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  convertGeminiSchema(t.InputSchema),
		})
	}
	return out
}

func convertGeminiSchema(raw map[string]any) *genai.Schema {
	// genai.Schema is a typed mirror of a JSON-schema object; a minimal
	// object-typed schema is sufficient for the tool-routing gate's
	// fixed schemas (spec §6).
	return &genai.Schema{Type: genai.TypeObject}
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) types.CompletionResult {
	var result types.CompletionResult
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return result
	}
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				ID:    part.FunctionCall.Name,
				Name:  part.FunctionCall.Name,
				Input: part.FunctionCall.Args,
			})
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	result.Text = text.String()
	return result
}
