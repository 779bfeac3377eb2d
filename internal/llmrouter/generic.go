package llmrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"iris/internal/types"
)

// genericRESTClient speaks the OpenAI-compatible chat/completions wire
// format used by deepseek-* and any unrecognized provider prefix (spec
// §4.5: "providers without an official SDK fall back to a generic
// REST client"). Grounded on the teacher's hand-rolled ZAIClient
// (internal/perception/client_zai.go) — bearer auth, JSON body, retry
// with exponential backoff on 429.
type genericRESTClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func newGenericRESTClient(apiKey, baseURL string) *genericRESTClient {
	if baseURL == "" {
		baseURL = "https://api.deepseek.com/v1"
	}
	return &genericRESTClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

type genericMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type genericTool struct {
	Type     string              `json:"type"`
	Function genericToolFunction `json:"function"`
}

type genericToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type genericRequest struct {
	Model    string           `json:"model"`
	Messages []genericMessage `json:"messages"`
	Tools    []genericTool    `json:"tools,omitempty"`
}

type genericToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type genericResponse struct {
	Choices []struct {
		Message struct {
			Content   string            `json:"content"`
			ToolCalls []genericToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *genericRESTClient) Complete(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error) {
	req := genericRequest{Model: model}
	for _, m := range messages {
		req.Messages = append(req.Messages, genericMessage{Role: strings.ToLower(m.Role), Content: m.Content, ToolCallID: m.ToolCallID})
	}
	for _, t := range tools {
		req.Tools = append(req.Tools, genericTool{
			Type: "function",
			Function: genericToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return types.CompletionResult{}, types.Tag(types.KindValidation, "generic.Complete", err)
	}

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt-1)) * time.Second):
			case <-ctx.Done():
				return types.CompletionResult{}, ctx.Err()
			}
		}

		result, retryable, err := c.attempt(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return types.CompletionResult{}, err
		}
	}
	return types.CompletionResult{}, types.Tag(types.KindTransient, "generic.Complete", fmt.Errorf("max retries exceeded: %w", lastErr))
}

func (c *genericRESTClient) attempt(ctx context.Context, body []byte) (types.CompletionResult, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return types.CompletionResult{}, false, types.Tag(types.KindFatal, "generic.attempt", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return types.CompletionResult{}, true, types.Tag(types.KindTransient, "generic.attempt", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.CompletionResult{}, true, types.Tag(types.KindTransient, "generic.attempt", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return types.CompletionResult{}, true, types.Tag(types.KindTransient, "generic.attempt", fmt.Errorf("rate limited (429)"))
	}
	if resp.StatusCode != http.StatusOK {
		return types.CompletionResult{}, false, types.Tag(types.KindCapabilityFault, "generic.attempt", fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed genericResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return types.CompletionResult{}, false, types.Tag(types.KindCapabilityFault, "generic.attempt", err)
	}
	if parsed.Error != nil {
		return types.CompletionResult{}, false, types.Tag(types.KindCapabilityFault, "generic.attempt", fmt.Errorf("%s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return types.CompletionResult{}, false, types.Tag(types.KindCapabilityFault, "generic.attempt", fmt.Errorf("no completion returned"))
	}

	choice := parsed.Choices[0].Message
	var calls []types.ToolCall
	for _, tc := range choice.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		calls = append(calls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: args})
	}
	return types.CompletionResult{Text: strings.TrimSpace(choice.Content), ToolCalls: calls}, false, nil
}
