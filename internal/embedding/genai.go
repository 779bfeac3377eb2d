// Package embedding produces the float32 vectors internal/memory and
// internal/store use for semantic recall's cosine-similarity search.
// Grounded directly on the teacher's genai embedding engine
// (internal/embedding/genai.go), adapted to return tagged errors and to
// default to the semantic-similarity task type matching spec §4.1's recall
// use case rather than exposing every task-type string as-is.
package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"iris/internal/types"
)

// Engine generates embeddings via Google's GenAI API.
type Engine struct {
	client *genai.Client
	model  string
}

// New builds an Engine. model defaults to gemini-embedding-001 when empty.
func New(ctx context.Context, apiKey, model string) (*Engine, error) {
	if apiKey == "" {
		return nil, types.Tag(types.KindValidation, "embedding.New", fmt.Errorf("GenAI API key is required"))
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, types.Tag(types.KindFatal, "embedding.New", err)
	}
	return &Engine{client: client, model: model}, nil
}

// Embed generates an embedding for a single text, using the
// semantic-similarity task type that matches cosine-similarity recall.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, types.Tag(types.KindTransient, "embedding.Embed", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, types.Tag(types.KindCapabilityFault, "embedding.Embed", fmt.Errorf("no embeddings returned"))
	}
	return result.Embeddings[0].Values, nil
}

// Close releases nothing and always returns nil.
func (e *Engine) Close() error {
	return nil
}
