package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"iris/internal/logging"
	"iris/internal/types"
)

// Embedder produces the vector representation knowledge rows are recalled
// by. Satisfied by internal/embedding.Engine; kept as a narrow interface
// here so tests can supply a fake without pulling in the GenAI SDK.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Summarizer is the subset of types.LLMClient the consolidation worker
// needs: one completion call per batch.
type Summarizer interface {
	Complete(ctx context.Context, model string, messages []types.Message, tools []types.ToolDefinition) (types.CompletionResult, error)
}

// ConsolidationWorker runs every 30 minutes (spec §4.6), asking the main
// model to summarize a batch of unconsolidated episodes into one knowledge
// row. Grounded on the teacher's robfig/cron @every pattern, used
// elsewhere in this codebase for internal/llmrouter's recovery probe and
// internal/resource's reallocator.
type ConsolidationWorker struct {
	episodic   *EpisodicStore
	semantic   *SemanticStore
	summarizer Summarizer
	embedder   Embedder
	model      string
	batchSize  int

	consecutiveFailures int
}

// NewConsolidationWorker wires the worker's dependencies.
func NewConsolidationWorker(episodic *EpisodicStore, semantic *SemanticStore, summarizer Summarizer, embedder Embedder, model string) *ConsolidationWorker {
	return &ConsolidationWorker{
		episodic:   episodic,
		semantic:   semantic,
		summarizer: summarizer,
		embedder:   embedder,
		model:      model,
		batchSize:  20,
	}
}

// Start schedules RunOnce on c's @every period and returns the cron entry ID.
func (w *ConsolidationWorker) Start(c *cron.Cron, period time.Duration) (cron.EntryID, error) {
	return c.AddFunc(fmt.Sprintf("@every %s", period), func() {
		if err := w.RunOnce(context.Background()); err != nil {
			logging.Logger(logging.CategoryMemory).Warn("consolidation batch failed", zap.Error(err))
		}
	})
}

// RunOnce selects unconsolidated episodes, asks the model for a summary,
// and writes one knowledge row. Transient failures get a short backoff and
// a retry within the same call; three consecutive failures across calls
// skip the batch with a warning rather than retrying forever (spec §4.6).
func (w *ConsolidationWorker) RunOnce(ctx context.Context) error {
	episodes, err := w.episodic.Unconsolidated(w.batchSize)
	if err != nil {
		return err
	}
	if len(episodes) == 0 {
		return nil
	}

	var prompt string
	ids := make([]string, 0, len(episodes))
	for _, ep := range episodes {
		prompt += "- " + ep.Content + "\n"
		ids = append(ids, ep.ID)
	}

	const maxAttempts = 3
	var result types.CompletionResult
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(attempt)) * time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		result, lastErr = w.summarizer.Complete(ctx, w.model, []types.Message{
			{Role: "system", Content: "Summarize the following episodic memories into one concise paragraph of durable knowledge."},
			{Role: "user", Content: prompt},
		}, nil)
		if lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		w.consecutiveFailures++
		if w.consecutiveFailures >= 3 {
			w.consecutiveFailures = 0
			logging.Logger(logging.CategoryMemory).Warn("skipping consolidation batch after repeated failure", zap.Error(lastErr))
			return nil
		}
		return types.Tag(types.KindTransient, "memory.RunOnce", lastErr)
	}
	w.consecutiveFailures = 0

	var embedding []float32
	if w.embedder != nil {
		embedding, err = w.embedder.Embed(ctx, result.Text)
		if err != nil {
			return err
		}
	}
	if err := w.semantic.Record(result.Text, embedding, ids); err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.episodic.MarkConsolidated(id); err != nil {
			return err
		}
	}
	return nil
}
