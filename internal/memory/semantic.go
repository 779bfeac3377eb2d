package memory

import (
	"time"

	"github.com/google/uuid"

	"iris/internal/store"
	"iris/internal/types"
)

// SemanticStore is a thin wrapper over internal/store's knowledge table.
type SemanticStore struct {
	st *store.Store
}

// NewSemanticStore wraps st.
func NewSemanticStore(st *store.Store) *SemanticStore { return &SemanticStore{st: st} }

// Record appends a consolidated knowledge row.
func (s *SemanticStore) Record(summary string, embedding []float32, sourceEpisodeIDs []string) error {
	return s.st.InsertKnowledge(types.Knowledge{
		ID:               uuid.NewString(),
		Summary:          summary,
		Embedding:        embedding,
		SourceEpisodeIDs: sourceEpisodeIDs,
		CreatedAt:        time.Now(),
	})
}

// Recall returns the top n knowledge rows by cosine similarity to query,
// restricted to similarity strictly above minSim (spec §4.1: "semantic
// recall (top 3 by cosine similarity > 0.6)").
func (s *SemanticStore) Recall(query []float32, n int, minSim float64) ([]types.Knowledge, error) {
	return s.st.TopKnowledgeBySimilarity(query, n, minSim)
}
