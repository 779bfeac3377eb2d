package memory

import (
	"time"

	"github.com/google/uuid"

	"iris/internal/store"
	"iris/internal/types"
)

// EpisodicStore is a thin wrapper over internal/store's episode table,
// giving the rest of internal/memory a narrower surface than the full
// *store.Store.
type EpisodicStore struct {
	st *store.Store
}

// NewEpisodicStore wraps st.
func NewEpisodicStore(st *store.Store) *EpisodicStore { return &EpisodicStore{st: st} }

// Record appends one episode, generating its ID.
func (e *EpisodicStore) Record(topicID, content string, embedding []float32, salience float64) (string, error) {
	id := uuid.NewString()
	ep := types.Episode{
		ID:        id,
		TopicID:   topicID,
		Content:   content,
		Embedding: embedding,
		Salience:  salience,
		CreatedAt: time.Now(),
	}
	if err := e.st.InsertEpisode(ep); err != nil {
		return "", err
	}
	return id, nil
}

// Unconsolidated returns up to limit episodes not yet folded into knowledge.
func (e *EpisodicStore) Unconsolidated(limit int) ([]types.Episode, error) {
	return e.st.UnconsolidatedEpisodes(limit)
}

// MarkConsolidated flags an episode as folded into a knowledge row.
func (e *EpisodicStore) MarkConsolidated(id string) error {
	return e.st.MarkEpisodeConsolidated(id)
}

// AboveSalience returns episodes with salience strictly greater than
// threshold, most recent first (spec §4.6's replay worker input).
func (e *EpisodicStore) AboveSalience(threshold float64) ([]types.Episode, error) {
	return e.st.EpisodesAboveSalience(threshold)
}
