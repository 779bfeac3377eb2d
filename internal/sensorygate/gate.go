// Package sensorygate implements the scheduler's second tick phase (spec
// §4.2): a pure scoring function over (event, working-memory summary,
// config) producing a Salience, preceded by a deterministic rule filter
// for keyword/system-priority signals. No side effects — every input the
// score depends on is passed in explicitly.
package sensorygate

import (
	"math"

	"iris/internal/types"
)

// Gate holds the one piece of state that genuinely needs construction: the
// analyzed rule program. Scoring itself stays pure.
type Gate struct {
	rules *RuleFilter
}

// New builds a Gate, analyzing the deterministic rule program once.
func New() (*Gate, error) {
	rf, err := NewRuleFilter()
	if err != nil {
		return nil, err
	}
	return &Gate{rules: rf}, nil
}

// Result is the gate's full per-event output: the derived feature set plus
// the scored salience, and whether the event survives the noise floor.
type Result struct {
	Feature  types.PerceptFeature
	Salience types.Salience
	Dropped  bool
}

// Score evaluates one event against recent working-memory content and the
// set of currently active topics, per spec §4.2's four components:
// novelty (vs. recentContents), urgency (rule filter + system priority),
// complexity (length/structure), task_relevance (overlap with
// activeTopics). noiseFloor is the configured drop threshold (default
// 0.20, spec §4.1 step 2).
func (g *Gate) Score(event types.SensoryEvent, recentContents, activeTopics []string, noiseFloor float64) (Result, error) {
	verdict, err := g.rules.Evaluate(event)
	if err != nil {
		return Result{}, err
	}

	feature := types.PerceptFeature{
		RawComplexity: complexityOf(event.Content),
	}
	if verdict.UrgentKeywordHit {
		feature.Threat = 1
		feature.IntentTag = "urgent"
		feature.IntentConfidence = 0.9
	} else {
		feature.IntentTag = "routine"
		feature.IntentConfidence = 0.5
	}

	urgency := feature.Threat
	if verdict.SystemPriority && urgency < 1 {
		urgency = math.Max(urgency, 0.6)
	}

	salience := types.Salience{
		Novelty:       noveltyOf(event.Content, recentContents),
		Urgency:       urgency,
		Complexity:    feature.RawComplexity,
		TaskRelevance: relevanceOf(event.Content, activeTopics),
	}
	salience.ComputeScore()

	return Result{
		Feature:  feature,
		Salience: salience,
		Dropped:  !salience.UrgentBypass && salience.Score < noiseFloor,
	}, nil
}
