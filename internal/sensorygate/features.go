package sensorygate

import (
	"math"
	"strings"
)

// tokenize lowercases and splits on non-letter/digit runs. Good enough for
// a bag-of-words overlap measure; no stemming or stopword removal, since
// the gate only needs a rough relevance/novelty signal, not retrieval
// quality.
func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

// jaccard returns |a ∩ b| / |a ∪ b|, 0 when both are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// noveltyOf is 1 minus the highest similarity to anything recently seen;
// an event with no precedent scores 1.0.
func noveltyOf(content string, recent []string) float64 {
	tokens := tokenize(content)
	maxSim := 0.0
	for _, r := range recent {
		if sim := jaccard(tokens, tokenize(r)); sim > maxSim {
			maxSim = sim
		}
	}
	return 1 - maxSim
}

// relevanceOf measures overlap between an event's content and the topics
// currently active in working memory.
func relevanceOf(content string, activeTopics []string) float64 {
	if len(activeTopics) == 0 {
		return 0
	}
	tokens := tokenize(content)
	best := 0.0
	for _, topic := range activeTopics {
		if sim := jaccard(tokens, tokenize(topic)); sim > best {
			best = sim
		}
	}
	return best
}

// complexityOf grows with length and punctuation/structure density,
// saturating toward 1 via tanh so pathologically long input never
// dominates the weighted sum.
func complexityOf(content string) float64 {
	length := float64(len(content))
	structure := float64(strings.Count(content, "\n") + strings.Count(content, ";") + strings.Count(content, "{"))
	raw := length/240.0 + structure/8.0
	return math.Tanh(raw)
}
