// Package salience computes the 0..100 base importance score of an
// observation from its extracted feature bundle and the active context
// frame. Scoring is pure: it never fails, and missing features contribute
// zero.
package salience

import (
	"math"
	"strings"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// =============================================================================
// SCORE BREAKDOWN
// =============================================================================

// Breakdown carries the per-component scores before weighting. Components
// are clipped to [0,100]; the weighted sum is clipped to [0,100].
type Breakdown struct {
	Emotional     float64 `json:"emotional"`
	Novelty       float64 `json:"novelty"`
	Relevance     float64 `json:"relevance"`
	Social        float64 `json:"social"`
	Consequential float64 `json:"consequential"`

	// Weights actually applied (defaults or learned).
	Weights Weights `json:"weights"`

	Total float64 `json:"total"`
}

// Weights is a 5-vector of component weights summing to 1.0.
type Weights struct {
	Emotional     float64 `json:"emotional"`
	Novelty       float64 `json:"novelty"`
	Relevance     float64 `json:"relevance"`
	Social        float64 `json:"social"`
	Consequential float64 `json:"consequential"`
}

// DefaultWeights returns the configured component weights.
func DefaultWeights(cfg config.SalienceConfig) Weights {
	return Weights{
		Emotional:     cfg.EmotionalWeight,
		Novelty:       cfg.NoveltyWeight,
		Relevance:     cfg.RelevanceWeight,
		Social:        cfg.SocialWeight,
		Consequential: cfg.ConsequentialWeight,
	}
}

// =============================================================================
// SCORER
// =============================================================================

// Scorer computes base salience. One scorer serves all owners; per-owner
// learned weights live in the AdaptiveWeights store.
type Scorer struct {
	cfg      config.SalienceConfig
	adaptive *AdaptiveWeights
}

// NewScorer builds a scorer with adaptive weight learning attached.
func NewScorer(cfg config.SalienceConfig) *Scorer {
	return &Scorer{
		cfg:      cfg,
		adaptive: NewAdaptiveWeights(cfg),
	}
}

// Adaptive exposes the learning store for feedback recording.
func (s *Scorer) Adaptive() *AdaptiveWeights { return s.adaptive }

// Score computes the base salience for an owner's observation under the
// given frame. The returned breakdown names every component's
// contribution.
func (s *Scorer) Score(ownerID string, features memory.FeatureBundle, frame memory.ContextFrame) Breakdown {
	b := Breakdown{
		Emotional:     scoreEmotional(features, frame),
		Novelty:       scoreNovelty(features),
		Relevance:     scoreRelevance(features, frame),
		Social:        scoreSocial(features),
		Consequential: scoreConsequential(features),
	}

	// Context modifiers multiply per component before weighting.
	mods := modifiersFor(frame.Activity)
	b.Emotional = clip100(b.Emotional * mods.Emotional)
	b.Novelty = clip100(b.Novelty * mods.Novelty)
	b.Relevance = clip100(b.Relevance * mods.Relevance)
	b.Social = clip100(b.Social * mods.Social)
	b.Consequential = clip100(b.Consequential * mods.Consequential)

	b.Weights = s.adaptive.WeightsFor(ownerID)
	b.Total = clip100(
		b.Emotional*b.Weights.Emotional +
			b.Novelty*b.Weights.Novelty +
			b.Relevance*b.Weights.Relevance +
			b.Social*b.Weights.Social +
			b.Consequential*b.Weights.Consequential)

	logging.SalienceDebug("owner=%s total=%.1f emo=%.1f nov=%.1f rel=%.1f soc=%.1f cons=%.1f tag=%s",
		ownerID, b.Total, b.Emotional, b.Novelty, b.Relevance, b.Social, b.Consequential, frame.Activity)

	return b
}

// =============================================================================
// COMPONENTS
// =============================================================================

// scoreEmotional: keyword count (15 each, capped 60) + |sentiment| scaled
// to 40 + extreme bonus + intimacy boost.
func scoreEmotional(f memory.FeatureBundle, frame memory.ContextFrame) float64 {
	score := math.Min(float64(len(f.EmotionKeywords))*15, 60)

	abs := math.Abs(f.SentimentIntensity)
	score += abs * 40
	if abs > 0.8 {
		score += 10
	}
	if f.Social.Intimacy || frame.Activity == "one_on_one" || frame.Activity == "private" {
		score += 15
	}
	return clip100(score)
}

// scoreNovelty: first-time people and places dominate; novel topics cap
// at 30.
func scoreNovelty(f memory.FeatureBundle) float64 {
	score := 0.0
	if f.Novelty.NewPerson {
		score += 25
	}
	if f.Novelty.NewLocation {
		score += 25
	}
	if f.Novelty.UnusualTime {
		score += 20
	}
	score += math.Min(float64(len(f.Novelty.NovelTopics))*10, 30)
	return clip100(score)
}

// scoreRelevance reads both the profile-match features and the active
// frame: overlap between current activity/project/participants and the
// extracted features adds up to 40, saturating.
func scoreRelevance(f memory.FeatureBundle, frame memory.ContextFrame) float64 {
	score := 0.0
	if f.Relevance.OwnerNameMatch {
		score += 30
	}
	score += math.Min(float64(len(f.Relevance.Interests))*10, 30)
	score += math.Min(float64(len(f.Relevance.CloseContacts))*15, 40)
	score += math.Min(float64(len(f.Relevance.Goals))*10, 30)
	score += math.Min(float64(f.Relevance.SelfActionItems)*10, 30)

	// Frame overlap.
	overlap := 0.0
	if frame.Project != "" && containsFold(f.Topics, frame.Project) {
		overlap += 20
	}
	if frame.Activity != "" && containsFold(f.Topics, frame.Activity) {
		overlap += 10
	}
	for _, p := range frame.Participants {
		if containsFold(f.PeopleMentioned, p) {
			overlap += 15
		}
	}
	score += math.Min(overlap, 40)

	return clip100(score)
}

// relationshipEventWeights maps recognized relationship events to their
// social component contribution.
var relationshipEventWeights = map[string]float64{
	"first_meeting":  40,
	"reconciliation": 60,
	"breakup":        60,
	"milestone":      50,
	"reunion":        45,
	"introduction":   30,
	"farewell":       35,
}

// scoreSocial: relationship events + conflict + intimacy + group size +
// explicit agreement.
func scoreSocial(f memory.FeatureBundle) float64 {
	score := 0.0
	if w, ok := relationshipEventWeights[f.Social.RelationshipEvent]; ok {
		score += math.Min(w, 60)
	}
	if f.Social.Conflict {
		score += 25
	}
	if f.Social.Intimacy {
		score += 35
	}
	if f.Social.GroupSize >= 3 {
		score += 10
	}
	score += math.Min(float64(f.Social.Agreements)*10, 20)
	return clip100(score)
}

// scoreConsequential: obligations outrank sentiment.
func scoreConsequential(f memory.FeatureBundle) float64 {
	score := math.Min(float64(f.Consequential.ActionItems)*20, 60)
	score += math.Min(float64(f.Consequential.Decisions)*20, 40)
	if f.Consequential.MoneyMentioned {
		score += 20
	}
	score += math.Min(float64(f.Consequential.Commitments)*20, 40)
	score += math.Min(float64(f.Consequential.Deadlines)*10, 20)
	return clip100(score)
}

// =============================================================================
// HELPERS
// =============================================================================

func clip100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
