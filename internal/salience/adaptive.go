package salience

import (
	"math"
	"sync"
	"time"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
)

// =============================================================================
// ADAPTIVE WEIGHTS
// =============================================================================
// Component weights are learned per owner from retrieval feedback: was a
// surfaced memory actioned, ignored, or dismissed? Until enough actioned
// outcomes accumulate and the components actually discriminate between
// them, the defaults are used and confidence stays 0.

// OutcomeKind classifies what the owner did with a surfaced memory.
type OutcomeKind int

const (
	OutcomeActioned OutcomeKind = iota
	OutcomeIgnored
	OutcomeDismissed
)

// Outcome is one retrieval-feedback sample.
type Outcome struct {
	At        time.Time
	Kind      OutcomeKind
	Breakdown Breakdown // component scores the memory surfaced with
}

type ownerLearning struct {
	outcomes []Outcome
}

// AdaptiveWeights keeps the per-owner feedback window and derives learned
// weights from it.
type AdaptiveWeights struct {
	mu     sync.RWMutex
	cfg    config.SalienceConfig
	owners map[string]*ownerLearning
}

// NewAdaptiveWeights builds the learning store.
func NewAdaptiveWeights(cfg config.SalienceConfig) *AdaptiveWeights {
	return &AdaptiveWeights{cfg: cfg, owners: make(map[string]*ownerLearning)}
}

// Record adds a feedback sample for an owner.
func (a *AdaptiveWeights) Record(ownerID string, kind OutcomeKind, breakdown Breakdown) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ol := a.owners[ownerID]
	if ol == nil {
		ol = &ownerLearning{}
		a.owners[ownerID] = ol
	}
	ol.outcomes = append(ol.outcomes, Outcome{At: time.Now(), Kind: kind, Breakdown: breakdown})
	ol.prune(a.cfg.LearningWindow)
}

// Confidence returns the current learning confidence for an owner.
func (a *AdaptiveWeights) Confidence(ownerID string) float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, conf := a.learn(ownerID)
	return conf
}

// WeightsFor returns the weights to score with: the defaults, or a blend
// of defaults and learned weights when confidence clears the bar.
func (a *AdaptiveWeights) WeightsFor(ownerID string) Weights {
	a.mu.RLock()
	defer a.mu.RUnlock()

	defaults := DefaultWeights(a.cfg)
	learned, conf := a.learn(ownerID)
	if conf < a.cfg.MinConfidence {
		return defaults
	}

	lr := a.cfg.LearningRate
	blended := Weights{
		Emotional:     defaults.Emotional*(1-lr) + learned.Emotional*lr,
		Novelty:       defaults.Novelty*(1-lr) + learned.Novelty*lr,
		Relevance:     defaults.Relevance*(1-lr) + learned.Relevance*lr,
		Social:        defaults.Social*(1-lr) + learned.Social*lr,
		Consequential: defaults.Consequential*(1-lr) + learned.Consequential*lr,
	}
	logging.SalienceDebug("owner=%s using learned weights, confidence=%.2f", ownerID, conf)
	return normalize(blended)
}

// learn derives learned weights and a confidence from the feedback
// window. Caller holds at least a read lock.
func (a *AdaptiveWeights) learn(ownerID string) (Weights, float64) {
	defaults := DefaultWeights(a.cfg)
	ol := a.owners[ownerID]
	if ol == nil {
		return defaults, 0
	}

	cutoff := time.Now().Add(-a.cfg.LearningWindow)
	var actioned, other []Breakdown
	for _, o := range ol.outcomes {
		if o.At.Before(cutoff) {
			continue
		}
		if o.Kind == OutcomeActioned {
			actioned = append(actioned, o.Breakdown)
		} else {
			other = append(other, o.Breakdown)
		}
	}
	if len(actioned) < a.cfg.MinActionedSamples || len(other) == 0 {
		return defaults, 0
	}

	// Discrimination per component: how much higher it scores on actioned
	// retrievals than on ignored/dismissed ones.
	disc := [5]float64{
		mean(actioned, compEmotional) - mean(other, compEmotional),
		mean(actioned, compNovelty) - mean(other, compNovelty),
		mean(actioned, compRelevance) - mean(other, compRelevance),
		mean(actioned, compSocial) - mean(other, compSocial),
		mean(actioned, compConsequential) - mean(other, compConsequential),
	}

	sum, spread := 0.0, 0.0
	for _, d := range disc {
		if d < 0 {
			d = 0
		}
		sum += d
		if d > spread {
			spread = d
		}
	}
	// The components must actually distinguish actioned retrievals.
	if sum == 0 || spread < 5 {
		return defaults, 0
	}

	learned := Weights{
		Emotional:     math.Max(disc[0], 0) / sum,
		Novelty:       math.Max(disc[1], 0) / sum,
		Relevance:     math.Max(disc[2], 0) / sum,
		Social:        math.Max(disc[3], 0) / sum,
		Consequential: math.Max(disc[4], 0) / sum,
	}

	conf := math.Min(1, float64(len(actioned))/float64(2*a.cfg.MinActionedSamples))
	conf *= math.Min(1, spread/25)
	return learned, conf
}

func (ol *ownerLearning) prune(window time.Duration) {
	cutoff := time.Now().Add(-window)
	i := 0
	for ; i < len(ol.outcomes); i++ {
		if !ol.outcomes[i].At.Before(cutoff) {
			break
		}
	}
	if i > 0 {
		ol.outcomes = ol.outcomes[i:]
	}
}

func normalize(w Weights) Weights {
	sum := w.Emotional + w.Novelty + w.Relevance + w.Social + w.Consequential
	if sum <= 0 {
		return w
	}
	return Weights{
		Emotional:     w.Emotional / sum,
		Novelty:       w.Novelty / sum,
		Relevance:     w.Relevance / sum,
		Social:        w.Social / sum,
		Consequential: w.Consequential / sum,
	}
}

func mean(bs []Breakdown, f func(Breakdown) float64) float64 {
	if len(bs) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range bs {
		sum += f(b)
	}
	return sum / float64(len(bs))
}

func compEmotional(b Breakdown) float64     { return b.Emotional }
func compNovelty(b Breakdown) float64       { return b.Novelty }
func compRelevance(b Breakdown) float64     { return b.Relevance }
func compSocial(b Breakdown) float64        { return b.Social }
func compConsequential(b Breakdown) float64 { return b.Consequential }
