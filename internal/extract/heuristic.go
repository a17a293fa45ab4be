package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// =============================================================================
// HEURISTIC EXTRACTOR
// =============================================================================
// Keyword and pattern driven extraction. Deliberately conservative: it
// under-extracts rather than hallucinating features, which keeps Vault
// memories from accumulating inflated salience off a weaker signal.

// Heuristic is the local, provider-free extractor.
type Heuristic struct {
	emotionWords  map[string]struct{}
	positiveWords map[string]struct{}
	negativeWords map[string]struct{}
}

var (
	moneyRe    = regexp.MustCompile(`(?i)(\$\s?\d[\d,]*(\.\d+)?|\b\d+\s?(dollars|bucks|usd|eur|euros)\b)`)
	deadlineRe = regexp.MustCompile(`(?i)\b(by (monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|tonight|next week|end of (day|week|month))|due (on|by)|deadline)\b`)
	actionRe   = regexp.MustCompile(`(?i)\b(need to|have to|must|remember to|don't forget|todo|follow up)\b`)
	commitRe   = regexp.MustCompile(`(?i)\b(i('ll| will) |promise|i owe|you owe|we agreed|committed to)\b`)
	decisionRe = regexp.MustCompile(`(?i)\b(decided|we('ll| will) go with|settled on|final answer|agreed that)\b`)
)

// NewHeuristic builds the extractor with its keyword tables.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		emotionWords: wordSet(
			"love", "hate", "excited", "thrilled", "devastated", "furious",
			"terrified", "anxious", "worried", "proud", "ashamed", "grateful",
			"heartbroken", "overjoyed", "angry", "scared", "happy", "sad",
			"amazing", "terrible", "wonderful", "awful", "crying", "laughing",
		),
		positiveWords: wordSet(
			"love", "excited", "thrilled", "proud", "grateful", "overjoyed",
			"happy", "amazing", "wonderful", "laughing", "great", "fantastic",
		),
		negativeWords: wordSet(
			"hate", "devastated", "furious", "terrified", "anxious", "worried",
			"ashamed", "heartbroken", "angry", "scared", "sad", "terrible",
			"awful", "crying", "horrible", "miserable",
		),
	}
}

func wordSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Extract implements Extractor. It never fails; unparseable content yields
// an empty bundle.
func (h *Heuristic) Extract(_ context.Context, _ string, content []byte, frame memory.ContextFrame) (memory.FeatureBundle, error) {
	text := strings.ToLower(string(content))
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r != '\''
	})

	var bundle memory.FeatureBundle

	pos, neg := 0, 0
	for _, w := range words {
		if _, ok := h.emotionWords[w]; ok {
			bundle.EmotionKeywords = append(bundle.EmotionKeywords, w)
		}
		if _, ok := h.positiveWords[w]; ok {
			pos++
		}
		if _, ok := h.negativeWords[w]; ok {
			neg++
		}
	}

	// Sentiment intensity: signed, saturating at |1|.
	if pos+neg > 0 {
		intensity := float64(pos-neg) / 4.0
		if intensity > 1 {
			intensity = 1
		}
		if intensity < -1 {
			intensity = -1
		}
		bundle.SentimentIntensity = intensity
	}

	bundle.Consequential = memory.ConsequentialSignals{
		ActionItems:    len(actionRe.FindAllString(text, -1)),
		Decisions:      len(decisionRe.FindAllString(text, -1)),
		MoneyMentioned: moneyRe.MatchString(text),
		Commitments:    len(commitRe.FindAllString(text, -1)),
		Deadlines:      len(deadlineRe.FindAllString(text, -1)),
	}

	// Participants in the active frame are the people the observation is
	// most plausibly about.
	for _, p := range frame.Participants {
		if strings.Contains(text, strings.ToLower(p)) {
			bundle.PeopleMentioned = append(bundle.PeopleMentioned, p)
		}
	}

	if strings.Contains(text, "argued") || strings.Contains(text, "fight") || strings.Contains(text, "conflict") {
		bundle.Social.Conflict = true
	}
	if frame.Activity == "one_on_one" || frame.Activity == "private" {
		bundle.Social.Intimacy = true
	}
	bundle.Social.GroupSize = len(frame.Participants)

	return bundle, nil
}
