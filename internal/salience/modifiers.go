package salience

// =============================================================================
// CONTEXT MODIFIERS
// =============================================================================
// Each recognized context tag carries a 5-vector of per-component
// multipliers applied before weighting. Unrecognized tags are identity:
// an unknown situation should not distort scoring.

// Modifiers is a per-component multiplier vector.
type Modifiers struct {
	Emotional     float64
	Novelty       float64
	Relevance     float64
	Social        float64
	Consequential float64
}

var identityModifiers = Modifiers{1, 1, 1, 1, 1}

// contextModifiers is the recognized tag table. A work meeting mutes
// social chatter and amplifies decisions; a social event does the
// opposite.
var contextModifiers = map[string]Modifiers{
	"work_meeting": {Emotional: 1.0, Novelty: 1.0, Relevance: 1.0, Social: 0.7, Consequential: 1.3},
	"social_event": {Emotional: 1.2, Novelty: 1.0, Relevance: 1.0, Social: 1.4, Consequential: 0.6},
	"networking":   {Emotional: 1.0, Novelty: 1.4, Relevance: 1.0, Social: 1.0, Consequential: 1.2},
	"one_on_one":   {Emotional: 1.0, Novelty: 1.0, Relevance: 1.3, Social: 1.0, Consequential: 1.0},
	"private":      identityModifiers,
	"public":       identityModifiers,
}

// RecognizedTag reports whether the tag is in the modifier table.
func RecognizedTag(tag string) bool {
	_, ok := contextModifiers[tag]
	return ok
}

func modifiersFor(tag string) Modifiers {
	if m, ok := contextModifiers[tag]; ok {
		return m
	}
	return identityModifiers
}
