// Package memory defines the core data model for the attention and salience
// engine: memory records, extracted feature bundles, context frames, open
// loops, pressure vectors, and temporal patterns. Everything here is
// partitioned by owner id; no type in this package may be shared across
// owners.
package memory

import (
	"math"
	"time"
)

// =============================================================================
// SECTION 1: Enumerations
// =============================================================================

// PrivacyTier governs which external services may see a memory's content.
type PrivacyTier int

const (
	// TierGeneral content is unrestricted.
	TierGeneral PrivacyTier = iota

	// TierPersonal content requires a trusted device to surface.
	TierPersonal

	// TierVault content must never be passed to any external provider.
	// Only the heuristic extractor may touch it, and it only leaves the
	// core when a query names its memory id explicitly.
	TierVault
)

// String returns the human-readable tier name.
func (t PrivacyTier) String() string {
	switch t {
	case TierGeneral:
		return "general"
	case TierPersonal:
		return "personal"
	case TierVault:
		return "vault"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a memory record.
type State int

const (
	StateActive State = iota
	StateArchived
	StateSuppressed
	StateDeleted
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateArchived:
		return "archived"
	case StateSuppressed:
		return "suppressed"
	case StateDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// StorageTier is the storage residence of a memory. It governs latency,
// never visibility.
type StorageTier string

const (
	StorageHot  StorageTier = "hot"
	StorageWarm StorageTier = "warm"
	StorageCold StorageTier = "cold"
)

// DeviceType classifies the device a frame or memory originated from.
// It drives frame-fusion priorities and frame TTLs.
type DeviceType string

const (
	DeviceMobile   DeviceType = "mobile"
	DeviceDesktop  DeviceType = "desktop"
	DeviceWearable DeviceType = "wearable"
	DeviceRobotic  DeviceType = "robotic"
	DeviceShared   DeviceType = "shared"  // shared household device
	DeviceDisplay  DeviceType = "display" // public display surface
	DeviceWork     DeviceType = "work"
)

// FrameTTL returns how long a context frame from this device type stays
// believable. Robotic sensors churn fast; desktops are sticky.
func (d DeviceType) FrameTTL() time.Duration {
	switch d {
	case DeviceRobotic:
		return 30 * time.Second
	case DeviceMobile, DeviceWearable:
		return 5 * time.Minute
	case DeviceDesktop, DeviceWork:
		return 15 * time.Minute
	default:
		return 5 * time.Minute
	}
}

// =============================================================================
// SECTION 2: Memory Record
// =============================================================================

// AccessHistoryCap bounds the per-memory access history to the most recent
// samples. The pattern detector never needs more.
const AccessHistoryCap = 256

// Memory is the central entity of the core.
//
// Invariants:
//   - ID and OwnerID are immutable once assigned.
//   - BaseSalience is computed once at ingestion and never rewritten;
//     effective salience is derived at query time.
//   - Vault content never reaches an external extractor or provider.
type Memory struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`

	// IngestedAt is the monotonic ingestion time; EventTime is the
	// wall-clock time the observation describes.
	IngestedAt time.Time `json:"ingested_at"`
	EventTime  time.Time `json:"event_time"`

	// Content is an opaque blob for the core.
	Content []byte `json:"content"`

	Privacy    PrivacyTier `json:"privacy"`
	DeviceID   string      `json:"device_id"`
	DeviceType DeviceType  `json:"device_type"`
	Tags       []string    `json:"tags,omitempty"`

	Features     FeatureBundle `json:"features"`
	BaseSalience float64       `json:"base_salience"` // 0..100, fixed at ingest

	// AccessTimes records recalls and context-relevant surfacings (not
	// stores), newest last, bounded to AccessHistoryCap.
	AccessTimes []time.Time `json:"access_times,omitempty"`

	State    State      `json:"state"`
	ForgetAt *time.Time `json:"forget_at,omitempty"` // scheduled-forget deadline
}

// RecordAccess appends an access timestamp, trimming to the cap.
func (m *Memory) RecordAccess(t time.Time) {
	m.AccessTimes = append(m.AccessTimes, t)
	if len(m.AccessTimes) > AccessHistoryCap {
		m.AccessTimes = m.AccessTimes[len(m.AccessTimes)-AccessHistoryCap:]
	}
}

// AccessCount returns the recorded access count.
func (m *Memory) AccessCount() int { return len(m.AccessTimes) }

// HasTag reports whether the memory carries the given tag.
func (m *Memory) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// =============================================================================
// SECTION 3: Feature Bundle
// =============================================================================

// FeatureBundle is the typed output of feature extraction. It is a closed
// set of feature kinds; downstream components treat it as read-only.
// Missing features are zero values and contribute nothing to scoring.
type FeatureBundle struct {
	// Emotional features
	EmotionKeywords    []string `json:"emotion_keywords,omitempty"`
	SentimentIntensity float64  `json:"sentiment_intensity"` // -1..1
	DetectedEmotion    string   `json:"detected_emotion,omitempty"`

	// Novelty flags
	Novelty NoveltySignals `json:"novelty"`

	// People
	PeopleMentioned []string `json:"people_mentioned,omitempty"` // entity ids

	// Relevance signals
	Relevance RelevanceSignals `json:"relevance"`

	// Social signals
	Social SocialSignals `json:"social"`

	// Consequential signals
	Consequential ConsequentialSignals `json:"consequential"`

	// Topic labels
	Topics []string `json:"topics,omitempty"`

	// Degraded marks a bundle produced by the heuristic fallback after an
	// external extractor failure or timeout.
	Degraded bool `json:"degraded,omitempty"`
}

// NoveltySignals flags first-time observations.
type NoveltySignals struct {
	NewPerson   bool     `json:"new_person,omitempty"`
	NewLocation bool     `json:"new_location,omitempty"`
	UnusualTime bool     `json:"unusual_time,omitempty"`
	NovelTopics []string `json:"novel_topics,omitempty"`
}

// RelevanceSignals records matches against the owner's profile.
type RelevanceSignals struct {
	OwnerNameMatch  bool     `json:"owner_name_match,omitempty"`
	Interests       []string `json:"interests,omitempty"`
	CloseContacts   []string `json:"close_contacts,omitempty"`
	Goals           []string `json:"goals,omitempty"`
	SelfActionItems int      `json:"self_action_items,omitempty"`
}

// SocialSignals records interpersonal dynamics in the observation.
type SocialSignals struct {
	RelationshipEvent string `json:"relationship_event,omitempty"`
	Conflict          bool   `json:"conflict,omitempty"`
	Intimacy          bool   `json:"intimacy,omitempty"`
	GroupSize         int    `json:"group_size,omitempty"`
	Agreements        int    `json:"agreements,omitempty"`
}

// ConsequentialSignals records forward-looking obligations.
type ConsequentialSignals struct {
	ActionItems    int  `json:"action_items,omitempty"`
	Decisions      int  `json:"decisions,omitempty"`
	MoneyMentioned bool `json:"money_mentioned,omitempty"`
	Commitments    int  `json:"commitments,omitempty"`
	Deadlines      int  `json:"deadlines,omitempty"`
}

// IsZero reports whether the bundle carries no extracted features at all.
func (f FeatureBundle) IsZero() bool {
	return len(f.EmotionKeywords) == 0 &&
		f.SentimentIntensity == 0 &&
		f.DetectedEmotion == "" &&
		!f.Novelty.NewPerson && !f.Novelty.NewLocation && !f.Novelty.UnusualTime &&
		len(f.Novelty.NovelTopics) == 0 &&
		len(f.PeopleMentioned) == 0 &&
		!f.Relevance.OwnerNameMatch &&
		len(f.Relevance.Interests) == 0 &&
		len(f.Relevance.CloseContacts) == 0 &&
		len(f.Relevance.Goals) == 0 &&
		f.Relevance.SelfActionItems == 0 &&
		f.Social == (SocialSignals{}) &&
		f.Consequential == (ConsequentialSignals{}) &&
		len(f.Topics) == 0
}

// =============================================================================
// SECTION 4: Patterns, Loops, Pressure
// =============================================================================

// FormationState is a pattern's lifecycle marker.
type FormationState string

const (
	FormationNone    FormationState = ""
	FormationForming FormationState = "forming"
	FormationFormed  FormationState = "formed"
	FormationStable  FormationState = "stable"
)

// Pattern is a detected recurring cadence for an entity (a memory id, a
// person, a location, a topic).
type Pattern struct {
	EntityID      string         `json:"entity_id"`
	PeriodHours   float64        `json:"period_hours"`
	Confidence    float64        `json:"confidence"` // 0..1
	Formation     FormationState `json:"formation"`
	DaysOfData    float64        `json:"days_of_data"`
	SampleCount   int            `json:"sample_count"`
	JitterStdDev  time.Duration  `json:"jitter_stddev"`
	LastAccess    time.Time      `json:"last_access"`
	NextPredicted time.Time      `json:"next_predicted"`
	DetectedAt    time.Time      `json:"detected_at"`
}

// PeriodDays returns the detected period in days.
func (p Pattern) PeriodDays() float64 { return p.PeriodHours / 24 }

// LoopDirection says who owes whom in an open loop.
type LoopDirection string

const (
	LoopSelfOwes  LoopDirection = "self_owes"
	LoopOtherOwes LoopDirection = "other_owes"
	LoopMutual    LoopDirection = "mutual"
)

// LoopStatus is the lifecycle state of an open loop.
type LoopStatus string

const (
	LoopOpen      LoopStatus = "open"
	LoopClosed    LoopStatus = "closed"
	LoopCancelled LoopStatus = "cancelled"
	LoopOverdue   LoopStatus = "overdue"
)

// OpenLoop is a commitment derived from a memory but stored separately:
// its lifecycle outlives the memory and it is queried as a first-class
// entity.
type OpenLoop struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	SourceMemoryID string        `json:"source_memory_id"`
	Direction      LoopDirection `json:"direction"`
	Counterparty   string        `json:"counterparty,omitempty"`
	Description    string        `json:"description"`
	DueAt          *time.Time    `json:"due_at,omitempty"`
	Status         LoopStatus    `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// EffectiveStatus derives overdue from the due date without mutating the
// stored status.
func (l OpenLoop) EffectiveStatus(now time.Time) LoopStatus {
	if l.Status == LoopOpen && l.DueAt != nil && now.After(*l.DueAt) {
		return LoopOverdue
	}
	return l.Status
}

// PressureVector is a directed affective quantity between two entities,
// accumulated across interactions. High magnitude with negative valence
// drives care-circle alerts.
type PressureVector struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Magnitude float64   `json:"magnitude"` // >= 0
	Valence   float64   `json:"valence"`   // -1..1
	DecayRate float64   `json:"decay_rate"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Decayed returns the magnitude after exponential decay since the last
// update. The stored vector is not mutated.
func (p PressureVector) Decayed(now time.Time) float64 {
	if p.DecayRate <= 0 {
		return p.Magnitude
	}
	days := now.Sub(p.UpdatedAt).Hours() / 24
	if days <= 0 {
		return p.Magnitude
	}
	retain := 1.0 - p.DecayRate
	if retain <= 0 {
		return 0
	}
	return p.Magnitude * math.Pow(retain, days)
}
