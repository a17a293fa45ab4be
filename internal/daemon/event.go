// Package daemon is the proactive half of the core: it watches owner
// event streams (calls, mail, doorbell, sensors, timers), classifies
// threats, and emits actions without being asked. Queues are per owner
// and strictly ordered; threat events are never shed under backpressure.
package daemon

import (
	"strings"
	"time"
)

// EventKind classifies an incoming event.
type EventKind string

const (
	EventPhoneRing      EventKind = "phone_ring"
	EventPhoneCall      EventKind = "phone_call_content"
	EventDoorbell       EventKind = "doorbell"
	EventEmail          EventKind = "email_received"
	EventCalendar       EventKind = "calendar_reminder"
	EventTimeTrigger    EventKind = "time_trigger"
	EventSensorAlert    EventKind = "sensor_alert"
	EventDeviceInput    EventKind = "device_input"
	EventSilence        EventKind = "silence_detected"
	EventLocationChange EventKind = "location_change"
	EventMarketData     EventKind = "market_data"
	EventWebhook        EventKind = "custom_webhook"
)

// Event is one item on an owner's stream.
type Event struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	Kind       EventKind `json:"kind"`
	From       string    `json:"from,omitempty"` // caller/sender entity id
	KnownParty bool      `json:"known_party"`    // From resolves to a known contact
	Content    string    `json:"content,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ActionKind is what the daemon decided to do about an event.
type ActionKind string

const (
	ActionIntercept ActionKind = "intercept" // step between the owner and the event
	ActionNotify    ActionKind = "notify"    // surface to the owner
	ActionRemind    ActionKind = "remind"    // pattern or calendar driven nudge
	ActionAssist    ActionKind = "assist"    // answer an explicit ask
	ActionAlert     ActionKind = "alert"     // escalate to the care circle
	ActionLog       ActionKind = "log"       // record only
)

// Action is the daemon's output.
type Action struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Kind       ActionKind `json:"kind"`
	Recipients []string   `json:"recipients,omitempty"` // empty means the owner
	Reason     string     `json:"reason"`
	Threat     string     `json:"threat,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Event      Event      `json:"event"`
	CreatedAt  time.Time  `json:"created_at"`
}

// =============================================================================
// THREAT CLASSIFICATION
// =============================================================================

// threatPattern is one scam signature: any keyword hit contributes its
// weight, capped at 1.0. Unknown callers make every signature more
// believable.
type threatPattern struct {
	name     string
	keywords []string
	weight   float64
}

var threatPatterns = []threatPattern{
	{
		name:     "bank-card-scam",
		keywords: []string{"card number", "account number", "verify your account", "card has been blocked", "suspicious transaction", "cvv", "pin number"},
		weight:   0.45,
	},
	{
		name:     "ssn-scam",
		keywords: []string{"social security", "ssn", "suspended", "legal action against"},
		weight:   0.45,
	},
	{
		name:     "gift-card-scam",
		keywords: []string{"gift card", "itunes card", "google play card", "read me the code"},
		weight:   0.5,
	},
	{
		name:     "irs-impersonation",
		keywords: []string{"irs", "tax debt", "arrest warrant", "back taxes", "pay immediately"},
		weight:   0.45,
	},
	{
		name:     "grandchild-emergency",
		keywords: []string{"it's your grandson", "it's your granddaughter", "in jail", "bail money", "don't tell mom", "don't tell dad", "wire the money"},
		weight:   0.5,
	},
	{
		name:     "tech-support-scam",
		keywords: []string{"your computer is infected", "microsoft support", "remote access", "teamviewer", "anydesk", "refund department"},
		weight:   0.45,
	},
}

// classifyThreat scores an event against every signature and returns the
// strongest (name, confidence) pair, or ("", 0) for a clean event.
func classifyThreat(ev Event) (string, float64) {
	// Only content-carrying communications can match a scam script.
	if ev.Kind != EventPhoneCall && ev.Kind != EventEmail {
		return "", 0
	}
	content := strings.ToLower(ev.Content)
	if content == "" {
		return "", 0
	}

	bestName, bestConf := "", 0.0
	for _, p := range threatPatterns {
		conf := 0.0
		for _, kw := range p.keywords {
			if strings.Contains(content, kw) {
				conf += p.weight
			}
		}
		if conf == 0 {
			continue
		}
		if !ev.KnownParty {
			conf += 0.2
		}
		// Urgency pressure is the common thread across every scam script.
		if strings.Contains(content, "immediately") || strings.Contains(content, "right now") ||
			strings.Contains(content, "urgent") {
			conf += 0.1
		}
		if conf > 1 {
			conf = 1
		}
		if conf > bestConf {
			bestName, bestConf = p.name, conf
		}
	}
	return bestName, bestConf
}
