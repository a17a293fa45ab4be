package memory

import (
	"time"
)

// =============================================================================
// CONTEXT FRAMES
// =============================================================================

// ContextFrame is the current per-owner, per-device state consulted by
// scoring and gating. Frames are flat typed records; empty fields mean
// "unknown", never "none". Frames are ephemeral: each carries the TTL of
// its originating device type.
type ContextFrame struct {
	OwnerID        string     `json:"owner_id"`
	Location       string     `json:"location,omitempty"`
	Participants   []string   `json:"participants,omitempty"`
	Activity       string     `json:"activity,omitempty"` // doubles as the context tag
	Project        string     `json:"project,omitempty"`
	DeviceID       string     `json:"device_id,omitempty"`
	DeviceType     DeviceType `json:"device_type,omitempty"`
	EmotionalState string     `json:"emotional_state,omitempty"`
	ProsodyScore   float64    `json:"prosody_score"` // negative = distressed
	TrajectoryGoal string     `json:"trajectory_goal,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`

	// Version increments on every applied delta for a device.
	Version int `json:"version"`
}

// Expired reports whether the frame has outlived its device-type TTL.
func (f ContextFrame) Expired(now time.Time) bool {
	return now.Sub(f.Timestamp) > f.DeviceType.FrameTTL()
}

// HasParticipant reports whether the entity is present in the frame.
func (f ContextFrame) HasParticipant(entity string) bool {
	for _, p := range f.Participants {
		if p == entity {
			return true
		}
	}
	return false
}

// FrameDelta is a partial frame update from one device. Nil fields leave
// the corresponding dimension untouched. Deltas are applied in order.
type FrameDelta struct {
	OwnerID        string      `json:"owner_id"`
	DeviceID       string      `json:"device_id"`
	DeviceType     DeviceType  `json:"device_type"`
	Location       *string     `json:"location,omitempty"`
	Participants   *[]string   `json:"participants,omitempty"`
	Activity       *string     `json:"activity,omitempty"`
	Project        *string     `json:"project,omitempty"`
	EmotionalState *string     `json:"emotional_state,omitempty"`
	ProsodyScore   *float64    `json:"prosody_score,omitempty"`
	TrajectoryGoal *string     `json:"trajectory_goal,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Apply merges the delta into a device frame, returning the updated frame.
func (d FrameDelta) Apply(f ContextFrame) ContextFrame {
	f.OwnerID = d.OwnerID
	f.DeviceID = d.DeviceID
	if d.DeviceType != "" {
		f.DeviceType = d.DeviceType
	}
	if d.Location != nil {
		f.Location = *d.Location
	}
	if d.Participants != nil {
		f.Participants = append([]string(nil), (*d.Participants)...)
	}
	if d.Activity != nil {
		f.Activity = *d.Activity
	}
	if d.Project != nil {
		f.Project = *d.Project
	}
	if d.EmotionalState != nil {
		f.EmotionalState = *d.EmotionalState
	}
	if d.ProsodyScore != nil {
		f.ProsodyScore = *d.ProsodyScore
	}
	if d.TrajectoryGoal != nil {
		f.TrajectoryGoal = *d.TrajectoryGoal
	}
	if !d.Timestamp.IsZero() {
		f.Timestamp = d.Timestamp
	}
	f.Version++
	return f
}

// FuseFrames merges per-device frames into a single owner view.
//
// Rules: most recent non-empty value wins per dimension, except that
// mobile devices win for location and desktops win for activity when
// their frame is still live. Expired frames contribute nothing.
func FuseFrames(now time.Time, frames ...ContextFrame) ContextFrame {
	var fused ContextFrame
	var locFrom, actFrom DeviceType
	for _, f := range sortedByTime(frames) {
		if f.Expired(now) {
			continue
		}
		if fused.OwnerID == "" {
			fused.OwnerID = f.OwnerID
		}
		// Mobile owns location, desktop owns activity: once the priority
		// device has spoken, only a newer frame from the same device type
		// may override.
		if f.Location != "" && (f.DeviceType == DeviceMobile || locFrom != DeviceMobile) {
			fused.Location = f.Location
			locFrom = f.DeviceType
		}
		if f.Activity != "" && (f.DeviceType == DeviceDesktop || actFrom != DeviceDesktop) {
			fused.Activity = f.Activity
			actFrom = f.DeviceType
		}
		if len(f.Participants) > 0 {
			fused.Participants = f.Participants
		}
		if f.Project != "" {
			fused.Project = f.Project
		}
		if f.EmotionalState != "" {
			fused.EmotionalState = f.EmotionalState
			fused.ProsodyScore = f.ProsodyScore
		}
		if f.TrajectoryGoal != "" {
			fused.TrajectoryGoal = f.TrajectoryGoal
		}
		if f.Timestamp.After(fused.Timestamp) {
			fused.Timestamp = f.Timestamp
			fused.DeviceID = f.DeviceID
			fused.DeviceType = f.DeviceType
		}
	}
	return fused
}

// sortedByTime returns frames oldest-first so that later (newer) frames
// overwrite earlier ones during fusion.
func sortedByTime(frames []ContextFrame) []ContextFrame {
	out := append([]ContextFrame(nil), frames...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Timestamp.Before(out[j-1].Timestamp); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
