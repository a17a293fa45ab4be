package gate

import (
	"context"
	"strings"

	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// =============================================================================
// STAGE 1: PRIVACY TIER
// =============================================================================

// privacyStage enforces the tier boundary: Vault items never leave unless
// the query names them by id; Personal items require a trusted device;
// General is unrestricted.
type privacyStage struct{}

func (privacyStage) Name() string { return "privacy" }

func (privacyStage) Filter(_ context.Context, cands []*memory.Memory, _ memory.ContextFrame, p Purpose) ([]*memory.Memory, []Removal, error) {
	var removed []Removal
	kept := cands[:0:0]
	for _, m := range cands {
		switch m.Privacy {
		case memory.TierVault:
			if m.ID != p.RequestedID {
				removed = append(removed, Removal{MemoryID: m.ID, Stage: "privacy", Reason: "vault_not_explicitly_requested"})
				continue
			}
		case memory.TierPersonal:
			if !p.DeviceTrusted {
				removed = append(removed, Removal{MemoryID: m.ID, Stage: "privacy", Reason: "personal_requires_trusted_device"})
				continue
			}
		}
		kept = append(kept, m)
	}
	return kept, removed, nil
}

// =============================================================================
// STAGE 2: LOCATION
// =============================================================================

// locationStage applies per-location tag blocks. Home relaxes everything
// except what the privacy stage already held back.
type locationStage struct{}

func (locationStage) Name() string { return "location" }

var publicLocations = map[string]bool{
	"public": true, "street": true, "cafe": true, "restaurant": true,
	"transit": true, "store": true, "gym": true,
}

func (locationStage) Filter(_ context.Context, cands []*memory.Memory, frame memory.ContextFrame, _ Purpose) ([]*memory.Memory, []Removal, error) {
	loc := strings.ToLower(frame.Location)
	switch {
	case publicLocations[loc]:
		kept, removed := partition(cands, "location", "sensitive_in_public", func(m *memory.Memory) bool {
			return hasAnyTag(m, "medical", "financial", "intimate")
		})
		return kept, removed, nil
	case loc == "office" || loc == "work":
		kept, removed := partition(cands, "location", "workplace_sensitive", func(m *memory.Memory) bool {
			return hasAnyTag(m, "salary", "complaint")
		})
		return kept, removed, nil
	default:
		// Home or unknown: the location dimension blocks nothing.
		return cands, nil, nil
	}
}

// =============================================================================
// STAGE 3: DEVICE
// =============================================================================

// deviceStage applies per-device-class restrictions on top of privacy.
type deviceStage struct{}

func (deviceStage) Name() string { return "device" }

func (deviceStage) Filter(_ context.Context, cands []*memory.Memory, frame memory.ContextFrame, p Purpose) ([]*memory.Memory, []Removal, error) {
	switch frame.DeviceType {
	case memory.DeviceShared:
		if p.Reauthed {
			return cands, nil, nil
		}
		kept, removed := partition(cands, "device", "shared_device_requires_reauth", func(m *memory.Memory) bool {
			return m.Privacy == memory.TierPersonal
		})
		return kept, removed, nil
	case memory.DeviceWork:
		kept, removed := partition(cands, "device", "personal_on_work_device", func(m *memory.Memory) bool {
			return m.HasTag("personal")
		})
		return kept, removed, nil
	case memory.DeviceDisplay:
		kept, removed := partition(cands, "device", "private_on_public_display", func(m *memory.Memory) bool {
			return m.Privacy == memory.TierPersonal || m.Privacy == memory.TierVault
		})
		return kept, removed, nil
	default:
		return cands, nil, nil
	}
}

// =============================================================================
// STAGE 4: PARTICIPANTS
// =============================================================================

// participantsStage drops memories whose tags intersect the forbidden set
// of any present participant's relationship to the owner.
type participantsStage struct {
	policy  map[string][]string
	resolve RelationshipResolver
}

func (participantsStage) Name() string { return "participants" }

func (s participantsStage) Filter(_ context.Context, cands []*memory.Memory, frame memory.ContextFrame, _ Purpose) ([]*memory.Memory, []Removal, error) {
	if len(frame.Participants) == 0 || len(s.policy) == 0 {
		return cands, nil, nil
	}

	var forbidden []string
	for _, participant := range frame.Participants {
		rel := participant
		if s.resolve != nil {
			rel = s.resolve(frame.OwnerID, participant)
		}
		forbidden = append(forbidden, s.policy[strings.ToLower(rel)]...)
	}
	if len(forbidden) == 0 {
		return cands, nil, nil
	}

	kept, removed := partition(cands, "participants", "forbidden_for_present_company", func(m *memory.Memory) bool {
		return hasAnyTag(m, forbidden...)
	})
	return kept, removed, nil
}

// =============================================================================
// STAGE 5: EMOTIONAL STATE
// =============================================================================

// emotionStage protects a distressed owner from rumination loops and an
// angry one from fuel.
type emotionStage struct {
	distressBelow float64
}

func (emotionStage) Name() string { return "emotion" }

func (s emotionStage) Filter(_ context.Context, cands []*memory.Memory, frame memory.ContextFrame, _ Purpose) ([]*memory.Memory, []Removal, error) {
	if frame.ProsodyScore < s.distressBelow {
		kept, removed := partition(cands, "emotion", "withheld_while_distressed", func(m *memory.Memory) bool {
			return hasAnyTag(m, "rumination", "trauma", "grief")
		})
		return kept, removed, nil
	}
	if strings.EqualFold(frame.EmotionalState, "angry") {
		kept, removed := partition(cands, "emotion", "withheld_while_angry", func(m *memory.Memory) bool {
			return hasAnyTag(m, "inflammatory")
		})
		return kept, removed, nil
	}
	return cands, nil, nil
}

// =============================================================================
// STAGE 6: TRAJECTORY
// =============================================================================

// trajectoryStage drops counter-productive rumination for owners who set
// a trajectory goal, unless the memory carries a lesson_learned tag.
// Opt-in: without the config flag or a goal in the frame, everything
// passes.
type trajectoryStage struct {
	optIn bool
}

func (trajectoryStage) Name() string { return "trajectory" }

func (s trajectoryStage) Filter(_ context.Context, cands []*memory.Memory, frame memory.ContextFrame, _ Purpose) ([]*memory.Memory, []Removal, error) {
	if !s.optIn || frame.TrajectoryGoal == "" {
		return cands, nil, nil
	}
	kept, removed := partition(cands, "trajectory", "counterproductive_for_goal", func(m *memory.Memory) bool {
		return m.HasTag("rumination") && !m.HasTag("lesson_learned")
	})
	return kept, removed, nil
}
