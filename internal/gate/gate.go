// Package gate screens retrieval candidates against the active context
// frame before anything is surfaced. The gate is a composition of ordered
// stages; every stage may veto, none may promote, and none mutates the
// frame. Removals carry structured reasons for the audit trail; they are
// never shown to the owner unless audit is opted into.
package gate

import (
	"context"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// Purpose describes the retrieval asking to pass the gate.
type Purpose struct {
	// Kind is the consumer verb: recall, anticipate, guardian.
	Kind string

	// RequestedID is set when the query names a memory id explicitly —
	// the only way a Vault item may leave the core.
	RequestedID string

	// DeviceTrusted marks the requesting device as trusted for Personal
	// content.
	DeviceTrusted bool

	// Reauthed marks a fresh re-authentication on a shared device.
	Reauthed bool
}

// Removal records one vetoed candidate with its structured reason.
type Removal struct {
	MemoryID string `json:"memory_id"`
	Stage    string `json:"stage"`
	Reason   string `json:"reason"`
}

// Result is the gate's output.
type Result struct {
	Kept    []*memory.Memory
	Removed []Removal

	// Degraded is set when any stage errored or timed out; such a stage
	// removes nothing and the consumer is warned out of band.
	Degraded       bool
	DegradedStages []string
}

// FilteredCount is what consumers are told: how many, never which or why.
func (r Result) FilteredCount() int { return len(r.Removed) }

// RelationshipResolver maps a present participant to their relationship
// with the owner (boss, child, stranger, ...). A nil resolver treats the
// participant id itself as the relationship when it matches a policy key.
type RelationshipResolver func(ownerID, participant string) string

// Stage is one filter in the stack.
type Stage interface {
	Name() string
	Filter(ctx context.Context, cands []*memory.Memory, frame memory.ContextFrame, p Purpose) ([]*memory.Memory, []Removal, error)
}

// Gate is the composed filter stack.
type Gate struct {
	cfg    config.GateConfig
	stages []Stage
}

// New builds the gate from configuration: stages are instantiated in the
// configured order, unknown names are skipped with a warning.
func New(cfg config.GateConfig, resolve RelationshipResolver) *Gate {
	g := &Gate{cfg: cfg}
	for _, name := range cfg.Stages {
		switch name {
		case "privacy":
			g.stages = append(g.stages, privacyStage{})
		case "location":
			g.stages = append(g.stages, locationStage{})
		case "device":
			g.stages = append(g.stages, deviceStage{})
		case "participants":
			g.stages = append(g.stages, participantsStage{policy: cfg.ForbiddenTags, resolve: resolve})
		case "emotion":
			g.stages = append(g.stages, emotionStage{distressBelow: cfg.DistressProsody})
		case "trajectory":
			g.stages = append(g.stages, trajectoryStage{optIn: cfg.TrajectoryOptIn})
		default:
			logging.Get(logging.CategoryGate).Warn("unknown gate stage %q skipped", name)
		}
	}
	return g
}

// Filter runs every stage in order over the candidates. A stage that
// errors or exceeds its timeout is skipped: it drops nothing, and the
// result is flagged degraded.
func (g *Gate) Filter(ctx context.Context, ownerID string, cands []*memory.Memory, frame memory.ContextFrame, p Purpose) Result {
	timer := logging.StartTimer(logging.CategoryGate, "Filter")
	defer timer.Stop()

	res := Result{Kept: cands}
	for _, st := range g.stages {
		kept, removed, err := g.runStage(ctx, st, res.Kept, frame, p)
		if err != nil {
			res.Degraded = true
			res.DegradedStages = append(res.DegradedStages, st.Name())
			logging.Audit(logging.AuditEvent{
				EventType: logging.AuditGateDegraded,
				OwnerID:   ownerID,
				Target:    st.Name(),
				Reason:    err.Error(),
			})
			continue
		}
		res.Kept = kept
		for _, r := range removed {
			logging.Audit(logging.AuditEvent{
				EventType: logging.AuditGateRemoval,
				OwnerID:   ownerID,
				MemoryID:  r.MemoryID,
				Target:    r.Stage,
				Reason:    r.Reason,
				Success:   true,
			})
		}
		res.Removed = append(res.Removed, removed...)
	}

	logging.GateLog("owner=%s purpose=%s kept=%d removed=%d degraded=%v",
		ownerID, p.Kind, len(res.Kept), len(res.Removed), res.Degraded)
	return res
}

// runStage bounds one stage by the configured timeout.
func (g *Gate) runStage(ctx context.Context, st Stage, cands []*memory.Memory, frame memory.ContextFrame, p Purpose) ([]*memory.Memory, []Removal, error) {
	timeout := g.cfg.StageTimeout
	if timeout <= 0 {
		return st.Filter(ctx, cands, frame, p)
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		kept    []*memory.Memory
		removed []Removal
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		kept, removed, err := st.Filter(stageCtx, cands, frame, p)
		ch <- outcome{kept, removed, err}
	}()

	select {
	case o := <-ch:
		return o.kept, o.removed, o.err
	case <-stageCtx.Done():
		return cands, nil, stageCtx.Err()
	}
}

// partition is the shared veto helper: memories matching the predicate
// are removed with the reason.
func partition(cands []*memory.Memory, stage, reason string, veto func(*memory.Memory) bool) ([]*memory.Memory, []Removal) {
	kept := cands[:0:0]
	var removed []Removal
	for _, m := range cands {
		if veto(m) {
			removed = append(removed, Removal{MemoryID: m.ID, Stage: stage, Reason: reason})
			continue
		}
		kept = append(kept, m)
	}
	return kept, removed
}

func hasAnyTag(m *memory.Memory, tags ...string) bool {
	for _, t := range tags {
		if m.HasTag(t) {
			return true
		}
	}
	return false
}
