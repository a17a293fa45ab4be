package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// =============================================================================
// ANTICIPATION
// =============================================================================

// HintKind says why a hint surfaced.
type HintKind string

const (
	HintPattern HintKind = "pattern_due" // a detected cadence predicts an access
	HintOverdue HintKind = "loop_overdue"
	HintDue     HintKind = "loop_due_soon"
)

// Hint is one anticipation result. Hints are suggestions: consumers may
// ignore them freely, and a wrong hint costs nothing but screen space.
type Hint struct {
	Kind       HintKind         `json:"kind"`
	EntityID   string           `json:"entity_id,omitempty"`
	LoopID     string           `json:"loop_id,omitempty"`
	Due        time.Time        `json:"due"`
	Confidence float64          `json:"confidence,omitempty"`
	Pattern    *memory.Pattern  `json:"pattern,omitempty"`
	Loop       *memory.OpenLoop `json:"loop,omitempty"`
}

// Anticipate returns what the owner is likely to need inside the horizon:
// pattern-predicted accesses and open loops coming due or overdue.
// Results are ordered soonest first.
func (e *Engine) Anticipate(ctx context.Context, ownerID string, horizon time.Duration) ([]Hint, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Anticipate")
	defer timer.Stop()

	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner_id required", memory.ErrInvalidRequest)
	}
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}

	unlock := e.lockOwner(ownerID)
	defer unlock()

	now := e.clock()
	deadline := now.Add(horizon)
	var hints []Hint

	d := e.detector(ownerID)
	for _, entityID := range e.trackedEntities(ownerID) {
		p := d.DetectCtx(ctx, entityID)
		if p == nil || p.Formation == memory.FormationNone {
			continue
		}
		if err := e.store.SavePattern(ownerID, p); err != nil {
			logging.Get(logging.CategoryEngine).Warn("pattern snapshot for %s: %v", entityID, err)
		}
		if p.NextPredicted.After(now.Add(-time.Hour)) && p.NextPredicted.Before(deadline) {
			hints = append(hints, Hint{
				Kind:       HintPattern,
				EntityID:   entityID,
				Due:        p.NextPredicted,
				Confidence: p.Confidence,
				Pattern:    p,
			})
		}
	}

	loops, err := e.store.Loops(ownerID, memory.LoopOpen)
	if err != nil {
		return hints, memory.Wrap("engine.anticipate", ownerID, err)
	}
	for _, l := range loops {
		if l.DueAt == nil {
			continue
		}
		loop := l
		switch {
		case loop.EffectiveStatus(now) == memory.LoopOverdue:
			hints = append(hints, Hint{Kind: HintOverdue, LoopID: loop.ID, Due: *loop.DueAt, Loop: loop})
		case loop.DueAt.Before(deadline):
			hints = append(hints, Hint{Kind: HintDue, LoopID: loop.ID, Due: *loop.DueAt, Loop: loop})
		}
	}

	sort.Slice(hints, func(i, j int) bool { return hints[i].Due.Before(hints[j].Due) })
	return hints, nil
}

// trackedEntities lists the entity ids with recorded series. Snapshot
// under the engine lock; the detector holds its own.
func (e *Engine) trackedEntities(ownerID string) []string {
	return e.detector(ownerID).Entities()
}

// Patterns returns the owner's persisted pattern snapshots. Snapshots are
// written whenever Anticipate detects a formed cadence, so this survives
// a restart without replaying the series.
func (e *Engine) Patterns(ownerID string) ([]*memory.Pattern, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner_id required", memory.ErrInvalidRequest)
	}
	ps, err := e.store.Patterns(ownerID)
	if err != nil {
		return nil, memory.Wrap("engine.patterns", ownerID, err)
	}
	return ps, nil
}

// =============================================================================
// OPEN LOOPS
// =============================================================================

// OpenLoops returns the owner's loops with overdue derived at read time.
func (e *Engine) OpenLoops(ownerID string) ([]*memory.OpenLoop, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner_id required", memory.ErrInvalidRequest)
	}
	loops, err := e.store.Loops(ownerID, "")
	if err != nil {
		return nil, memory.Wrap("engine.loops", ownerID, err)
	}
	now := e.clock()
	for _, l := range loops {
		l.Status = l.EffectiveStatus(now)
	}
	return loops, nil
}

// CloseLoop marks a loop closed or cancelled.
func (e *Engine) CloseLoop(ownerID, loopID string, cancelled bool) error {
	status := memory.LoopClosed
	if cancelled {
		status = memory.LoopCancelled
	}
	if err := e.store.CloseLoop(ownerID, loopID, status, e.clock()); err != nil {
		return memory.Wrap("engine.loops", ownerID, err)
	}
	return nil
}
