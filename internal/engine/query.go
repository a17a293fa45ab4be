package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/alanchelmickjr/memoRable-sub004/internal/attention"
	"github.com/alanchelmickjr/memoRable-sub004/internal/gate"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
	"github.com/alanchelmickjr/memoRable-sub004/internal/store"
)

// =============================================================================
// QUERY RECALL
// =============================================================================

// RankedID is one retrieval oracle result: a memory id with an opaque
// similarity score, higher is better.
type RankedID struct {
	MemoryID string
	Score    float64
}

// RetrievalOracle is the similarity-search boundary the core consumes.
// The core treats its ranking as a prior and re-scores every candidate
// with effective salience and the context gate before surfacing.
type RetrievalOracle interface {
	Rank(ctx context.Context, ownerID, query string, f store.ListFilters) ([]RankedID, error)
}

// SetOracle installs the retrieval oracle. Without one, query recall
// falls back to the durable store's filtered listing.
func (e *Engine) SetOracle(o RetrievalOracle) {
	e.mu.Lock()
	e.oracle = o
	e.mu.Unlock()
}

// RecallHit is one query recall result.
type RecallHit struct {
	Memory    *memory.Memory
	Reason    string // "attention" when the hit sits in the window, else "retrieval"
	Effective float64
}

// RecallQuery answers a text query: candidates come from the oracle (or
// the store listing when none is installed), get re-ranked by effective
// salience with the oracle score as tiebreaker, and pass the gate. Kept
// hits count as surfacings, so their access history and pattern series
// advance.
func (e *Engine) RecallQuery(ctx context.Context, ownerID, query string, f store.ListFilters, p gate.Purpose) ([]RecallHit, gate.Result, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "RecallQuery")
	defer timer.Stop()

	if ownerID == "" {
		return nil, gate.Result{}, fmt.Errorf("%w: owner_id required", memory.ErrInvalidRequest)
	}

	unlock := e.lockOwner(ownerID)
	defer unlock()

	e.mu.Lock()
	oracle := e.oracle
	e.mu.Unlock()

	now := e.clock()
	var cands []*memory.Memory
	prior := make(map[string]float64)

	if oracle != nil {
		ranked, err := oracle.Rank(ctx, ownerID, query, f)
		if err != nil {
			return nil, gate.Result{}, memory.Wrap("engine.recall_query", ownerID,
				fmt.Errorf("%w: %v", memory.ErrStoreUnavailable, err))
		}
		for _, r := range ranked {
			m, gerr := e.store.Get(ownerID, r.MemoryID)
			if gerr != nil {
				continue // oracle indexes lag deletes
			}
			if m.State == memory.StateDeleted {
				continue
			}
			if len(f.States) == 0 && m.State != memory.StateActive {
				continue
			}
			if !matchesFilters(m, f) {
				continue
			}
			prior[m.ID] = r.Score
			cands = append(cands, m)
		}
	} else {
		listed, lerr := e.store.List(ownerID, f)
		if lerr != nil {
			return nil, gate.Result{}, memory.Wrap("engine.recall_query", ownerID, lerr)
		}
		for _, m := range listed {
			if len(f.States) == 0 && m.State != memory.StateActive {
				continue
			}
			cands = append(cands, m)
		}
	}

	cfg := e.cfgp.Current().Attention
	eff := make(map[string]float64, len(cands))
	inWindow := make(map[string]bool, len(cands))
	for _, m := range cands {
		if entry, ok := e.attention.Get(ownerID, m.ID); ok {
			eff[m.ID] = attention.Effective(cfg, entry, now)
			inWindow[m.ID] = true
			continue
		}
		eff[m.ID] = attention.Effective(cfg, attention.Entry{
			Base:        m.BaseSalience,
			CreatedAt:   m.IngestedAt,
			AccessCount: m.AccessCount(),
		}, now)
	}

	// The oracle ranking is a prior: effective salience decides the
	// order, the prior breaks ties.
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].ID, cands[j].ID
		if eff[a] != eff[b] {
			return eff[a] > eff[b]
		}
		return prior[a] > prior[b]
	})

	if p.Kind == "" {
		p.Kind = "recall"
	}
	frame := e.currentFrameLocked(ownerID)
	res := e.gate.Filter(ctx, ownerID, cands, frame, p)

	d := e.detector(ownerID)
	hits := make([]RecallHit, 0, len(res.Kept))
	for _, m := range res.Kept {
		if f.Limit > 0 && len(hits) >= f.Limit {
			break
		}
		reason := "retrieval"
		if inWindow[m.ID] {
			reason = "attention"
		}
		hits = append(hits, RecallHit{Memory: m, Reason: reason, Effective: eff[m.ID]})

		if err := e.store.AppendAccess(ownerID, m.ID, now); err != nil {
			logging.Get(logging.CategoryEngine).Warn("access not persisted for %s: %v", m.ID, err)
		}
		d.RecordAccess(m.ID, now)
	}
	return hits, res, nil
}

// matchesFilters re-applies the list filters to oracle results so both
// recall paths honor the same contract.
func matchesFilters(m *memory.Memory, f store.ListFilters) bool {
	if !f.From.IsZero() && m.EventTime.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && m.EventTime.After(f.To) {
		return false
	}
	if len(f.Tags) > 0 {
		found := false
		for _, t := range f.Tags {
			if m.HasTag(t) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.States) > 0 {
		found := false
		for _, st := range f.States {
			if m.State == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
