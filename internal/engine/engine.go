// Package engine is the consumer surface of the memory core. It composes
// extraction, scoring, attention, tiering, pattern detection, and the
// context gate behind a small verb set: Store, Recall, WhatsRelevant,
// Anticipate, SetContext, Forget, Restore.
//
// Calls for one owner are serialized; different owners proceed in
// parallel. The store -> score -> attention -> tier chain for a single
// Store call is a happens-before chain: a successful return means every
// link ran.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanchelmickjr/memoRable-sub004/internal/attention"
	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/extract"
	"github.com/alanchelmickjr/memoRable-sub004/internal/gate"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
	"github.com/alanchelmickjr/memoRable-sub004/internal/pattern"
	"github.com/alanchelmickjr/memoRable-sub004/internal/salience"
	"github.com/alanchelmickjr/memoRable-sub004/internal/store"
	"github.com/alanchelmickjr/memoRable-sub004/internal/tier"
)

// touchRetries bounds the compare-and-set retry loop on reinforcement.
const touchRetries = 3

// Engine is the composed core.
type Engine struct {
	cfgp  *config.Provider
	store *store.Store

	extractor *extract.Pipeline
	scorer    *salience.Scorer
	attention *attention.Manager
	tiers     *tier.Manager
	gate      *gate.Gate
	oracle    RetrievalOracle // optional; nil falls back to store listing

	mu        sync.Mutex
	ownerMu   map[string]*sync.Mutex
	detectors map[string]*pattern.Detector
	frames    map[string]map[string]memory.ContextFrame // owner -> device -> frame
	fused     map[string]memory.ContextFrame
	breakdown map[string]map[string]salience.Breakdown // owner -> memory -> score parts

	clock func() time.Time
}

// New composes an engine from its parts. The store is required; the
// external extractor inside the pipeline may be nil (heuristic only).
func New(cfgp *config.Provider, st *store.Store, extractor *extract.Pipeline, resolve gate.RelationshipResolver) *Engine {
	cfg := cfgp.Current()
	return &Engine{
		cfgp:      cfgp,
		store:     st,
		extractor: extractor,
		scorer:    salience.NewScorer(cfg.Salience),
		attention: attention.NewManager(cfg.Attention),
		tiers:     tier.NewManager(cfg.Tier),
		gate:      gate.New(cfg.Gate, resolve),
		ownerMu:   make(map[string]*sync.Mutex),
		detectors: make(map[string]*pattern.Detector),
		frames:    make(map[string]map[string]memory.ContextFrame),
		fused:     make(map[string]memory.ContextFrame),
		breakdown: make(map[string]map[string]salience.Breakdown),
		clock:     time.Now,
	}
}

// SetClock overrides the time source on the engine and its parts. Test hook.
func (e *Engine) SetClock(clock func() time.Time) {
	e.clock = clock
	e.attention.SetClock(clock)
	e.tiers.SetClock(clock)
}

// Attention exposes the attention manager for inspection.
func (e *Engine) Attention() *attention.Manager { return e.attention }

// Tiers exposes the tier manager for inspection.
func (e *Engine) Tiers() *tier.Manager { return e.tiers }

func (e *Engine) lockOwner(ownerID string) func() {
	e.mu.Lock()
	mu := e.ownerMu[ownerID]
	if mu == nil {
		mu = &sync.Mutex{}
		e.ownerMu[ownerID] = mu
	}
	e.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) detector(ownerID string) *pattern.Detector {
	e.mu.Lock()
	defer e.mu.Unlock()
	d := e.detectors[ownerID]
	if d == nil {
		d = pattern.NewDetector(e.cfgp.Current().Pattern)
		d.SetClock(e.clock)
		// Replay persisted access history so detection survives a restart.
		if hist, err := e.store.OwnerAccesses(ownerID); err != nil {
			logging.Get(logging.CategoryEngine).Warn("access replay for %s: %v", ownerID, err)
		} else {
			for id, times := range hist {
				for _, t := range times {
					d.RecordAccess(id, t)
				}
			}
		}
		e.detectors[ownerID] = d
	}
	return d
}

// PatternFor reports the detected cadence for one entity, or nil when no
// pattern has formed. The daemon consults it for anomaly checks.
func (e *Engine) PatternFor(ownerID, entityID string) *memory.Pattern {
	return e.detector(ownerID).Detect(entityID)
}

// =============================================================================
// STORE
// =============================================================================

// StoreRequest is an ingestion call.
type StoreRequest struct {
	OwnerID    string
	Content    []byte
	Privacy    memory.PrivacyTier
	DeviceID   string
	DeviceType memory.DeviceType
	Tags       []string
	EventTime  time.Time
}

// StoreResult reports what happened to an ingested memory.
type StoreResult struct {
	MemoryID    string
	Base        float64
	Breakdown   salience.Breakdown
	Tier        memory.StorageTier
	InAttention bool
	Degraded    bool
}

// Store ingests one observation: extract, score, persist, place. Every
// step completes before return; a failed persist aborts the call with no
// attention or tier effect.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (StoreResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Store")
	defer timer.Stop()

	if req.OwnerID == "" {
		return StoreResult{}, fmt.Errorf("%w: owner_id required", memory.ErrInvalidRequest)
	}
	if len(req.Content) == 0 {
		return StoreResult{}, fmt.Errorf("%w: content required", memory.ErrInvalidRequest)
	}

	unlock := e.lockOwner(req.OwnerID)
	defer unlock()

	now := e.clock()
	eventTime := req.EventTime
	if eventTime.IsZero() {
		eventTime = now
	}
	frame := e.currentFrameLocked(req.OwnerID)

	id := uuid.NewString()
	features := e.extractor.Extract(ctx, req.OwnerID, id, req.Content, req.Privacy, frame)
	bd := e.scorer.Score(req.OwnerID, features, frame)

	m := &memory.Memory{
		ID:           id,
		OwnerID:      req.OwnerID,
		IngestedAt:   now,
		EventTime:    eventTime,
		Content:      req.Content,
		Privacy:      req.Privacy,
		DeviceID:     req.DeviceID,
		DeviceType:   req.DeviceType,
		Tags:         req.Tags,
		Features:     features,
		BaseSalience: bd.Total,
		State:        memory.StateActive,
	}
	if err := e.store.Put(m); err != nil {
		return StoreResult{}, memory.Wrap("engine.store", req.OwnerID, err)
	}

	inAttention := e.attention.Add(req.OwnerID, id, bd.Total, now, 0)
	placed := e.tiers.Store(req.OwnerID, id, bd.Total)

	e.rememberBreakdown(req.OwnerID, id, bd)
	e.extractLoops(req.OwnerID, m, now)
	e.updatePressure(req.OwnerID, m, now)

	logging.Engine("owner=%s stored %s base=%.1f tier=%s attention=%v",
		req.OwnerID, id, bd.Total, placed, inAttention)
	return StoreResult{
		MemoryID:    id,
		Base:        bd.Total,
		Breakdown:   bd,
		Tier:        placed,
		InAttention: inAttention,
		Degraded:    features.Degraded,
	}, nil
}

func (e *Engine) rememberBreakdown(ownerID, memoryID string, bd salience.Breakdown) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byID := e.breakdown[ownerID]
	if byID == nil {
		byID = make(map[string]salience.Breakdown)
		e.breakdown[ownerID] = byID
	}
	byID[memoryID] = bd
}

// extractLoops turns commitment signals into first-class open loops.
func (e *Engine) extractLoops(ownerID string, m *memory.Memory, now time.Time) {
	c := m.Features.Consequential
	n := c.Commitments
	if n == 0 && c.ActionItems > 0 {
		n = 1
	}
	for i := 0; i < n; i++ {
		counterparty := ""
		if len(m.Features.PeopleMentioned) > 0 {
			counterparty = m.Features.PeopleMentioned[0]
		}
		loop := &memory.OpenLoop{
			ID:             uuid.NewString(),
			OwnerID:        ownerID,
			SourceMemoryID: m.ID,
			Direction:      memory.LoopSelfOwes,
			Counterparty:   counterparty,
			Description:    "commitment noted",
			Status:         memory.LoopOpen,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.SaveLoop(loop); err != nil {
			logging.Get(logging.CategoryEngine).Warn("open loop not persisted for %s: %v", m.ID, err)
		}
	}
}

// updatePressure accumulates affective pressure between the owner and each
// mentioned person: conflict and strong sentiment push magnitude up,
// decay pulls it back between interactions.
func (e *Engine) updatePressure(ownerID string, m *memory.Memory, now time.Time) {
	f := m.Features
	intensity := f.SentimentIntensity
	if intensity < 0 {
		intensity = -intensity
	}
	delta := intensity * 10
	if f.Social.Conflict {
		delta += 15
	}
	if delta == 0 {
		return
	}

	for _, person := range f.PeopleMentioned {
		v, err := e.store.Pressure(ownerID, ownerID, person)
		if err != nil {
			v = memory.PressureVector{From: ownerID, To: person, DecayRate: 0.05}
		}
		v.Magnitude = v.Decayed(now) + delta
		// Valence blends toward this interaction's sentiment.
		v.Valence = 0.7*v.Valence + 0.3*f.SentimentIntensity
		v.UpdatedAt = now
		if err := e.store.UpsertPressure(ownerID, v); err != nil {
			logging.Get(logging.CategoryEngine).Warn("pressure not persisted for %s: %v", person, err)
		}
	}
}

// =============================================================================
// RECALL
// =============================================================================

// RecallRequest asks for one memory by id.
type RecallRequest struct {
	OwnerID  string
	MemoryID string

	DeviceTrusted bool
	Reauthed      bool
}

// RecallResult carries the memory plus its attention state after the
// reinforcement.
type RecallResult struct {
	Memory        *memory.Memory
	Entry         attention.Entry
	InAttention   bool
	Placement     tier.Placement
	FilteredCount int
	Degraded      bool
}

// Recall fetches a memory by id, runs it through the gate, and records
// the access everywhere accesses matter: attention, tier, access history,
// pattern series. A gated-out memory is reported as not found; the count
// leaks, the reason never does.
func (e *Engine) Recall(ctx context.Context, req RecallRequest) (RecallResult, error) {
	timer := logging.StartTimer(logging.CategoryEngine, "Recall")
	defer timer.Stop()

	if req.OwnerID == "" || req.MemoryID == "" {
		return RecallResult{}, fmt.Errorf("%w: owner_id and memory_id required", memory.ErrInvalidRequest)
	}

	unlock := e.lockOwner(req.OwnerID)
	defer unlock()

	m, err := e.store.Get(req.OwnerID, req.MemoryID)
	if err != nil {
		return RecallResult{}, memory.Wrap("engine.recall", req.OwnerID, err)
	}
	if m.State == memory.StateDeleted {
		return RecallResult{}, memory.Wrap("engine.recall", req.OwnerID, memory.ErrNotFound)
	}

	frame := e.currentFrameLocked(req.OwnerID)
	res := e.gate.Filter(ctx, req.OwnerID, []*memory.Memory{m}, frame, gate.Purpose{
		Kind:          "recall",
		RequestedID:   req.MemoryID,
		DeviceTrusted: req.DeviceTrusted,
		Reauthed:      req.Reauthed,
	})
	if len(res.Kept) == 0 {
		return RecallResult{FilteredCount: res.FilteredCount(), Degraded: res.Degraded},
			memory.Wrap("engine.recall", req.OwnerID, memory.ErrNotFound)
	}

	now := e.clock()
	entry, inAttention := e.reinforce(req.OwnerID, m, now)
	placement, perr := e.tiers.Get(req.OwnerID, req.MemoryID)
	if perr != nil {
		// A memory can predate the tier map after a restart; re-place it.
		e.tiers.Store(req.OwnerID, req.MemoryID, m.BaseSalience)
		placement, _ = e.tiers.Get(req.OwnerID, req.MemoryID)
	}

	if err := e.store.AppendAccess(req.OwnerID, req.MemoryID, now); err != nil {
		logging.Get(logging.CategoryEngine).Warn("access not persisted for %s: %v", req.MemoryID, err)
	}
	d := e.detector(req.OwnerID)
	d.RecordAccess(req.MemoryID, now)
	for _, person := range m.Features.PeopleMentioned {
		d.RecordAccess("person:"+person, now)
	}

	return RecallResult{
		Memory:        m,
		Entry:         entry,
		InAttention:   inAttention,
		Placement:     placement,
		FilteredCount: res.FilteredCount(),
		Degraded:      res.Degraded,
	}, nil
}

// reinforce touches the attention entry with the CAS retry loop, adding
// the memory to attention when reinforcement lifts it over the bar.
func (e *Engine) reinforce(ownerID string, m *memory.Memory, now time.Time) (attention.Entry, bool) {
	for attempt := 0; attempt < touchRetries; attempt++ {
		cur, ok := e.attention.Get(ownerID, m.ID)
		if !ok {
			added := e.attention.Add(ownerID, m.ID, m.BaseSalience, m.IngestedAt, m.AccessCount()+1)
			if entry, got := e.attention.Get(ownerID, m.ID); got {
				return entry, added
			}
			return attention.Entry{}, false
		}
		entry, err := e.attention.Touch(ownerID, m.ID, cur.LastTouch)
		if err == nil {
			return entry, true
		}
		if err == memory.ErrNotFound {
			continue
		}
		// ErrConflict: another device won the race; retry on fresh state.
	}
	entry, ok := e.attention.Get(ownerID, m.ID)
	return entry, ok
}

// WhatsRelevant returns the owner's gate-filtered attention top, best
// first. Limit 0 means everything in the window.
func (e *Engine) WhatsRelevant(ctx context.Context, ownerID string, limit int, p gate.Purpose) ([]*memory.Memory, gate.Result, error) {
	if ownerID == "" {
		return nil, gate.Result{}, fmt.Errorf("%w: owner_id required", memory.ErrInvalidRequest)
	}

	unlock := e.lockOwner(ownerID)
	defer unlock()

	entries := e.attention.GetTop(ownerID, limit)
	cands := make([]*memory.Memory, 0, len(entries))
	for _, entry := range entries {
		m, err := e.store.Get(ownerID, entry.MemoryID)
		if err != nil {
			continue // evicted from the store but not yet from attention
		}
		if m.State != memory.StateActive {
			continue
		}
		cands = append(cands, m)
	}

	if p.Kind == "" {
		p.Kind = "relevant"
	}
	frame := e.currentFrameLocked(ownerID)
	res := e.gate.Filter(ctx, ownerID, cands, frame, p)
	return res.Kept, res, nil
}

// =============================================================================
// FORGET / RESTORE
// =============================================================================

// Forget tombstones a memory and drops it from attention and tiering.
// The record stays restorable for the grace window.
func (e *Engine) Forget(ownerID, memoryID string) error {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	if err := e.store.Forget(ownerID, memoryID, e.clock()); err != nil {
		return memory.Wrap("engine.forget", ownerID, err)
	}
	e.attention.Remove(ownerID, memoryID)
	e.tiers.Remove(ownerID, memoryID)
	return nil
}

// Restore un-deletes a tombstoned memory and re-places it.
func (e *Engine) Restore(ownerID, memoryID string) (*memory.Memory, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	m, err := e.store.Restore(ownerID, memoryID, e.clock())
	if err != nil {
		return nil, memory.Wrap("engine.restore", ownerID, err)
	}
	e.tiers.Store(ownerID, memoryID, m.BaseSalience)
	return m, nil
}

// =============================================================================
// OUTCOMES AND MAINTENANCE
// =============================================================================

// RecordOutcome feeds adaptive weight learning with what the owner did
// about a surfaced memory.
func (e *Engine) RecordOutcome(ownerID, memoryID string, kind salience.OutcomeKind) {
	e.mu.Lock()
	bd, ok := e.breakdown[ownerID][memoryID]
	e.mu.Unlock()
	if !ok {
		return
	}
	e.scorer.Adaptive().Record(ownerID, kind, bd)
}

// Maintenance runs the operator sweep for one owner: tier demotions,
// attention pruning, tombstone purge. Returns the tier moves.
func (e *Engine) Maintenance(ownerID string) (int, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	moved := e.tiers.Maintenance(ownerID)
	e.attention.Prune(ownerID, e.cfgp.Current().Attention.Threshold)
	if _, err := e.store.PurgeExpired(e.clock()); err != nil {
		return moved, memory.Wrap("engine.maintenance", ownerID, err)
	}
	return moved, nil
}
