// Package attention maintains the per-owner window of currently relevant
// memories, ordered by effective salience. Effective salience is derived
// on demand from base salience, age decay, and access reinforcement; it is
// never persisted.
package attention

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// =============================================================================
// ENTRIES
// =============================================================================

// Entry is one attention record: (owner, memory, effective salience,
// last touch).
type Entry struct {
	MemoryID    string    `json:"memory_id"`
	Base        float64   `json:"base"`
	Effective   float64   `json:"effective"`
	CreatedAt   time.Time `json:"created_at"` // memory creation, drives decay
	LastTouch   time.Time `json:"last_touch"`
	AccessCount int       `json:"access_count"`
}

// Effective computes base * decay * boost at the given instant.
//
//	decay = max(floor, 1 - days_since_creation * rate)
//	boost = min(cap,   1 + access_count * per_access)
func effective(cfg config.AttentionConfig, base float64, createdAt time.Time, accessCount int, now time.Time) float64 {
	days := now.Sub(createdAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	decay := math.Max(cfg.DecayFloor, 1-days*cfg.DecayPerDay)
	boost := math.Min(cfg.BoostCap, 1+float64(accessCount)*cfg.BoostPerAccess)
	return base * decay * boost
}

// Effective exposes the effective-salience formula for callers that
// rescore entries outside the manager.
func Effective(cfg config.AttentionConfig, e Entry, now time.Time) float64 {
	return effective(cfg, e.Base, e.CreatedAt, e.AccessCount, now)
}

// =============================================================================
// PER-OWNER WINDOW
// =============================================================================

type window struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	lastActive time.Time
}

// Manager owns every attention window, partitioned by owner id.
type Manager struct {
	mu      sync.RWMutex
	cfg     config.AttentionConfig
	windows map[string]*window
	clock   func() time.Time
}

// NewManager builds the window manager.
func NewManager(cfg config.AttentionConfig) *Manager {
	return &Manager{
		cfg:     cfg,
		windows: make(map[string]*window),
		clock:   time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

func (m *Manager) ownerWindow(ownerID string) *window {
	m.mu.RLock()
	w := m.windows[ownerID]
	m.mu.RUnlock()
	if w != nil {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w = m.windows[ownerID]; w == nil {
		w = &window{entries: make(map[string]*Entry), lastActive: m.clock()}
		m.windows[ownerID] = w
	}
	return w
}

// expireLocked rebuilds (clears) a window untouched past its TTL.
func (m *Manager) expireLocked(w *window, now time.Time) {
	if now.Sub(w.lastActive) > m.cfg.WindowTTL {
		w.entries = make(map[string]*Entry)
	}
	w.lastActive = now
}

// Add inserts a memory into the owner's window when it qualifies: base
// meets the threshold at ingest and effective salience clears it too.
// Returns whether the memory entered attention.
func (m *Manager) Add(ownerID, memoryID string, base float64, createdAt time.Time, accessCount int) bool {
	now := m.clock()
	w := m.ownerWindow(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	m.expireLocked(w, now)

	eff := effective(m.cfg, base, createdAt, accessCount, now)
	if base < m.cfg.Threshold || eff < m.cfg.Threshold {
		return false
	}

	w.entries[memoryID] = &Entry{
		MemoryID:    memoryID,
		Base:        base,
		Effective:   eff,
		CreatedAt:   createdAt,
		LastTouch:   now,
		AccessCount: accessCount,
	}
	m.evictOverflowLocked(w, now)

	logging.AttentionDebug("owner=%s add %s eff=%.1f size=%d", ownerID, memoryID, eff, len(w.entries))
	return true
}

// Touch reinforces an entry: bumps access count, recomputes effective
// salience, updates the ordering. The expected last-touch timestamp is a
// compare-and-set guard against concurrent writers from other devices; a
// mismatch returns ErrConflict and the caller retries with fresh state.
//
// Effective salience is monotone non-decreasing across a single Touch.
func (m *Manager) Touch(ownerID, memoryID string, expectedLastTouch time.Time) (Entry, error) {
	now := m.clock()
	w := m.ownerWindow(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	m.expireLocked(w, now)

	e, ok := w.entries[memoryID]
	if !ok {
		return Entry{}, memory.ErrNotFound
	}
	if !expectedLastTouch.IsZero() && !e.LastTouch.Equal(expectedLastTouch) {
		return Entry{}, memory.ErrConflict
	}

	e.AccessCount++
	e.LastTouch = now
	eff := effective(m.cfg, e.Base, e.CreatedAt, e.AccessCount, now)
	if eff > e.Effective {
		e.Effective = eff
	}
	return *e, nil
}

// Get returns the entry for a memory, if present.
func (m *Manager) Get(ownerID, memoryID string) (Entry, bool) {
	w := m.ownerWindow(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[memoryID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// GetTop returns up to limit entries ordered by effective salience
// descending, ties broken by most recent last touch.
func (m *Manager) GetTop(ownerID string, limit int) []Entry {
	now := m.clock()
	w := m.ownerWindow(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	m.expireLocked(w, now)

	out := make([]Entry, 0, len(w.entries))
	for _, e := range w.entries {
		// Recompute so decay accrued since the last touch is reflected.
		snapshot := *e
		snapshot.Effective = effective(m.cfg, e.Base, e.CreatedAt, e.AccessCount, now)
		out = append(out, snapshot)
	}
	sortEntries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Prune removes all entries whose effective salience is below threshold.
// Returns the number removed.
func (m *Manager) Prune(ownerID string, threshold float64) int {
	now := m.clock()
	w := m.ownerWindow(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for id, e := range w.entries {
		if effective(m.cfg, e.Base, e.CreatedAt, e.AccessCount, now) < threshold {
			delete(w.entries, id)
			removed++
		}
	}
	if removed > 0 {
		logging.AttentionDebug("owner=%s pruned %d below %.1f", ownerID, removed, threshold)
	}
	return removed
}

// Rescorer recomputes an entry's effective salience under a new context
// frame. It receives the current entry and returns the new effective
// value.
type Rescorer func(e Entry) float64

// RefreshForContext rescoring every entry against a new frame via the
// supplied rescorer, pruning entries that fall below the threshold.
// Applying the same frame twice is a no-op the second time.
func (m *Manager) RefreshForContext(ownerID string, rescore Rescorer) {
	now := m.clock()
	w := m.ownerWindow(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	m.expireLocked(w, now)

	for id, e := range w.entries {
		newEff := rescore(*e)
		e.Effective = newEff
		if newEff < m.cfg.Threshold {
			delete(w.entries, id)
		}
	}
}

// Remove drops a memory from the owner's window.
func (m *Manager) Remove(ownerID, memoryID string) {
	w := m.ownerWindow(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entries, memoryID)
}

// Size returns the current window size for an owner.
func (m *Manager) Size(ownerID string) int {
	w := m.ownerWindow(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// evictOverflowLocked enforces the capacity bound by evicting the lowest
// effective entries. Stored effective values can lag the clock, so the
// ranking recomputes them at eviction time.
func (m *Manager) evictOverflowLocked(w *window, now time.Time) {
	for len(w.entries) > m.cfg.Capacity {
		var worstID string
		worst := math.MaxFloat64
		for id, e := range w.entries {
			eff := effective(m.cfg, e.Base, e.CreatedAt, e.AccessCount, now)
			e.Effective = eff
			if eff < worst {
				worst = eff
				worstID = id
			}
		}
		delete(w.entries, worstID)
	}
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Effective != entries[j].Effective {
			return entries[i].Effective > entries[j].Effective
		}
		return entries[i].LastTouch.After(entries[j].LastTouch)
	})
}
