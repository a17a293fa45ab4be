// Package tier maps memory ids to storage tiers (hot/warm/cold) and moves
// them between tiers as access patterns change. There is no background
// sweeper: every transition happens at store or access time, with a small
// sample of neighbors reconsidered opportunistically on each get.
package tier

import (
	"sync"
	"time"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// Placement is the tier record for one memory.
type Placement struct {
	MemoryID     string             `json:"memory_id"`
	Tier         memory.StorageTier `json:"tier"`
	BaseSalience float64            `json:"base_salience"`
	StoredAt     time.Time          `json:"stored_at"`
	LastAccess   time.Time          `json:"last_access"`
	AccessCount  int                `json:"access_count"`

	// prevAccess backs the two-accesses-within-window promotion rule.
	prevAccess time.Time
}

type ownerPlacements struct {
	mu  sync.Mutex
	byID map[string]*Placement
	// ring of recently touched ids, sampled during maintenance
	recent []string
}

// Manager tracks placements, partitioned by owner.
type Manager struct {
	mu     sync.RWMutex
	cfg    config.TierConfig
	owners map[string]*ownerPlacements
	clock  func() time.Time
}

// NewManager builds a tier manager.
func NewManager(cfg config.TierConfig) *Manager {
	return &Manager{
		cfg:    cfg,
		owners: make(map[string]*ownerPlacements),
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (m *Manager) SetClock(clock func() time.Time) { m.clock = clock }

func (m *Manager) owner(ownerID string) *ownerPlacements {
	m.mu.RLock()
	op := m.owners[ownerID]
	m.mu.RUnlock()
	if op != nil {
		return op
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if op = m.owners[ownerID]; op == nil {
		op = &ownerPlacements{byID: make(map[string]*Placement)}
		m.owners[ownerID] = op
	}
	return op
}

// Store places a new memory: hot when base salience clears the hot
// threshold, warm otherwise. Re-storing an id keeps an existing hotter
// placement — an interleaved store must not undo a concurrent promotion.
func (m *Manager) Store(ownerID, memoryID string, base float64) memory.StorageTier {
	now := m.clock()
	op := m.owner(ownerID)
	op.mu.Lock()
	defer op.mu.Unlock()

	tier := memory.StorageWarm
	if base >= m.cfg.HotThreshold {
		tier = memory.StorageHot
	}

	if existing, ok := op.byID[memoryID]; ok {
		existing.BaseSalience = base
		if existing.Tier == memory.StorageHot {
			return existing.Tier // keep the promotion
		}
		existing.Tier = tier
		return tier
	}

	op.byID[memoryID] = &Placement{
		MemoryID:     memoryID,
		Tier:         tier,
		BaseSalience: base,
		StoredAt:     now,
		LastAccess:   now,
	}
	op.pushRecent(memoryID)
	logging.Tier("owner=%s store %s -> %s (base=%.1f)", ownerID, memoryID, tier, base)
	return tier
}

// Get records an access, applies promotion rules to the touched memory,
// and runs opportunistic maintenance on sampled neighbors. Get is
// idempotent in placement terms: repeating it cannot move the memory to a
// colder tier.
func (m *Manager) Get(ownerID, memoryID string) (Placement, error) {
	now := m.clock()
	op := m.owner(ownerID)
	op.mu.Lock()
	defer op.mu.Unlock()

	p, ok := op.byID[memoryID]
	if !ok {
		return Placement{}, memory.ErrNotFound
	}

	p.prevAccess = p.LastAccess
	p.LastAccess = now
	p.AccessCount++

	// Cold wakes to warm on any access.
	if p.Tier == memory.StorageCold {
		p.Tier = memory.StorageWarm
	}

	// Promotion: two accesses inside the promote window, or fresh memory
	// with a high base.
	if p.Tier == memory.StorageWarm {
		recentPair := p.AccessCount >= m.cfg.PromoteAccesses && now.Sub(p.prevAccess) <= m.cfg.PromoteWindow
		freshHighBase := p.BaseSalience >= m.cfg.PromoteBase && now.Sub(p.StoredAt) <= m.cfg.PromoteBaseWindow
		if recentPair || freshHighBase {
			p.Tier = memory.StorageHot
			logging.Tier("owner=%s promote %s -> hot (accesses=%d)", ownerID, memoryID, p.AccessCount)
		}
	}

	op.pushRecent(memoryID)
	m.maintainLocked(op, now, memoryID)
	return *p, nil
}

// Placement returns the current placement without recording an access.
func (m *Manager) Placement(ownerID, memoryID string) (Placement, bool) {
	op := m.owner(ownerID)
	op.mu.Lock()
	defer op.mu.Unlock()

	p, ok := op.byID[memoryID]
	if !ok {
		return Placement{}, false
	}
	return *p, true
}

// Remove drops a placement (memory deleted).
func (m *Manager) Remove(ownerID, memoryID string) {
	op := m.owner(ownerID)
	op.mu.Lock()
	defer op.mu.Unlock()
	delete(op.byID, memoryID)
}

// Counts returns the per-tier population for an owner.
func (m *Manager) Counts(ownerID string) map[memory.StorageTier]int {
	op := m.owner(ownerID)
	op.mu.Lock()
	defer op.mu.Unlock()

	counts := make(map[memory.StorageTier]int, 3)
	for _, p := range op.byID {
		counts[p.Tier]++
	}
	return counts
}

// Maintenance sweeps every placement for an owner, applying demotion
// rules. Exposed for the operator maintenance verb; the live path relies
// on the opportunistic per-get sampling instead.
func (m *Manager) Maintenance(ownerID string) int {
	now := m.clock()
	op := m.owner(ownerID)
	op.mu.Lock()
	defer op.mu.Unlock()

	moved := 0
	for _, p := range op.byID {
		if m.demoteLocked(p, now) {
			moved++
		}
	}
	return moved
}

// maintainLocked reconsiders the touched memory's neighbors: a bounded
// sample of recently active placements.
func (m *Manager) maintainLocked(op *ownerPlacements, now time.Time, exclude string) {
	sampled := 0
	for i := len(op.recent) - 1; i >= 0 && sampled < m.cfg.MaintenanceSample; i-- {
		id := op.recent[i]
		if id == exclude {
			continue
		}
		p, ok := op.byID[id]
		if !ok {
			continue
		}
		m.demoteLocked(p, now)
		sampled++
	}
}

// demoteLocked applies the demotion rules to one placement. Reports
// whether the tier changed.
func (m *Manager) demoteLocked(p *Placement, now time.Time) bool {
	switch p.Tier {
	case memory.StorageHot:
		if now.Sub(p.LastAccess) > m.cfg.HotTTL {
			p.Tier = memory.StorageWarm
			return true
		}
	case memory.StorageWarm:
		idle := now.Sub(p.LastAccess)
		if p.AccessCount == 0 {
			idle = now.Sub(p.StoredAt)
		}
		if idle > m.cfg.ColdAfter && p.BaseSalience < m.cfg.ColdMaxBase && p.AccessCount == 0 {
			p.Tier = memory.StorageCold
			return true
		}
	}
	return false
}

const recentRingCap = 64

func (op *ownerPlacements) pushRecent(id string) {
	op.recent = append(op.recent, id)
	if len(op.recent) > recentRingCap {
		op.recent = op.recent[len(op.recent)-recentRingCap:]
	}
}
