package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/extract"
	"github.com/alanchelmickjr/memoRable-sub004/internal/gate"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
	"github.com/alanchelmickjr/memoRable-sub004/internal/salience"
	"github.com/alanchelmickjr/memoRable-sub004/internal/store"
)

// loadedContent scores above the attention threshold through the
// heuristic extractor when paired with a one_on_one frame.
const loadedContent = "love thrilled overjoyed amazing wonderful happy news, I will pay $500 by friday"

func newTestEngine(t *testing.T, external extract.Extractor) *Engine {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider := config.NewProvider(config.Default())
	pipeline := extract.NewPipeline(external, "test-provider", time.Second)
	return New(provider, st, pipeline, nil)
}

func setIntimateFrame(t *testing.T, e *Engine, owner string) {
	t.Helper()
	activity := "one_on_one"
	_, err := e.SetContext(memory.FrameDelta{
		OwnerID:    owner,
		DeviceID:   "phone-1",
		DeviceType: memory.DeviceMobile,
		Activity:   &activity,
	})
	require.NoError(t, err)
}

func TestStoreFirstMemoryForNewOwner(t *testing.T) {
	e := newTestEngine(t, nil)
	setIntimateFrame(t, e, "ruth")

	res, err := e.Store(context.Background(), StoreRequest{
		OwnerID:    "ruth",
		Content:    []byte(loadedContent),
		DeviceID:   "phone-1",
		DeviceType: memory.DeviceMobile,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MemoryID)
	assert.Greater(t, res.Base, 40.0)
	assert.True(t, res.InAttention)
	assert.Equal(t, memory.StorageWarm, res.Tier)
	assert.False(t, res.Degraded)

	// The record is durable and owner-scoped.
	rec, err := e.Recall(context.Background(), RecallRequest{OwnerID: "ruth", MemoryID: res.MemoryID, DeviceTrusted: true})
	require.NoError(t, err)
	assert.Equal(t, res.MemoryID, rec.Memory.ID)
}

func TestStoreValidation(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Store(context.Background(), StoreRequest{Content: []byte("x")})
	assert.ErrorIs(t, err, memory.ErrInvalidRequest)

	_, err = e.Store(context.Background(), StoreRequest{OwnerID: "ruth"})
	assert.ErrorIs(t, err, memory.ErrInvalidRequest)
	assert.Equal(t, memory.KindInvalid, memory.KindOf(err))
}

// vaultSpy fails the test if the external extractor is ever reached.
type vaultSpy struct{ calls int }

func (v *vaultSpy) Extract(_ context.Context, _ string, _ []byte, _ memory.ContextFrame) (memory.FeatureBundle, error) {
	v.calls++
	return memory.FeatureBundle{}, nil
}

func TestVaultStoreHasNoProviderEgress(t *testing.T) {
	logging.ResetAuditTail()
	spy := &vaultSpy{}
	e := newTestEngine(t, spy)

	res, err := e.Store(context.Background(), StoreRequest{
		OwnerID: "ruth",
		Content: []byte("the safe combination is 7-21-9"),
		Privacy: memory.TierVault,
	})
	require.NoError(t, err)
	assert.Zero(t, spy.calls, "vault content must never reach a provider")
	assert.Empty(t, logging.ProviderCallsFor(res.MemoryID))

	// Vault items only come back when named explicitly.
	rec, err := e.Recall(context.Background(), RecallRequest{OwnerID: "ruth", MemoryID: res.MemoryID, DeviceTrusted: true})
	require.NoError(t, err)
	assert.Equal(t, memory.TierVault, rec.Memory.Privacy)
}

func TestReinforcementPromotesTier(t *testing.T) {
	e := newTestEngine(t, nil)
	setIntimateFrame(t, e, "ruth")

	res, err := e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte(loadedContent)})
	require.NoError(t, err)
	require.Equal(t, memory.StorageWarm, res.Tier)

	// Two recalls in quick succession: second access inside the promote
	// window lifts it to hot.
	_, err = e.Recall(context.Background(), RecallRequest{OwnerID: "ruth", MemoryID: res.MemoryID, DeviceTrusted: true})
	require.NoError(t, err)
	rec, err := e.Recall(context.Background(), RecallRequest{OwnerID: "ruth", MemoryID: res.MemoryID, DeviceTrusted: true})
	require.NoError(t, err)
	assert.Equal(t, memory.StorageHot, rec.Placement.Tier)

	// Reinforcement boosted the attention entry too.
	assert.GreaterOrEqual(t, rec.Entry.AccessCount, 2)
	assert.Greater(t, rec.Entry.Effective, res.Base)
}

func TestGateBlocksSensitiveInPublic(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Store(context.Background(), StoreRequest{
		OwnerID: "ruth",
		Content: []byte("test results came back"),
		Tags:    []string{"medical"},
	})
	require.NoError(t, err)

	// At home the memory recalls fine.
	loc := "home"
	_, err = e.SetContext(memory.FrameDelta{OwnerID: "ruth", DeviceID: "phone-1", DeviceType: memory.DeviceMobile, Location: &loc})
	require.NoError(t, err)
	_, err = e.Recall(context.Background(), RecallRequest{OwnerID: "ruth", MemoryID: res.MemoryID, DeviceTrusted: true})
	require.NoError(t, err)

	// In a cafe the gate vetoes it; the caller sees not-found.
	loc = "cafe"
	_, err = e.SetContext(memory.FrameDelta{OwnerID: "ruth", DeviceID: "phone-1", DeviceType: memory.DeviceMobile, Location: &loc})
	require.NoError(t, err)
	rec, err := e.Recall(context.Background(), RecallRequest{OwnerID: "ruth", MemoryID: res.MemoryID, DeviceTrusted: true})
	assert.ErrorIs(t, err, memory.ErrNotFound)
	assert.Equal(t, 1, rec.FilteredCount)
}

func TestSetContextRejectsUnknownTag(t *testing.T) {
	e := newTestEngine(t, nil)
	activity := "interpretive_dance"
	_, err := e.SetContext(memory.FrameDelta{
		OwnerID: "ruth", DeviceID: "phone-1", DeviceType: memory.DeviceMobile,
		Activity: &activity,
	})
	assert.ErrorIs(t, err, memory.ErrUnknownContextTag)
	assert.Equal(t, memory.KindInvalid, memory.KindOf(err))
}

func TestSetContextFusesDevices(t *testing.T) {
	e := newTestEngine(t, nil)

	loc := "cafe"
	_, err := e.SetContext(memory.FrameDelta{OwnerID: "ruth", DeviceID: "phone-1", DeviceType: memory.DeviceMobile, Location: &loc})
	require.NoError(t, err)

	activity := "one_on_one"
	fused, err := e.SetContext(memory.FrameDelta{OwnerID: "ruth", DeviceID: "desk-1", DeviceType: memory.DeviceDesktop, Activity: &activity})
	require.NoError(t, err)

	// Mobile owns location, desktop owns activity.
	assert.Equal(t, "cafe", fused.Location)
	assert.Equal(t, "one_on_one", fused.Activity)

	e.ClearContext("ruth", "phone-1")
	assert.Empty(t, e.CurrentFrame("ruth").Location)
}

func TestForgetAndRestore(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte("throwaway thought")})
	require.NoError(t, err)

	require.NoError(t, e.Forget("ruth", res.MemoryID))
	_, err = e.Recall(context.Background(), RecallRequest{OwnerID: "ruth", MemoryID: res.MemoryID, DeviceTrusted: true})
	assert.ErrorIs(t, err, memory.ErrNotFound)

	m, err := e.Restore("ruth", res.MemoryID)
	require.NoError(t, err)
	assert.Equal(t, memory.StateActive, m.State)
	_, err = e.Recall(context.Background(), RecallRequest{OwnerID: "ruth", MemoryID: res.MemoryID, DeviceTrusted: true})
	assert.NoError(t, err)
}

func TestCrossOwnerRecallIsNotFound(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte("mine alone")})
	require.NoError(t, err)

	_, err = e.Recall(context.Background(), RecallRequest{OwnerID: "mallory", MemoryID: res.MemoryID, DeviceTrusted: true})
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestWhatsRelevantGateFiltered(t *testing.T) {
	e := newTestEngine(t, nil)
	setIntimateFrame(t, e, "ruth")

	res, err := e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte(loadedContent)})
	require.NoError(t, err)
	require.True(t, res.InAttention)

	kept, _, err := e.WhatsRelevant(context.Background(), "ruth", 10, gate.Purpose{DeviceTrusted: true})
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, res.MemoryID, kept[0].ID)

	// Another owner sees nothing.
	kept, _, err = e.WhatsRelevant(context.Background(), "bob", 10, gate.Purpose{DeviceTrusted: true})
	require.NoError(t, err)
	assert.Empty(t, kept)
}

func TestOpenLoopFromCommitment(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Store(context.Background(), StoreRequest{
		OwnerID: "ruth",
		Content: []byte("I will return dana's ladder this weekend"),
	})
	require.NoError(t, err)

	loops, err := e.OpenLoops("ruth")
	require.NoError(t, err)
	require.NotEmpty(t, loops)
	assert.Equal(t, memory.LoopOpen, loops[0].Status)
	assert.Equal(t, memory.LoopSelfOwes, loops[0].Direction)

	require.NoError(t, e.CloseLoop("ruth", loops[0].ID, false))
	loops, err = e.OpenLoops("ruth")
	require.NoError(t, err)
	for _, l := range loops {
		assert.NotEqual(t, memory.LoopOpen, l.Status)
	}
}

func TestAnticipateSurfacesDueLoops(t *testing.T) {
	e := newTestEngine(t, nil)
	now := time.Now()

	due := now.Add(2 * time.Hour)
	require.NoError(t, e.store.SaveLoop(&memory.OpenLoop{
		ID: "l1", OwnerID: "ruth", SourceMemoryID: "m1",
		Direction: memory.LoopSelfOwes, Description: "call the pharmacy",
		DueAt: &due, Status: memory.LoopOpen, CreatedAt: now, UpdatedAt: now,
	}))
	overdue := now.Add(-2 * time.Hour)
	require.NoError(t, e.store.SaveLoop(&memory.OpenLoop{
		ID: "l2", OwnerID: "ruth", SourceMemoryID: "m2",
		Direction: memory.LoopOtherOwes, Description: "dana owes a reply",
		DueAt: &overdue, Status: memory.LoopOpen, CreatedAt: now, UpdatedAt: now,
	}))

	hints, err := e.Anticipate(context.Background(), "ruth", 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, hints, 2)
	// Soonest first: the overdue loop precedes the upcoming one.
	assert.Equal(t, HintOverdue, hints[0].Kind)
	assert.Equal(t, HintDue, hints[1].Kind)
}

// fixedOracle returns a canned ranking for every query.
type fixedOracle struct{ ranked []RankedID }

func (f fixedOracle) Rank(context.Context, string, string, store.ListFilters) ([]RankedID, error) {
	return f.ranked, nil
}

func TestRecallQueryRescoresOracleRanking(t *testing.T) {
	e := newTestEngine(t, nil)
	setIntimateFrame(t, e, "ruth")

	hot, err := e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte(loadedContent)})
	require.NoError(t, err)
	require.True(t, hot.InAttention)
	cold, err := e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte("a small thing")})
	require.NoError(t, err)
	require.Less(t, cold.Base, hot.Base)

	// The oracle prefers the low-salience memory; effective salience
	// overrules the prior.
	e.SetOracle(fixedOracle{ranked: []RankedID{
		{MemoryID: cold.MemoryID, Score: 0.9},
		{MemoryID: hot.MemoryID, Score: 0.1},
	}})

	hits, _, err := e.RecallQuery(context.Background(), "ruth", "what happened", store.ListFilters{}, gate.Purpose{DeviceTrusted: true})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, hot.MemoryID, hits[0].Memory.ID)
	assert.Equal(t, "attention", hits[0].Reason)
	assert.Equal(t, cold.MemoryID, hits[1].Memory.ID)
	assert.Equal(t, "retrieval", hits[1].Reason)
	assert.Greater(t, hits[0].Effective, hits[1].Effective)
}

func TestRecallQueryFallsBackToStoreListing(t *testing.T) {
	e := newTestEngine(t, nil)

	tagged, err := e.Store(context.Background(), StoreRequest{
		OwnerID: "ruth", Content: []byte("dana brought tomatoes"), Tags: []string{"garden"},
	})
	require.NoError(t, err)
	_, err = e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte("an unrelated errand")})
	require.NoError(t, err)

	// No oracle installed: the durable store's filtered listing serves.
	hits, _, err := e.RecallQuery(context.Background(), "ruth", "garden",
		store.ListFilters{Tags: []string{"garden"}}, gate.Purpose{DeviceTrusted: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, tagged.MemoryID, hits[0].Memory.ID)
	assert.Equal(t, "retrieval", hits[0].Reason)
}

func TestRecallQueryPassesTheGate(t *testing.T) {
	e := newTestEngine(t, nil)

	med, err := e.Store(context.Background(), StoreRequest{
		OwnerID: "ruth", Content: []byte("test results came back"), Tags: []string{"medical"},
	})
	require.NoError(t, err)

	loc := "cafe"
	_, err = e.SetContext(memory.FrameDelta{OwnerID: "ruth", DeviceID: "phone-1", DeviceType: memory.DeviceMobile, Location: &loc})
	require.NoError(t, err)

	e.SetOracle(fixedOracle{ranked: []RankedID{{MemoryID: med.MemoryID, Score: 0.9}}})
	hits, res, err := e.RecallQuery(context.Background(), "ruth", "test results", store.ListFilters{}, gate.Purpose{DeviceTrusted: true})
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Equal(t, 1, res.FilteredCount())
	assert.False(t, res.Degraded)
}

func TestDetectorRehydratesAfterRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.db")

	first, err := store.Open(path)
	require.NoError(t, err)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 22; i++ {
		require.NoError(t, first.AppendAccess("ruth", "m-daily", base.Add(time.Duration(i)*24*time.Hour)))
	}
	require.NoError(t, first.Close())

	// A fresh process over the same database sees the series again.
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	e := New(config.NewProvider(config.Default()), st, extract.NewPipeline(nil, "", time.Second), nil)
	now := base.Add(22 * 24 * time.Hour)
	e.SetClock(func() time.Time { return now })

	p := e.PatternFor("ruth", "m-daily")
	require.NotNil(t, p)
	assert.NotEqual(t, memory.FormationNone, p.Formation)
	assert.InDelta(t, 24.0, p.PeriodHours, 0.5)

	// Anticipate snapshots the pattern, so the read surface has it.
	_, err = e.Anticipate(context.Background(), "ruth", 24*time.Hour)
	require.NoError(t, err)
	saved, err := e.Patterns("ruth")
	require.NoError(t, err)
	require.NotEmpty(t, saved)
	assert.Equal(t, "m-daily", saved[0].EntityID)
}

func TestRecordOutcomeFeedsAdaptiveWeights(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte("I must pay the $90 bill by friday")})
	require.NoError(t, err)

	// No panic, breakdown found and recorded.
	e.RecordOutcome("ruth", res.MemoryID, salience.OutcomeActioned)
	e.RecordOutcome("ruth", "unknown-id", salience.OutcomeIgnored) // silently dropped
}

func TestMaintenanceSweep(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.Store(context.Background(), StoreRequest{OwnerID: "ruth", Content: []byte("a small thing")})
	require.NoError(t, err)

	_, err = e.Maintenance("ruth")
	assert.NoError(t, err)
}
