package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

func newTestGate() *Gate {
	return New(config.Default().Gate, nil)
}

func mem(id string, privacy memory.PrivacyTier, tags ...string) *memory.Memory {
	return &memory.Memory{ID: id, OwnerID: "o1", Privacy: privacy, Tags: tags}
}

func TestVaultNeverSurfacesUnrequested(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{
		mem("v1", memory.TierVault),
		mem("g1", memory.TierGeneral),
	}

	res := g.Filter(context.Background(), "o1", cands, memory.ContextFrame{}, Purpose{Kind: "relevant", DeviceTrusted: true})
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "g1", res.Kept[0].ID)
	require.Len(t, res.Removed, 1)
	assert.Equal(t, "privacy", res.Removed[0].Stage)
}

func TestVaultSurfacesWhenExplicitlyRequested(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{mem("v1", memory.TierVault)}

	res := g.Filter(context.Background(), "o1", cands, memory.ContextFrame{},
		Purpose{Kind: "recall", RequestedID: "v1", DeviceTrusted: true})
	assert.Len(t, res.Kept, 1)
}

func TestPersonalRequiresTrustedDevice(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{mem("p1", memory.TierPersonal)}

	res := g.Filter(context.Background(), "o1", cands, memory.ContextFrame{}, Purpose{Kind: "relevant"})
	assert.Empty(t, res.Kept)

	res = g.Filter(context.Background(), "o1", cands, memory.ContextFrame{}, Purpose{Kind: "relevant", DeviceTrusted: true})
	assert.Len(t, res.Kept, 1)
}

func TestPublicLocationBlocksSensitive(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{
		mem("m-med", memory.TierGeneral, "medical"),
		mem("m-fin", memory.TierGeneral, "financial"),
		mem("m-ok", memory.TierGeneral, "groceries"),
	}

	frame := memory.ContextFrame{Location: "cafe"}
	res := g.Filter(context.Background(), "o1", cands, frame, Purpose{Kind: "relevant"})
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "m-ok", res.Kept[0].ID)
	assert.Equal(t, 2, res.FilteredCount())
}

func TestHomeLocationBlocksNothing(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{mem("m-med", memory.TierGeneral, "medical")}

	res := g.Filter(context.Background(), "o1", cands, memory.ContextFrame{Location: "home"}, Purpose{Kind: "relevant"})
	assert.Len(t, res.Kept, 1)
}

func TestWorkLocationBlocksSalary(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{
		mem("m-salary", memory.TierGeneral, "salary"),
		mem("m-project", memory.TierGeneral, "project"),
	}

	res := g.Filter(context.Background(), "o1", cands, memory.ContextFrame{Location: "office"}, Purpose{Kind: "relevant"})
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "m-project", res.Kept[0].ID)
}

func TestSharedDeviceRequiresReauth(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{mem("p1", memory.TierPersonal)}
	frame := memory.ContextFrame{DeviceType: memory.DeviceShared}

	res := g.Filter(context.Background(), "o1", cands, frame, Purpose{Kind: "relevant", DeviceTrusted: true})
	assert.Empty(t, res.Kept)

	res = g.Filter(context.Background(), "o1", cands, frame, Purpose{Kind: "relevant", DeviceTrusted: true, Reauthed: true})
	assert.Len(t, res.Kept, 1)
}

func TestParticipantsPolicyBlocksForbiddenTags(t *testing.T) {
	resolve := func(ownerID, participant string) string {
		if participant == "marta" {
			return "boss"
		}
		return "stranger"
	}
	g := New(config.Default().Gate, resolve)

	cands := []*memory.Memory{
		mem("m-doubts", memory.TierGeneral, "career_doubts"),
		mem("m-lunch", memory.TierGeneral, "lunch"),
	}
	frame := memory.ContextFrame{Participants: []string{"marta"}}

	res := g.Filter(context.Background(), "o1", cands, frame, Purpose{Kind: "relevant"})
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "m-lunch", res.Kept[0].ID)
	assert.Equal(t, "participants", res.Removed[0].Stage)
}

func TestDistressWithholdsRumination(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{
		mem("m-grief", memory.TierGeneral, "grief"),
		mem("m-plain", memory.TierGeneral),
	}
	frame := memory.ContextFrame{ProsodyScore: -25}

	res := g.Filter(context.Background(), "o1", cands, frame, Purpose{Kind: "relevant"})
	require.Len(t, res.Kept, 1)
	assert.Equal(t, "m-plain", res.Kept[0].ID)
}

func TestTrajectoryStageIsOptIn(t *testing.T) {
	cands := []*memory.Memory{mem("m-rum", memory.TierGeneral, "rumination")}
	frame := memory.ContextFrame{TrajectoryGoal: "move on"}

	t.Run("off by default", func(t *testing.T) {
		g := newTestGate()
		res := g.Filter(context.Background(), "o1", cands, frame, Purpose{Kind: "relevant"})
		assert.Len(t, res.Kept, 1)
	})

	t.Run("opted in drops rumination without a lesson", func(t *testing.T) {
		cfg := config.Default().Gate
		cfg.TrajectoryOptIn = true
		g := New(cfg, nil)
		res := g.Filter(context.Background(), "o1", cands, frame, Purpose{Kind: "relevant"})
		assert.Empty(t, res.Kept)

		lesson := []*memory.Memory{mem("m-les", memory.TierGeneral, "rumination", "lesson_learned")}
		res = g.Filter(context.Background(), "o1", lesson, frame, Purpose{Kind: "relevant"})
		assert.Len(t, res.Kept, 1)
	})
}

func TestStagesVetoOnly(t *testing.T) {
	// No stage can add candidates back: a memory removed early never
	// reappears in a later stage's output.
	g := newTestGate()
	cands := []*memory.Memory{
		mem("v1", memory.TierVault, "lunch"),
	}
	res := g.Filter(context.Background(), "o1", cands, memory.ContextFrame{Location: "home"}, Purpose{Kind: "relevant"})
	assert.Empty(t, res.Kept)
	assert.Len(t, res.Removed, 1)
}

func TestUnknownStageSkipped(t *testing.T) {
	cfg := config.Default().Gate
	cfg.Stages = append([]string{"astrology"}, cfg.Stages...)
	g := New(cfg, nil)

	cands := []*memory.Memory{mem("g1", memory.TierGeneral)}
	res := g.Filter(context.Background(), "o1", cands, memory.ContextFrame{}, Purpose{Kind: "relevant"})
	assert.Len(t, res.Kept, 1)
	assert.False(t, res.Degraded)
}

func TestFilteredCountLeaksNothingElse(t *testing.T) {
	g := newTestGate()
	cands := []*memory.Memory{
		mem("m-med", memory.TierGeneral, "medical"),
	}
	res := g.Filter(context.Background(), "o1", cands, memory.ContextFrame{Location: "street"}, Purpose{Kind: "relevant"})
	assert.Equal(t, 1, res.FilteredCount())
}
