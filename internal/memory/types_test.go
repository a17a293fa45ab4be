package memory

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessHistoryBounded(t *testing.T) {
	m := &Memory{}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < AccessHistoryCap+50; i++ {
		m.RecordAccess(base.Add(time.Duration(i) * time.Minute))
	}
	assert.Equal(t, AccessHistoryCap, m.AccessCount())
	// Oldest samples fell off, newest survived.
	assert.Equal(t, base.Add(time.Duration(AccessHistoryCap+49)*time.Minute), m.AccessTimes[len(m.AccessTimes)-1])
}

func TestOpenLoopEffectiveStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	due := now.Add(-time.Hour)

	t.Run("open past due derives overdue", func(t *testing.T) {
		l := OpenLoop{Status: LoopOpen, DueAt: &due}
		assert.Equal(t, LoopOverdue, l.EffectiveStatus(now))
		// Stored status untouched.
		assert.Equal(t, LoopOpen, l.Status)
	})

	t.Run("closed stays closed", func(t *testing.T) {
		l := OpenLoop{Status: LoopClosed, DueAt: &due}
		assert.Equal(t, LoopClosed, l.EffectiveStatus(now))
	})

	t.Run("no due date never overdue", func(t *testing.T) {
		l := OpenLoop{Status: LoopOpen}
		assert.Equal(t, LoopOpen, l.EffectiveStatus(now))
	})
}

func TestPressureVectorDecay(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	v := PressureVector{Magnitude: 100, DecayRate: 0.05, UpdatedAt: now.Add(-10 * 24 * time.Hour)}

	got := v.Decayed(now)
	// 100 * 0.95^10
	assert.InDelta(t, 59.87, got, 0.1)

	t.Run("zero rate holds magnitude", func(t *testing.T) {
		v := PressureVector{Magnitude: 42, UpdatedAt: now.Add(-time.Hour)}
		assert.Equal(t, 42.0, v.Decayed(now))
	})

	t.Run("future update is a no-op", func(t *testing.T) {
		v := PressureVector{Magnitude: 42, DecayRate: 0.5, UpdatedAt: now.Add(time.Hour)}
		assert.Equal(t, 42.0, v.Decayed(now))
	})
}

func TestFrameTTLByDevice(t *testing.T) {
	assert.Equal(t, 30*time.Second, DeviceRobotic.FrameTTL())
	assert.Equal(t, 5*time.Minute, DeviceMobile.FrameTTL())
	assert.Equal(t, 15*time.Minute, DeviceDesktop.FrameTTL())
}

func TestFrameDeltaApply(t *testing.T) {
	loc := "cafe"
	prosody := -12.5
	d := FrameDelta{
		OwnerID:      "o1",
		DeviceID:     "phone",
		DeviceType:   DeviceMobile,
		Location:     &loc,
		ProsodyScore: &prosody,
		Timestamp:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}

	f := d.Apply(ContextFrame{Activity: "work_meeting", Version: 3})
	assert.Equal(t, "cafe", f.Location)
	assert.Equal(t, -12.5, f.ProsodyScore)
	// Untouched dimensions survive.
	assert.Equal(t, "work_meeting", f.Activity)
	assert.Equal(t, 4, f.Version)
}

func TestFuseFrames(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("mobile owns location over a newer desktop", func(t *testing.T) {
		mobile := ContextFrame{
			DeviceType: DeviceMobile, Location: "cafe",
			Timestamp: now.Add(-2 * time.Minute),
		}
		desktop := ContextFrame{
			DeviceType: DeviceDesktop, Location: "home", Activity: "one_on_one",
			Timestamp: now.Add(-1 * time.Minute),
		}
		fused := FuseFrames(now, desktop, mobile)
		assert.Equal(t, "cafe", fused.Location)
		assert.Equal(t, "one_on_one", fused.Activity)
	})

	t.Run("expired frames contribute nothing", func(t *testing.T) {
		stale := ContextFrame{
			DeviceType: DeviceMobile, Location: "cafe",
			Timestamp: now.Add(-time.Hour),
		}
		fused := FuseFrames(now, stale)
		assert.Empty(t, fused.Location)
	})

	t.Run("fusing the same frames twice is stable", func(t *testing.T) {
		a := ContextFrame{DeviceType: DeviceMobile, Location: "gym", Timestamp: now.Add(-time.Minute)}
		b := ContextFrame{DeviceType: DeviceDesktop, Activity: "one_on_one", Timestamp: now.Add(-time.Minute)}
		first := FuseFrames(now, a, b)
		second := FuseFrames(now, a, b)
		require.Empty(t, cmp.Diff(first, second))
	})
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, KindOK, KindOf(nil))
	assert.Equal(t, KindDenied, KindOf(Wrap("gate", "o1", ErrVaultEgress)))
	assert.Equal(t, KindDenied, KindOf(ErrCrossOwner))
	assert.Equal(t, KindInvalid, KindOf(ErrUnknownContextTag))
	assert.Equal(t, KindInvalid, KindOf(ErrInvalidRequest))
	assert.Equal(t, KindUnavailable, KindOf(ErrStoreUnavailable))
	assert.Equal(t, KindUnavailable, KindOf(ErrConflict))
}
