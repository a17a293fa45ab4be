package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

func newTestDetector(now *time.Time) *Detector {
	d := NewDetector(config.Default().Pattern)
	d.SetClock(func() time.Time { return *now })
	return d
}

func TestNoPatternUnderTwoWeeks(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(10 * 24 * time.Hour)
	d := newTestDetector(&now)

	for day := 0; day < 10; day++ {
		d.RecordAccess("mom", start.Add(time.Duration(day)*24*time.Hour))
	}
	assert.Nil(t, d.Detect("mom"), "ten days of data is not enough")
}

func TestDailyPatternAtDay22(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(22 * 24 * time.Hour)
	d := newTestDetector(&now)

	// A call every morning at 08:00 for 22 days.
	for day := 0; day < 22; day++ {
		d.RecordAccess("mom", start.Add(time.Duration(day)*24*time.Hour))
	}

	p := d.Detect("mom")
	require.NotNil(t, p)
	assert.NotEqual(t, memory.FormationNone, p.Formation)
	assert.InDelta(t, 24.0, p.PeriodHours, 0.001)
	assert.Equal(t, 22, p.SampleCount)

	// Prediction: the morning after the last access.
	last := start.Add(21 * 24 * time.Hour)
	assert.Equal(t, last.Add(24*time.Hour), p.NextPredicted)
}

func TestDailyPatternSurvivesJitter(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(30 * 24 * time.Hour)
	d := newTestDetector(&now)

	// Morning routine with up to 90 minutes of wander.
	offsets := []time.Duration{0, 50 * time.Minute, -40 * time.Minute, 80 * time.Minute, -70 * time.Minute}
	for day := 0; day < 30; day++ {
		jitter := offsets[day%len(offsets)]
		d.RecordAccess("routine", start.Add(time.Duration(day)*24*time.Hour+jitter))
	}

	p := d.Detect("routine")
	require.NotNil(t, p)
	assert.InDelta(t, 24.0, p.PeriodHours, 2.0)
}

func TestWeeklyPattern(t *testing.T) {
	start := time.Date(2026, 1, 4, 10, 0, 0, 0, time.UTC) // a Sunday
	now := start.Add(11 * 7 * 24 * time.Hour)
	d := newTestDetector(&now)

	for week := 0; week < 11; week++ {
		d.RecordAccess("grandkids", start.Add(time.Duration(week)*7*24*time.Hour))
	}

	p := d.Detect("grandkids")
	require.NotNil(t, p)
	assert.InDelta(t, 168.0, p.PeriodHours, 0.001)
}

func TestDetectCaching(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(22 * 24 * time.Hour)
	d := newTestDetector(&now)

	for day := 0; day < 22; day++ {
		d.RecordAccess("mom", start.Add(time.Duration(day)*24*time.Hour))
	}

	first := d.Detect("mom")
	require.NotNil(t, first)
	second := d.Detect("mom")
	require.NotNil(t, second)
	assert.Equal(t, first.DetectedAt, second.DetectedAt, "clean cache hit, no re-analysis")

	// New sample dirties the cache.
	d.RecordAccess("mom", now)
	now = now.Add(time.Hour)
	third := d.Detect("mom")
	require.NotNil(t, third)
	assert.NotEqual(t, first.DetectedAt, third.DetectedAt)
}

func TestIrregularAccessNoPattern(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	now := start.Add(40 * 24 * time.Hour)
	d := newTestDetector(&now)

	// A handful of scattered accesses with no cadence.
	for _, h := range []int{3, 100, 130, 390, 460, 710, 800} {
		d.RecordAccess("random", start.Add(time.Duration(h)*time.Hour))
	}

	p := d.Detect("random")
	if p != nil {
		assert.Less(t, p.Confidence, config.Default().Pattern.FormedConfidence,
			"scattered accesses must not look like a formed habit")
	}
}

func TestPredictNextNilWithoutPattern(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d := newTestDetector(&now)
	d.RecordAccess("x", now)
	assert.Nil(t, d.PredictNext("x"))
}

func TestEntitiesListing(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	d := newTestDetector(&now)
	d.RecordAccess("a", now)
	d.RecordAccess("b", now)
	assert.ElementsMatch(t, []string{"a", "b"}, d.Entities())
}
