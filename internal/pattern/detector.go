// Package pattern detects recurring access cadences per entity (a memory,
// a person, a place, a topic) from bounded access-time series, using
// autocorrelation over an hourly occupancy signal. Detected patterns move
// through forming -> formed -> stable as confidence and data accumulate,
// and yield next-occurrence predictions that consumers treat as hints.
package pattern

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
)

// seriesCap bounds the per-entity sample buffer.
const seriesCap = 256

// candidateLags are always tested: daily, weekly, tri-weekly, monthly.
var candidateLags = []int{24, 168, 504, 720}

type entitySeries struct {
	times  []time.Time // sorted ascending
	cached *memory.Pattern
	dirty  bool
}

// Detector holds per-entity series and cached patterns. One detector
// serves one owner; the engine partitions detectors by owner id.
type Detector struct {
	mu       sync.Mutex
	cfg      config.PatternConfig
	entities map[string]*entitySeries
	clock    func() time.Time
}

// NewDetector builds a detector.
func NewDetector(cfg config.PatternConfig) *Detector {
	return &Detector{
		cfg:      cfg,
		entities: make(map[string]*entitySeries),
		clock:    time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (d *Detector) SetClock(clock func() time.Time) { d.clock = clock }

// RecordAccess appends an access timestamp for an entity.
func (d *Detector) RecordAccess(entityID string, t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	es := d.entities[entityID]
	if es == nil {
		es = &entitySeries{}
		d.entities[entityID] = es
	}
	es.times = append(es.times, t)
	// Accesses usually arrive in order; sort only when they did not.
	if n := len(es.times); n > 1 && es.times[n-1].Before(es.times[n-2]) {
		sort.Slice(es.times, func(i, j int) bool { return es.times[i].Before(es.times[j]) })
	}
	if len(es.times) > seriesCap {
		es.times = es.times[len(es.times)-seriesCap:]
	}
	es.dirty = true
}

// Detect returns the current pattern for an entity, or nil when no
// credible period exists yet (under 14 days of data, or no lag clears the
// correlation threshold). Results are cached until new samples arrive.
func (d *Detector) Detect(entityID string) *memory.Pattern {
	return d.DetectCtx(context.Background(), entityID)
}

// DetectCtx is Detect with a deadline: when the context expires mid-scan
// the last cached pattern is returned, stale but bounded.
func (d *Detector) DetectCtx(ctx context.Context, entityID string) *memory.Pattern {
	timer := logging.StartTimer(logging.CategoryPattern, "Detect")
	defer timer.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()

	es := d.entities[entityID]
	if es == nil {
		return nil
	}
	if !es.dirty && es.cached != nil {
		p := *es.cached
		return &p
	}

	p := d.analyze(ctx, entityID, es)
	if p == nil {
		// Keep a previously formed pattern through noisy spells rather
		// than flapping back to nothing.
		if es.cached != nil && es.cached.Formation != memory.FormationNone {
			stale := *es.cached
			return &stale
		}
		return nil
	}

	// Sticky formation: once formed, a pattern does not drop below formed
	// while its confidence stays above the forming bar.
	if es.cached != nil && formationRank(es.cached.Formation) > formationRank(p.Formation) &&
		p.Confidence >= d.cfg.FormingConfidence {
		if formationRank(es.cached.Formation) >= formationRank(memory.FormationFormed) {
			p.Formation = memory.FormationFormed
		}
	}

	es.cached = p
	es.dirty = false
	out := *p
	return &out
}

// Entities lists every entity id with a recorded series.
func (d *Detector) Entities() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.entities))
	for id := range d.entities {
		out = append(out, id)
	}
	return out
}

// PredictNext returns the expected next access for an entity, or nil when
// no pattern has formed.
func (d *Detector) PredictNext(entityID string) *time.Time {
	p := d.Detect(entityID)
	if p == nil || p.Formation == memory.FormationNone {
		return nil
	}
	next := p.NextPredicted
	return &next
}

// =============================================================================
// ANALYSIS
// =============================================================================

// analyze runs the autocorrelation scan. Work is O(N*L) with N the hourly
// bins in the window and L the lag bound.
func (d *Detector) analyze(ctx context.Context, entityID string, es *entitySeries) *memory.Pattern {
	now := d.clock()
	if len(es.times) < 3 {
		return nil
	}

	windowStart := now.Add(-time.Duration(d.cfg.WindowDays) * 24 * time.Hour)
	var samples []time.Time
	for _, t := range es.times {
		if t.After(windowStart) {
			samples = append(samples, t)
		}
	}
	if len(samples) < 3 {
		return nil
	}

	daysOfData := samples[len(samples)-1].Sub(samples[0]).Hours() / 24
	if daysOfData < 14 {
		return nil
	}

	bins := binHourly(samples, windowStart, d.cfg.WindowDays*24)
	// Dilation absorbs per-event jitter of a couple hours so a
	// morning-routine signal at 08:00 +/- 90min still lines up.
	dilated := dilate(bins, 2)

	bestLag, bestCorr := d.scanLags(ctx, dilated)

	// Weekend-gap cadences: masking Saturdays/Sundays can sharpen a
	// weekday pattern. Adopt the mask only when it improves the peak.
	masked := maskWeekends(dilated, windowStart)
	if mLag, mCorr := d.scanLags(ctx, masked); mCorr > bestCorr {
		bestLag, bestCorr = mLag, mCorr
	}

	if bestLag == 0 {
		return nil
	}

	// The acceptance threshold grows with noise: sparse, scattered
	// signals need a sharper peak before we believe them.
	if bestCorr < d.noiseThreshold(dilated) {
		return nil
	}

	confidence := clamp01(bestCorr * float64(len(samples)) / float64(d.cfg.NeededSamples))
	formation := d.formation(confidence, daysOfData)
	if formation == memory.FormationNone {
		return nil
	}

	period := time.Duration(bestLag) * time.Hour
	jitter := intervalStdDev(samples, period)
	last := samples[len(samples)-1]

	p := &memory.Pattern{
		EntityID:      entityID,
		PeriodHours:   float64(bestLag),
		Confidence:    confidence,
		Formation:     formation,
		DaysOfData:    daysOfData,
		SampleCount:   len(samples),
		JitterStdDev:  jitter,
		LastAccess:    last,
		NextPredicted: last.Add(period),
		DetectedAt:    now,
	}
	logging.Pattern("entity=%s period=%dh corr=%.2f conf=%.2f formation=%s",
		entityID, bestLag, bestCorr, confidence, formation)
	return p
}

// scanLags returns the best (lag, correlation) pair over the candidate
// set plus a full scan up to the lag bound. The context bounds work: on
// expiry the best so far is returned.
func (d *Detector) scanLags(ctx context.Context, bins []float64) (int, float64) {
	bestLag, bestCorr := 0, 0.0
	consider := func(lag int) {
		if lag <= 0 || lag >= len(bins)/2 {
			return
		}
		if c := autocorrelate(bins, lag); c > bestCorr {
			bestLag, bestCorr = lag, c
		}
	}

	for _, lag := range candidateLags {
		consider(lag)
	}
	// Lags under half a day only measure the dilation width, not a
	// cadence; skip them.
	for lag := 12; lag <= d.cfg.MaxLagHours; lag++ {
		if lag%128 == 0 && ctx.Err() != nil {
			break
		}
		consider(lag)
	}
	return bestLag, bestCorr
}

func (d *Detector) formation(confidence, daysOfData float64) memory.FormationState {
	switch {
	case confidence >= d.cfg.StableConfidence && daysOfData >= d.cfg.StableDays:
		return memory.FormationStable
	case confidence >= d.cfg.FormedConfidence:
		return memory.FormationFormed
	case confidence >= d.cfg.FormingConfidence && daysOfData >= d.cfg.MinDaysForming:
		return memory.FormationForming
	default:
		return memory.FormationNone
	}
}

// noiseThreshold scales the minimum acceptable peak with how scattered
// the occupancy signal is.
func (d *Detector) noiseThreshold(bins []float64) float64 {
	occupied := 0.0
	for _, b := range bins {
		if b > 0 {
			occupied++
		}
	}
	density := occupied / float64(len(bins))
	// Dense signals self-correlate by chance; demand a sharper peak.
	return 0.2 + 0.3*math.Min(1, density*4)
}

// =============================================================================
// SIGNAL HELPERS
// =============================================================================

func binHourly(samples []time.Time, windowStart time.Time, nBins int) []float64 {
	bins := make([]float64, nBins)
	for _, t := range samples {
		idx := int(t.Sub(windowStart).Hours())
		if idx >= 0 && idx < nBins {
			bins[idx] = 1
		}
	}
	return bins
}

// dilate spreads each occupied bin to its +/- radius neighbors.
func dilate(bins []float64, radius int) []float64 {
	out := make([]float64, len(bins))
	for i, b := range bins {
		if b == 0 {
			continue
		}
		for j := i - radius; j <= i+radius; j++ {
			if j >= 0 && j < len(bins) {
				out[j] = 1
			}
		}
	}
	return out
}

// maskWeekends zeroes Saturday and Sunday bins.
func maskWeekends(bins []float64, windowStart time.Time) []float64 {
	out := make([]float64, len(bins))
	copy(out, bins)
	for i := range out {
		wd := windowStart.Add(time.Duration(i) * time.Hour).Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			out[i] = 0
		}
	}
	return out
}

// autocorrelate computes the normalized autocorrelation of the signal at
// the given lag.
func autocorrelate(x []float64, lag int) float64 {
	n := len(x)
	if lag <= 0 || lag >= n {
		return 0
	}

	mean := 0.0
	for _, v := range x {
		mean += v
	}
	mean /= float64(n)

	var num, den float64
	for i := 0; i < n; i++ {
		d := x[i] - mean
		den += d * d
		if i+lag < n {
			num += d * (x[i+lag] - mean)
		}
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// intervalStdDev measures jitter: the spread of successive intervals that
// sit near the detected period.
func intervalStdDev(samples []time.Time, period time.Duration) time.Duration {
	var residuals []float64
	for i := 1; i < len(samples); i++ {
		iv := samples[i].Sub(samples[i-1])
		if iv > period/2 && iv < period*3/2 {
			residuals = append(residuals, (iv - period).Hours())
		}
	}
	if len(residuals) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range residuals {
		mean += r
	}
	mean /= float64(len(residuals))
	varsum := 0.0
	for _, r := range residuals {
		varsum += (r - mean) * (r - mean)
	}
	std := math.Sqrt(varsum / float64(len(residuals)-1))
	return time.Duration(std * float64(time.Hour))
}

func formationRank(f memory.FormationState) int {
	switch f {
	case memory.FormationForming:
		return 1
	case memory.FormationFormed:
		return 2
	case memory.FormationStable:
		return 3
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
