package daemon

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/logging"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
	"github.com/alanchelmickjr/memoRable-sub004/internal/store"
)

// Sink receives the daemon's actions. Implementations deliver to consumer
// surfaces (companion app, care-circle channel); delivery failures are the
// sink's problem, the daemon records the attempt either way.
type Sink interface {
	Deliver(ctx context.Context, a Action) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, a Action) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, a Action) error { return f(ctx, a) }

// PatternSource exposes detected cadences so the daemon can flag events
// that land far off an entity's usual rhythm.
type PatternSource interface {
	PatternFor(ownerID, entityID string) *memory.Pattern
}

// Recorder persists an offending event as a memory when configuration
// asks for it.
type Recorder interface {
	Record(ctx context.Context, ownerID string, content []byte, tags []string) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, ownerID string, content []byte, tags []string) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, ownerID string, content []byte, tags []string) error {
	return f(ctx, ownerID, content, tags)
}

// ownerQueue is one owner's strictly ordered event queue. Backpressure
// sheds the oldest non-threat events; threats are never dropped.
type ownerQueue struct {
	mu     sync.Mutex
	items  []Event
	threat map[string]bool // event id -> carries a threat
	notify chan struct{}

	// Hourly arrival counts back the shed threshold. The previous full
	// hour is the reference: a sudden flood cannot raise its own limit.
	curHourStart time.Time
	curCount     int
	prevCount    int
	lastEvent    time.Time
}

// Daemon runs per-owner workers over the event queues.
type Daemon struct {
	mu       sync.Mutex
	cfg      config.DaemonConfig
	sink     Sink
	store    *store.Store // optional; nil disables receipts and pressure checks
	log      *zap.Logger
	owners   map[string]*ownerQueue
	patterns PatternSource // optional; nil skips anomaly checks
	recorder Recorder      // optional; used only when cfg.PersistEvents
	clock    func() time.Time

	group  *errgroup.Group
	runCtx context.Context
}

// New builds a daemon. The store may be nil; delivery receipts are then
// skipped.
func New(cfg config.DaemonConfig, sink Sink, st *store.Store, log *zap.Logger) *Daemon {
	if log == nil {
		log = zap.NewNop()
	}
	return &Daemon{
		cfg:    cfg,
		sink:   sink,
		store:  st,
		log:    log,
		owners: make(map[string]*ownerQueue),
		clock:  time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (d *Daemon) SetClock(clock func() time.Time) { d.clock = clock }

// SetPatterns installs the cadence source consulted for anomalies.
func (d *Daemon) SetPatterns(src PatternSource) { d.patterns = src }

// SetRecorder installs the memory recorder used when PersistEvents is on.
func (d *Daemon) SetRecorder(r Recorder) { d.recorder = r }

// Run starts the silence watchdog and blocks until the context is
// cancelled and every worker has drained.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	d.mu.Lock()
	d.group = g
	d.runCtx = gctx
	for ownerID, q := range d.owners {
		d.startWorker(ownerID, q)
	}
	d.mu.Unlock()

	g.Go(func() error { return d.silenceWatch(gctx) })

	logging.Daemon("daemon running")
	<-gctx.Done()
	return g.Wait()
}

// Submit enqueues an event on its owner's queue, applying the shed policy.
func (d *Daemon) Submit(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = d.clock()
	}
	threatName, _ := classifyThreat(ev)

	q := d.queue(ev.OwnerID)
	q.mu.Lock()
	now := d.clock()
	q.lastEvent = now
	q.rollHourLocked(now)
	q.curCount++

	q.items = append(q.items, ev)
	if threatName != "" {
		q.threat[ev.ID] = true
	}
	d.shedLocked(q, ev.OwnerID)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (d *Daemon) queue(ownerID string) *ownerQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q := d.owners[ownerID]
	if q == nil {
		q = &ownerQueue{
			threat: make(map[string]bool),
			notify: make(chan struct{}, 1),
		}
		d.owners[ownerID] = q
		if d.group != nil {
			d.startWorker(ownerID, q)
		}
	}
	return q
}

func (d *Daemon) startWorker(ownerID string, q *ownerQueue) {
	ctx := d.runCtx
	d.group.Go(func() error {
		return d.worker(ctx, ownerID, q)
	})
}

// shedLocked drops the oldest non-threat events once the queue exceeds
// QueueFactor times the previous hour's arrival count.
func (d *Daemon) shedLocked(q *ownerQueue, ownerID string) {
	hourly := q.prevCount
	if hourly < 1 {
		hourly = 1
	}
	limit := d.cfg.QueueFactor * hourly
	if limit < 1 || len(q.items) <= limit {
		return
	}

	kept := q.items[:0]
	over := len(q.items) - limit
	for _, ev := range q.items {
		if over > 0 && !q.threat[ev.ID] {
			over--
			d.log.Warn("event shed under backpressure",
				zap.String("owner", ownerID),
				zap.String("event", ev.ID),
				zap.String("kind", string(ev.Kind)))
			continue
		}
		kept = append(kept, ev)
	}
	q.items = kept
}

func (q *ownerQueue) rollHourLocked(now time.Time) {
	if q.curHourStart.IsZero() {
		q.curHourStart = now
		return
	}
	elapsed := now.Sub(q.curHourStart)
	if elapsed < time.Hour {
		return
	}
	if elapsed < 2*time.Hour {
		q.prevCount = q.curCount
	} else {
		q.prevCount = 0 // a quiet gap resets the reference
	}
	q.curCount = 0
	q.curHourStart = now
}

// =============================================================================
// WORKER
// =============================================================================

func (d *Daemon) worker(ctx context.Context, ownerID string, q *ownerQueue) error {
	for {
		q.mu.Lock()
		var ev Event
		ok := len(q.items) > 0
		if ok {
			ev = q.items[0]
			q.items = q.items[1:]
			delete(q.threat, ev.ID)
		}
		q.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.notify:
				continue
			}
		}

		a := d.decide(ev)
		d.deliver(ctx, a)
	}
}

// decide maps one event to an action.
func (d *Daemon) decide(ev Event) Action {
	now := d.clock()
	a := Action{
		ID:        uuid.NewString(),
		OwnerID:   ev.OwnerID,
		Event:     ev,
		CreatedAt: now,
	}

	if name, conf := classifyThreat(ev); name != "" {
		a.Threat = name
		a.Confidence = conf
		if conf >= d.cfg.ThreatConfidence {
			a.Kind = ActionIntercept
			a.Reason = "threat_pattern_matched"
			d.log.Warn("threat intercepted",
				zap.String("owner", ev.OwnerID),
				zap.String("pattern", name),
				zap.Float64("confidence", conf))
		} else {
			// Below the bar it is logged, never surfaced: a false intercept
			// on a legitimate call costs trust.
			a.Kind = ActionLog
			a.Reason = "threat_below_confidence"
		}
		return a
	}

	switch ev.Kind {
	case EventCalendar:
		a.Kind = ActionRemind
		a.Reason = "calendar_due"
	case EventTimeTrigger:
		a.Kind = ActionRemind
		a.Reason = "timer_due"
	case EventDeviceInput:
		a.Kind = ActionAssist
		a.Reason = "explicit_request"
	case EventPhoneRing, EventPhoneCall, EventEmail, EventDoorbell:
		a.Kind = ActionNotify
		a.Reason = "incoming_communication"
	case EventSensorAlert:
		a.Kind = ActionNotify
		a.Reason = "sensor_alert"
	case EventSilence:
		if circle := d.cfg.CareCircle[ev.OwnerID]; len(circle) > 0 {
			a.Kind = ActionAlert
			a.Recipients = circle
			a.Reason = "prolonged_silence"
		} else {
			a.Kind = ActionLog
			a.Reason = "silence_without_circle"
		}
	default:
		// location_change, market_data, custom_webhook: record only.
		a.Kind = ActionLog
		a.Reason = "observation_recorded"
	}

	if a.Kind == ActionLog && d.offCadence(ev) {
		a.Kind = ActionNotify
		a.Reason = "cadence_anomaly"
	}
	return a
}

// offCadence consults the pattern source: an event from an entity with a
// formed cadence that lands more than half a period away from the next
// predicted occurrence is an anomaly worth surfacing.
func (d *Daemon) offCadence(ev Event) bool {
	if d.patterns == nil || ev.From == "" {
		return false
	}
	p := d.patterns.PatternFor(ev.OwnerID, "person:"+ev.From)
	if p == nil || p.PeriodHours <= 0 {
		return false
	}
	if p.Formation != memory.FormationFormed && p.Formation != memory.FormationStable {
		return false
	}
	// Phase distance to the nearest predicted occurrence.
	period := time.Duration(p.PeriodHours * float64(time.Hour))
	off := ev.OccurredAt.Sub(p.NextPredicted) % period
	if off < 0 {
		off += period
	}
	if off > period/2 {
		off = period - off
	}
	return off > period/4
}

func (d *Daemon) deliver(ctx context.Context, a Action) {
	// Intercepts escalate: the care circle hears about it too.
	if a.Kind == ActionIntercept {
		if circle := d.cfg.CareCircle[a.OwnerID]; len(circle) > 0 {
			alert := a
			alert.ID = uuid.NewString()
			alert.Kind = ActionAlert
			alert.Recipients = circle
			d.deliverOne(ctx, alert)
		}
		if d.cfg.PersistEvents && d.recorder != nil {
			tags := []string{"guardian", "threat:" + a.Threat}
			if err := d.recorder.Record(ctx, a.OwnerID, []byte(a.Event.Content), tags); err != nil {
				d.log.Warn("intercepted event not persisted",
					zap.String("owner", a.OwnerID), zap.Error(err))
			}
		}
	}
	d.deliverOne(ctx, a)
}

func (d *Daemon) deliverOne(ctx context.Context, a Action) {
	err := d.sink.Deliver(ctx, a)
	logging.Audit(logging.AuditEvent{
		EventType: logging.AuditActionDelivered,
		OwnerID:   a.OwnerID,
		Target:    string(a.Kind),
		Reason:    a.Reason,
		Success:   err == nil,
	})
	if err != nil {
		d.log.Error("delivery failed",
			zap.String("owner", a.OwnerID),
			zap.String("action", string(a.Kind)),
			zap.Error(err))
		return
	}

	if d.store != nil {
		payload, _ := json.Marshal(a)
		if rerr := d.store.SaveReceipt(store.Receipt{
			ID:          a.ID,
			OwnerID:     a.OwnerID,
			Action:      string(a.Kind),
			Payload:     payload,
			DeliveredAt: d.clock(),
		}); rerr != nil {
			d.log.Warn("receipt not persisted", zap.String("action", a.ID), zap.Error(rerr))
		}
	}
}

// =============================================================================
// SILENCE WATCHDOG
// =============================================================================

// silenceWatch alerts the care circle when an owner with one configured
// goes quiet past the threshold, and checks accumulated affective
// pressure on every tick. One alert per silent spell or pressure spike.
func (d *Daemon) silenceWatch(ctx context.Context) error {
	if d.cfg.SilenceAfter <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(d.cfg.SilenceAfter / 4)
	defer ticker.Stop()

	alerted := make(map[string]bool)
	pressureAlerted := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		now := d.clock()
		var due []Action
		d.mu.Lock()
		for ownerID, q := range d.owners {
			circle := d.cfg.CareCircle[ownerID]
			if len(circle) == 0 {
				continue
			}
			q.mu.Lock()
			last := q.lastEvent
			q.mu.Unlock()
			if last.IsZero() {
				continue
			}
			silent := now.Sub(last) > d.cfg.SilenceAfter
			if silent && !alerted[ownerID] {
				alerted[ownerID] = true
				due = append(due, Action{
					ID:         uuid.NewString(),
					OwnerID:    ownerID,
					Kind:       ActionAlert,
					Recipients: circle,
					Reason:     "prolonged_silence",
					CreatedAt:  now,
				})
			} else if !silent {
				alerted[ownerID] = false
			}
		}
		d.mu.Unlock()

		due = append(due, d.pressureAlerts(now, pressureAlerted)...)
		for _, a := range due {
			d.deliverOne(ctx, a)
		}
	}
}

// pressureAlerts reads the persisted pressure vectors for every owner
// with a care circle and flags high negative affective pressure. The
// alerted map dedupes per (owner, counterpart) spike; a vector decaying
// back under half the threshold re-arms it.
func (d *Daemon) pressureAlerts(now time.Time, alerted map[string]bool) []Action {
	if d.store == nil || d.cfg.PressureAlertAbove <= 0 {
		return nil
	}

	var due []Action
	for ownerID, circle := range d.cfg.CareCircle {
		if len(circle) == 0 {
			continue
		}
		vectors, err := d.store.PressuresFrom(ownerID, ownerID)
		if err != nil {
			d.log.Warn("pressure read failed", zap.String("owner", ownerID), zap.Error(err))
			continue
		}
		for _, v := range vectors {
			key := ownerID + "|" + v.To
			mag := v.Decayed(now)
			switch {
			case mag >= d.cfg.PressureAlertAbove && v.Valence < 0 && !alerted[key]:
				alerted[key] = true
				due = append(due, Action{
					ID:         uuid.NewString(),
					OwnerID:    ownerID,
					Kind:       ActionAlert,
					Recipients: circle,
					Reason:     "affective_pressure",
					CreatedAt:  now,
				})
				d.log.Warn("affective pressure alert",
					zap.String("owner", ownerID),
					zap.String("counterpart", v.To),
					zap.Float64("magnitude", mag))
			case mag < d.cfg.PressureAlertAbove/2:
				alerted[key] = false
			}
		}
	}
	return due
}

// QueueDepth reports the pending event count for an owner. Test hook.
func (d *Daemon) QueueDepth(ownerID string) int {
	q := d.queue(ownerID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
