package daemon

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/alanchelmickjr/memoRable-sub004/internal/config"
	"github.com/alanchelmickjr/memoRable-sub004/internal/memory"
	"github.com/alanchelmickjr/memoRable-sub004/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collectingSink records delivered actions.
type collectingSink struct {
	mu      sync.Mutex
	actions []Action
	done    chan struct{} // closed-on-first-delivery signal, optional
}

func (c *collectingSink) Deliver(_ context.Context, a Action) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, a)
	if c.done != nil {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}
	return nil
}

func (c *collectingSink) all() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.actions...)
}

func TestClassifyThreat(t *testing.T) {
	t.Run("gift card script from unknown caller", func(t *testing.T) {
		name, conf := classifyThreat(Event{
			Kind:    EventPhoneCall,
			Content: "You must buy a gift card right now and read me the code",
		})
		assert.Equal(t, "gift-card-scam", name)
		assert.GreaterOrEqual(t, conf, 0.6)
	})

	t.Run("grandchild emergency", func(t *testing.T) {
		name, conf := classifyThreat(Event{
			Kind:    EventPhoneCall,
			Content: "Grandma, it's your grandson, I'm in jail and need bail money, don't tell mom",
		})
		assert.Equal(t, "grandchild-emergency", name)
		assert.GreaterOrEqual(t, conf, 0.6)
	})

	t.Run("scam email matches too", func(t *testing.T) {
		name, _ := classifyThreat(Event{
			Kind:    EventEmail,
			Content: "your computer is infected, call microsoft support for remote access",
		})
		assert.Equal(t, "tech-support-scam", name)
	})

	t.Run("known contact lowers confidence", func(t *testing.T) {
		_, unknown := classifyThreat(Event{Kind: EventPhoneCall, Content: "your card has been blocked"})
		_, known := classifyThreat(Event{Kind: EventPhoneCall, Content: "your card has been blocked", KnownParty: true})
		assert.Greater(t, unknown, known)
	})

	t.Run("clean call", func(t *testing.T) {
		name, conf := classifyThreat(Event{Kind: EventPhoneCall, Content: "dinner at seven?", KnownParty: true})
		assert.Empty(t, name)
		assert.Zero(t, conf)
	})

	t.Run("non-communication kinds are never threats", func(t *testing.T) {
		name, _ := classifyThreat(Event{Kind: EventLocationChange, Content: "read me the code"})
		assert.Empty(t, name)
	})
}

func TestDecideThreatIntercept(t *testing.T) {
	d := New(config.Default().Daemon, SinkFunc(func(context.Context, Action) error { return nil }), nil, zap.NewNop())

	a := d.decide(Event{
		OwnerID: "ruth",
		Kind:    EventPhoneCall,
		Content: "this is the IRS, pay your back taxes immediately or there is an arrest warrant",
	})
	assert.Equal(t, ActionIntercept, a.Kind)
	assert.Equal(t, "irs-impersonation", a.Threat)
}

func TestDecideLowConfidenceLogsOnly(t *testing.T) {
	cfg := config.Default().Daemon
	cfg.ThreatConfidence = 0.99
	d := New(cfg, SinkFunc(func(context.Context, Action) error { return nil }), nil, zap.NewNop())

	a := d.decide(Event{OwnerID: "ruth", Kind: EventPhoneCall, Content: "your card has been blocked", KnownParty: true})
	assert.Equal(t, ActionLog, a.Kind)
	assert.Equal(t, "threat_below_confidence", a.Reason)
}

func TestDecideByKind(t *testing.T) {
	cfg := config.Default().Daemon
	cfg.CareCircle = map[string][]string{"ruth": {"daughter-amy"}}
	d := New(cfg, SinkFunc(func(context.Context, Action) error { return nil }), nil, zap.NewNop())

	assert.Equal(t, ActionRemind, d.decide(Event{Kind: EventCalendar}).Kind)
	assert.Equal(t, ActionRemind, d.decide(Event{Kind: EventTimeTrigger}).Kind)
	assert.Equal(t, ActionAssist, d.decide(Event{Kind: EventDeviceInput}).Kind)
	assert.Equal(t, ActionNotify, d.decide(Event{Kind: EventPhoneRing}).Kind)
	assert.Equal(t, ActionNotify, d.decide(Event{Kind: EventEmail, Content: "hi", KnownParty: true}).Kind)
	assert.Equal(t, ActionNotify, d.decide(Event{Kind: EventDoorbell}).Kind)
	assert.Equal(t, ActionNotify, d.decide(Event{Kind: EventSensorAlert}).Kind)
	assert.Equal(t, ActionLog, d.decide(Event{Kind: EventLocationChange}).Kind)
	assert.Equal(t, ActionLog, d.decide(Event{Kind: EventMarketData}).Kind)
	assert.Equal(t, ActionLog, d.decide(Event{Kind: EventWebhook}).Kind)

	silence := d.decide(Event{OwnerID: "ruth", Kind: EventSilence})
	assert.Equal(t, ActionAlert, silence.Kind)
	assert.Equal(t, []string{"daughter-amy"}, silence.Recipients)

	// Without a circle, silence is only recorded.
	noCircle := d.decide(Event{OwnerID: "walt", Kind: EventSilence})
	assert.Equal(t, ActionLog, noCircle.Kind)
}

// fixedPatterns serves one canned cadence for one entity.
type fixedPatterns struct {
	entity  string
	pattern *memory.Pattern
}

func (f fixedPatterns) PatternFor(_, entityID string) *memory.Pattern {
	if entityID == f.entity {
		return f.pattern
	}
	return nil
}

func TestDecideCadenceAnomaly(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	d := New(config.Default().Daemon, SinkFunc(func(context.Context, Action) error { return nil }), nil, zap.NewNop())
	d.SetClock(func() time.Time { return now })
	d.SetPatterns(fixedPatterns{
		entity: "person:daughter-amy",
		pattern: &memory.Pattern{
			EntityID:      "person:daughter-amy",
			PeriodHours:   24,
			Confidence:    0.7,
			Formation:     memory.FormationFormed,
			NextPredicted: now.Add(10 * time.Hour),
		},
	})

	// Ten hours off a daily cadence is far out of phase.
	a := d.decide(Event{OwnerID: "ruth", Kind: EventLocationChange, From: "daughter-amy", OccurredAt: now})
	assert.Equal(t, ActionNotify, a.Kind)
	assert.Equal(t, "cadence_anomaly", a.Reason)

	// On schedule: stays a plain log entry.
	onTime := d.decide(Event{OwnerID: "ruth", Kind: EventLocationChange, From: "daughter-amy", OccurredAt: now.Add(10 * time.Hour)})
	assert.Equal(t, ActionLog, onTime.Kind)

	// Entities without a formed cadence never trip the check.
	other := d.decide(Event{OwnerID: "ruth", Kind: EventLocationChange, From: "mailman", OccurredAt: now})
	assert.Equal(t, ActionLog, other.Kind)
}

func TestInterceptAlertsCareCircle(t *testing.T) {
	cfg := config.Default().Daemon
	cfg.CareCircle = map[string][]string{"ruth": {"daughter-amy"}}
	sink := &collectingSink{}
	d := New(cfg, sink, nil, zap.NewNop())

	a := d.decide(Event{
		OwnerID: "ruth",
		Kind:    EventPhoneCall,
		Content: "it's your grandson, I'm in jail, wire the money, don't tell mom",
	})
	require.Equal(t, ActionIntercept, a.Kind)
	d.deliver(context.Background(), a)

	actions := sink.all()
	require.Len(t, actions, 2)
	assert.Equal(t, ActionAlert, actions[0].Kind)
	assert.Equal(t, []string{"daughter-amy"}, actions[0].Recipients)
	assert.Equal(t, ActionIntercept, actions[1].Kind)
}

func TestPersistEventsRecordsIntercepts(t *testing.T) {
	cfg := config.Default().Daemon
	cfg.PersistEvents = true
	d := New(cfg, SinkFunc(func(context.Context, Action) error { return nil }), nil, zap.NewNop())

	var (
		mu       sync.Mutex
		recorded []string
	)
	d.SetRecorder(RecorderFunc(func(_ context.Context, ownerID string, content []byte, tags []string) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, ownerID+"|"+string(content)+"|"+tags[1])
		return nil
	}))

	script := "read me the gift card code right now"
	a := d.decide(Event{OwnerID: "ruth", Kind: EventPhoneCall, Content: script})
	require.Equal(t, ActionIntercept, a.Kind)
	d.deliver(context.Background(), a)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 1)
	assert.Equal(t, "ruth|"+script+"|threat:gift-card-scam", recorded[0])
}

func TestPersistEventsOffSkipsRecorder(t *testing.T) {
	d := New(config.Default().Daemon, SinkFunc(func(context.Context, Action) error { return nil }), nil, zap.NewNop())

	called := false
	d.SetRecorder(RecorderFunc(func(context.Context, string, []byte, []string) error {
		called = true
		return nil
	}))

	a := d.decide(Event{OwnerID: "ruth", Kind: EventPhoneCall, Content: "read me the gift card code right now"})
	require.Equal(t, ActionIntercept, a.Kind)
	d.deliver(context.Background(), a)
	assert.False(t, called, "recorder must stay idle unless persist_events is set")
}

func TestPressureAlerts(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "daemon.db"))
	require.NoError(t, err)
	defer st.Close()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertPressure("ruth", memory.PressureVector{
		From: "ruth", To: "son-bob",
		Magnitude: 80, Valence: -0.8, DecayRate: 0.05,
		UpdatedAt: now,
	}))

	cfg := config.Default().Daemon
	cfg.CareCircle = map[string][]string{"ruth": {"daughter-amy"}}
	d := New(cfg, SinkFunc(func(context.Context, Action) error { return nil }), st, zap.NewNop())

	alerted := make(map[string]bool)
	due := d.pressureAlerts(now, alerted)
	require.Len(t, due, 1)
	assert.Equal(t, ActionAlert, due[0].Kind)
	assert.Equal(t, "affective_pressure", due[0].Reason)
	assert.Equal(t, []string{"daughter-amy"}, due[0].Recipients)

	// The spike alerts once; the next tick stays quiet.
	assert.Empty(t, d.pressureAlerts(now, alerted))

	// Decayed back under half the threshold, the alert re-arms.
	later := now.Add(60 * 24 * time.Hour)
	assert.Empty(t, d.pressureAlerts(later, alerted))
	assert.False(t, alerted["ruth|son-bob"])
}

func TestWorkerProcessesInOrder(t *testing.T) {
	sink := &collectingSink{done: make(chan struct{})}
	d := New(config.Default().Daemon, sink, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	d.Submit(Event{OwnerID: "ruth", Kind: EventLocationChange, Content: "first"})
	d.Submit(Event{OwnerID: "ruth", Kind: EventLocationChange, Content: "second"})

	require.Eventually(t, func() bool { return len(sink.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	actions := sink.all()
	assert.Equal(t, "first", actions[0].Event.Content)
	assert.Equal(t, "second", actions[1].Event.Content)

	cancel()
	require.NoError(t, <-errCh)
}

func TestBackpressureShedsOldNonThreats(t *testing.T) {
	cfg := config.Default().Daemon
	cfg.QueueFactor = 1
	sink := &collectingSink{}
	d := New(cfg, sink, nil, zap.NewNop())

	// No worker running: the queue only grows. First a threat, then a
	// flood of observations. Arrivals counter makes the limit grow with
	// the flood, so overfill well past it.
	d.Submit(Event{
		OwnerID: "ruth", Kind: EventPhoneCall,
		Content: "read me the gift card code right now",
	})
	for i := 0; i < 50; i++ {
		d.Submit(Event{OwnerID: "ruth", Kind: EventLocationChange})
	}

	depth := d.QueueDepth("ruth")
	assert.Less(t, depth, 51, "flood must be shed")

	// The threat survived the shed.
	q := d.queue("ruth")
	q.mu.Lock()
	defer q.mu.Unlock()
	foundThreat := false
	for _, ev := range q.items {
		if q.threat[ev.ID] {
			foundThreat = true
		}
	}
	assert.True(t, foundThreat, "threat events are never dropped")
}
