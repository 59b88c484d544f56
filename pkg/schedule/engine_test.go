package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Shavakan/beat-fleet/pkg/queue"
	"github.com/Shavakan/beat-fleet/pkg/state"
)

type fakeEngineQueue struct {
	published  []*queue.TaskMessage
	publishErr error
	depth      int64
	depthErr   error
}

func (q *fakeEngineQueue) Publish(_ context.Context, task *queue.TaskMessage) error {
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, task)
	return nil
}

func (q *fakeEngineQueue) Depth(_ context.Context) (int64, error) {
	return q.depth, q.depthErr
}

type fakeEngineStore struct {
	states  map[string]*state.EntryState
	getErr  error
	records int
}

func newFakeEngineStore() *fakeEngineStore {
	return &fakeEngineStore{states: make(map[string]*state.EntryState)}
}

func (s *fakeEngineStore) GetEntryState(_ context.Context, name string) (*state.EntryState, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.states[name], nil
}

func (s *fakeEngineStore) RecordDispatch(_ context.Context, name, task string, at time.Time) error {
	s.records++
	st := s.states[name]
	if st == nil {
		st = &state.EntryState{Name: name}
		s.states[name] = st
	}
	st.Task = task
	st.LastDispatch = at
	st.TotalDispatches++
	return nil
}

type recordingEngineMetrics struct {
	dispatched int
	failures   int
	ticks      int
	lastDepth  float64
	depths     int
}

func (m *recordingEngineMetrics) PublishTaskDispatched(_ context.Context, _ string) error {
	m.dispatched++
	return nil
}

func (m *recordingEngineMetrics) PublishDispatchFailure(_ context.Context, _ string) error {
	m.failures++
	return nil
}

func (m *recordingEngineMetrics) PublishTickDuration(_ context.Context, _ float64) error {
	m.ticks++
	return nil
}

func (m *recordingEngineMetrics) PublishQueueDepth(_ context.Context, depth float64) error {
	m.depths++
	m.lastDepth = depth
	return nil
}

func mustParse(t *testing.T, yamlSrc string) *Schedule {
	t.Helper()
	sched, err := Parse([]byte(yamlSrc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return sched
}

func TestEngineTick_IntervalFiresImmediately(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: heartbeat\n    every: 30s\n    task: ops.heartbeat")
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)

	engine := NewEngineWithClock(sched, q, store, clock)
	wait := engine.Tick(context.Background())

	if len(q.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(q.published))
	}
	msg := q.published[0]
	if msg.Entry != "heartbeat" {
		t.Errorf("Entry = %s, want heartbeat", msg.Entry)
	}
	if msg.Task != "ops.heartbeat" {
		t.Errorf("Task = %s, want ops.heartbeat", msg.Task)
	}
	if !msg.ScheduledAt.Equal(now) {
		t.Errorf("ScheduledAt = %v, want %v", msg.ScheduledAt, now)
	}
	if wait != 30*time.Second {
		t.Errorf("wait = %v, want 30s", wait)
	}
	if store.records != 1 {
		t.Errorf("state records = %d, want 1", store.records)
	}
}

func TestEngineTick_IntervalNotDue(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: heartbeat\n    every: 30s\n    task: ops.heartbeat")
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	now := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	store.states["heartbeat"] = &state.EntryState{
		Name:         "heartbeat",
		LastDispatch: now.Add(-10 * time.Second),
	}
	clock := clockwork.NewFakeClockAt(now)

	engine := NewEngineWithClock(sched, q, store, clock)
	wait := engine.Tick(context.Background())

	if len(q.published) != 0 {
		t.Errorf("published %d messages, want 0", len(q.published))
	}
	if wait != 20*time.Second {
		t.Errorf("wait = %v, want 20s", wait)
	}
}

func TestEngineTick_SuccessiveIntervals(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: heartbeat\n    every: 30s\n    task: ops.heartbeat")
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	_ = engine.Tick(context.Background())
	if len(q.published) != 1 {
		t.Fatalf("published %d messages after first tick, want 1", len(q.published))
	}

	// Half an interval later nothing new is due.
	clock.Advance(15 * time.Second)
	wait := engine.Tick(context.Background())
	if len(q.published) != 1 {
		t.Errorf("published %d messages, want still 1", len(q.published))
	}
	if wait != 15*time.Second {
		t.Errorf("wait = %v, want 15s", wait)
	}

	// At the interval boundary the entry fires again.
	clock.Advance(15 * time.Second)
	_ = engine.Tick(context.Background())
	if len(q.published) != 2 {
		t.Errorf("published %d messages, want 2", len(q.published))
	}
}

func TestEngineTick_CronAlignsToNextBoundary(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: hourly\n    cron: \"0 * * * *\"\n    task: ops.hourly")
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	wait := engine.Tick(context.Background())

	// Never fired: no immediate dispatch, waits for the next boundary but
	// never longer than the idle cap.
	if len(q.published) != 0 {
		t.Errorf("published %d messages, want 0", len(q.published))
	}
	if wait != maxIdleWait {
		t.Errorf("wait = %v, want %v", wait, maxIdleWait)
	}
}

func TestEngineTick_CronFiresAfterLastDispatch(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: hourly\n    cron: \"0 * * * *\"\n    task: ops.hourly")
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	now := time.Date(2026, 2, 3, 10, 30, 0, 0, time.UTC)
	store.states["hourly"] = &state.EntryState{
		Name:         "hourly",
		LastDispatch: time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC),
	}
	clock := clockwork.NewFakeClockAt(now)

	engine := NewEngineWithClock(sched, q, store, clock)
	_ = engine.Tick(context.Background())

	// The 10:00 boundary passed since the last dispatch at 09:00.
	if len(q.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(q.published))
	}
	if q.published[0].Task != "ops.hourly" {
		t.Errorf("Task = %s, want ops.hourly", q.published[0].Task)
	}
}

func TestEngineTick_DispatchFailure(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: heartbeat\n    every: 30s\n    task: ops.heartbeat")
	q := &fakeEngineQueue{publishErr: errors.New("stream unavailable")}
	store := newFakeEngineStore()
	metrics := &recordingEngineMetrics{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	engine.SetMetrics(metrics)
	wait := engine.Tick(context.Background())

	if store.records != 0 {
		t.Errorf("state records = %d, want 0 after failed dispatch", store.records)
	}
	if metrics.failures != 1 {
		t.Errorf("failure metrics = %d, want 1", metrics.failures)
	}
	if metrics.dispatched != 0 {
		t.Errorf("dispatched metrics = %d, want 0", metrics.dispatched)
	}
	if wait != dispatchRetryDelay {
		t.Errorf("wait = %v, want %v", wait, dispatchRetryDelay)
	}
}

func TestEngineTick_FailureDoesNotAbortPass(t *testing.T) {
	sched := mustParse(t, `entries:
  - name: heartbeat
    every: 30s
    task: ops.heartbeat
  - name: rollup
    every: 1m
    task: reports.rollup`)
	q := &fakeEngineQueue{publishErr: errors.New("stream unavailable")}
	store := newFakeEngineStore()
	metrics := &recordingEngineMetrics{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	engine.SetMetrics(metrics)
	_ = engine.Tick(context.Background())

	// Both entries were attempted despite the first one failing.
	if metrics.failures != 2 {
		t.Errorf("failure metrics = %d, want 2", metrics.failures)
	}
}

func TestEngineTick_StateErrorSkipsEntry(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: heartbeat\n    every: 30s\n    task: ops.heartbeat")
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	store.getErr = errors.New("store unavailable")
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	wait := engine.Tick(context.Background())

	if len(q.published) != 0 {
		t.Errorf("published %d messages, want 0 when state is unreadable", len(q.published))
	}
	if wait != dispatchRetryDelay {
		t.Errorf("wait = %v, want %v", wait, dispatchRetryDelay)
	}
}

func TestEngineTick_DisabledEntriesSkipped(t *testing.T) {
	sched := mustParse(t, `entries:
  - name: heartbeat
    every: 30s
    task: ops.heartbeat
    disabled: true`)
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	wait := engine.Tick(context.Background())

	if len(q.published) != 0 {
		t.Errorf("published %d messages, want 0", len(q.published))
	}
	if wait != maxIdleWait {
		t.Errorf("wait = %v, want %v", wait, maxIdleWait)
	}
}

func TestEngineTick_EmptySchedule(t *testing.T) {
	sched := &Schedule{}
	engine := NewEngineWithClock(sched, &fakeEngineQueue{}, newFakeEngineStore(),
		clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)))

	if wait := engine.Tick(context.Background()); wait != maxIdleWait {
		t.Errorf("wait = %v, want %v", wait, maxIdleWait)
	}
}

func TestEngineTick_WaitIsMinimumAcrossEntries(t *testing.T) {
	sched := mustParse(t, `entries:
  - name: fast
    every: 30s
    task: ops.fast
  - name: slow
    every: 45s
    task: ops.slow`)
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	wait := engine.Tick(context.Background())

	if len(q.published) != 2 {
		t.Fatalf("published %d messages, want 2", len(q.published))
	}
	if wait != 30*time.Second {
		t.Errorf("wait = %v, want 30s", wait)
	}
}

func TestEngineTick_WaitCappedAtMaxIdle(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: slow\n    every: 10m\n    task: ops.slow")
	q := &fakeEngineQueue{}
	store := newFakeEngineStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	wait := engine.Tick(context.Background())

	if len(q.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(q.published))
	}
	if wait != maxIdleWait {
		t.Errorf("wait = %v, want %v", wait, maxIdleWait)
	}
}

func TestEngineTick_PublishesMetrics(t *testing.T) {
	sched := mustParse(t, "entries:\n  - name: heartbeat\n    every: 30s\n    task: ops.heartbeat")
	q := &fakeEngineQueue{depth: 4}
	store := newFakeEngineStore()
	metrics := &recordingEngineMetrics{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))

	engine := NewEngineWithClock(sched, q, store, clock)
	engine.SetMetrics(metrics)
	_ = engine.Tick(context.Background())

	if metrics.dispatched != 1 {
		t.Errorf("dispatched metrics = %d, want 1", metrics.dispatched)
	}
	if metrics.ticks != 1 {
		t.Errorf("tick duration metrics = %d, want 1", metrics.ticks)
	}
	if metrics.depths != 1 {
		t.Errorf("queue depth metrics = %d, want 1", metrics.depths)
	}
	if metrics.lastDepth != 4 {
		t.Errorf("queue depth = %v, want 4", metrics.lastDepth)
	}
}

func TestEngineTick_DepthErrorSkipsGauge(t *testing.T) {
	sched := &Schedule{}
	q := &fakeEngineQueue{depthErr: errors.New("stream unavailable")}
	metrics := &recordingEngineMetrics{}

	engine := NewEngineWithClock(sched, q, newFakeEngineStore(),
		clockwork.NewFakeClockAt(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)))
	engine.SetMetrics(metrics)
	_ = engine.Tick(context.Background())

	if metrics.depths != 0 {
		t.Errorf("queue depth metrics = %d, want 0 on depth error", metrics.depths)
	}
	if metrics.ticks != 1 {
		t.Errorf("tick duration metrics = %d, want 1", metrics.ticks)
	}
}
