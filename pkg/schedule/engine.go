package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/Shavakan/beat-fleet/pkg/logging"
	"github.com/Shavakan/beat-fleet/pkg/queue"
	"github.com/Shavakan/beat-fleet/pkg/state"
	"github.com/Shavakan/beat-fleet/pkg/tracing"
)

var engineLog = logging.WithComponent(logging.LogTypeSchedule, "engine")

const (
	// maxIdleWait bounds how long the engine asks the host loop to sleep
	// when no entry is due soon.
	maxIdleWait = 5 * time.Minute

	// dispatchRetryDelay is how long to wait before reconsidering an entry
	// whose dispatch failed.
	dispatchRetryDelay = 30 * time.Second
)

// Queue defines the transport operations the engine needs.
type Queue interface {
	Publish(ctx context.Context, task *queue.TaskMessage) error
	Depth(ctx context.Context) (int64, error)
}

// StateStore defines the run-state operations the engine needs.
type StateStore interface {
	GetEntryState(ctx context.Context, name string) (*state.EntryState, error)
	RecordDispatch(ctx context.Context, name, task string, at time.Time) error
}

// Metrics defines the metrics operations the engine needs.
type Metrics interface {
	PublishTaskDispatched(ctx context.Context, task string) error
	PublishDispatchFailure(ctx context.Context, task string) error
	PublishTickDuration(ctx context.Context, seconds float64) error
	PublishQueueDepth(ctx context.Context, depth float64) error
}

// Engine evaluates the schedule and dispatches due entries to the queue.
// It is driven by the host loop through Tick and is not safe for concurrent
// use.
type Engine struct {
	sched   *Schedule
	queue   Queue
	store   StateStore
	metrics Metrics
	tracer  *tracing.DispatchTracer
	clock   clockwork.Clock

	// anchors records when each entry was first seen this run, so entries
	// with no persisted state get a stable reference point.
	anchors map[string]time.Time
}

// NewEngine creates a dispatch engine over a validated schedule.
func NewEngine(sched *Schedule, q Queue, store StateStore) *Engine {
	return NewEngineWithClock(sched, q, store, clockwork.NewRealClock())
}

// NewEngineWithClock creates an engine with an injected clock (for testing).
func NewEngineWithClock(sched *Schedule, q Queue, store StateStore, clock clockwork.Clock) *Engine {
	return &Engine{
		sched:   sched,
		queue:   q,
		store:   store,
		clock:   clock,
		anchors: make(map[string]time.Time),
	}
}

// SetMetrics sets the metrics publisher for dispatch accounting.
func (e *Engine) SetMetrics(m Metrics) {
	e.metrics = m
}

// SetTracer sets the dispatch tracer.
func (e *Engine) SetTracer(t *tracing.DispatchTracer) {
	e.tracer = t
}

// Tick runs one dispatch pass: every due entry is published to the queue and
// recorded in the state store. It returns how long the host loop may sleep
// before the next entry comes due, capped at maxIdleWait.
func (e *Engine) Tick(ctx context.Context) time.Duration {
	start := e.clock.Now()

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartTickSpan(ctx)
		defer span.End()
	}

	next := start.Add(maxIdleWait)
	for _, entry := range e.sched.Enabled() {
		due := e.nextDue(ctx, entry, start)
		if !due.After(start) {
			if e.dispatch(ctx, entry, start) {
				due = entry.NextDue(start, start)
			} else {
				due = start.Add(dispatchRetryDelay)
			}
		}
		if due.Before(next) {
			next = due
		}
	}

	e.publishTickMetrics(ctx, start)

	wait := next.Sub(start)
	if wait < 0 {
		wait = 0
	}
	return wait
}

// nextDue computes when an entry should next fire, consulting persisted
// run-state. State read failures skip the entry for one pass rather than
// risking a duplicate dispatch.
func (e *Engine) nextDue(ctx context.Context, entry *Entry, now time.Time) time.Time {
	anchor, ok := e.anchors[entry.Name]
	if !ok {
		anchor = now
		e.anchors[entry.Name] = now
	}

	st, err := e.store.GetEntryState(ctx, entry.Name)
	if err != nil {
		engineLog.Warn("failed to load entry state, skipping entry this pass",
			slog.String(logging.KeyEntry, entry.Name),
			slog.String(logging.KeyError, err.Error()))
		return now.Add(dispatchRetryDelay)
	}

	var last time.Time
	if st != nil {
		last = st.LastDispatch
	}
	return entry.NextDue(last, anchor)
}

// dispatch publishes one due entry. Returns false if the publish failed;
// failures never abort the pass.
func (e *Engine) dispatch(ctx context.Context, entry *Entry, now time.Time) bool {
	dctx := ctx
	if e.tracer != nil {
		var span trace.Span
		dctx, span = e.tracer.StartDispatchSpan(ctx, entry.Name, entry.Task)
		defer span.End()
	}

	msg := &queue.TaskMessage{
		Entry:       entry.Name,
		Task:        entry.Task,
		Payload:     entry.Payload,
		ScheduledAt: now.UTC(),
	}
	if spanCtx := trace.SpanFromContext(dctx).SpanContext(); spanCtx.IsValid() {
		msg.TraceID = spanCtx.TraceID().String()
		msg.SpanID = spanCtx.SpanID().String()
	}

	if err := e.queue.Publish(dctx, msg); err != nil {
		engineLog.Error("failed to dispatch entry",
			slog.String(logging.KeyEntry, entry.Name),
			slog.String(logging.KeyTask, entry.Task),
			slog.String(logging.KeyError, err.Error()))
		tracing.RecordError(dctx, err)
		if e.metrics != nil {
			_ = e.metrics.PublishDispatchFailure(dctx, entry.Task)
		}
		return false
	}

	if err := e.store.RecordDispatch(dctx, entry.Name, entry.Task, now); err != nil {
		engineLog.Warn("failed to record dispatch state",
			slog.String(logging.KeyEntry, entry.Name),
			slog.String(logging.KeyError, err.Error()))
	}
	if e.metrics != nil {
		_ = e.metrics.PublishTaskDispatched(dctx, entry.Task)
	}

	engineLog.Info("dispatched entry",
		slog.String(logging.KeyEntry, entry.Name),
		slog.String(logging.KeyTask, entry.Task))
	return true
}

func (e *Engine) publishTickMetrics(ctx context.Context, start time.Time) {
	if e.metrics == nil {
		return
	}

	elapsed := e.clock.Now().Sub(start)
	_ = e.metrics.PublishTickDuration(ctx, elapsed.Seconds())

	depth, err := e.queue.Depth(ctx)
	if err != nil {
		engineLog.Debug("failed to read queue depth",
			slog.String(logging.KeyError, err.Error()))
		return
	}
	_ = e.metrics.PublishQueueDepth(ctx, float64(depth))
}
