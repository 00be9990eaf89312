package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/logging"
	"github.com/fakeyudi/pulse/internal/metrics"
	"github.com/fakeyudi/pulse/internal/pulse"
	"github.com/fakeyudi/pulse/internal/report"
	"github.com/fakeyudi/pulse/internal/tracing"
)

// Queue is the durable storage the tracker persists to.
type Queue interface {
	SavePulses(ctx context.Context, pulses []pulse.Pulse) error
	SaveAggregatedPulses(ctx context.Context, aggs []pulse.AggregatedPulse) error
	PendingPulses(ctx context.Context) ([]pulse.Pulse, error)
	AggregatedPulses(ctx context.Context) ([]pulse.AggregatedPulse, error)
	TodayTotal(ctx context.Context) (int64, error)
	SaveTodayTotal(ctx context.Context, total int64) error
}

// ActivityInfo is a diagnostic snapshot of the state machine.
type ActivityInfo struct {
	LastActivity  int64         `json:"lastActivity"`
	IsActive      bool          `json:"isActive"`
	IdleThreshold time.Duration `json:"idleThreshold"`
	ActiveStart   int64         `json:"activeStart"`
	Entity        string        `json:"entity,omitempty"`
	State         pulse.State   `json:"state,omitempty"`
}

// Tracker owns the current State.
type Tracker struct {
	builder  *pulse.Builder
	queue    Queue
	clock    quartz.Clock
	timezone string
	logger   *logging.Logger
	tracer   *tracing.Tracer
	metrics  *metrics.Metrics

	mu    sync.Mutex
	state State
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithClock(c quartz.Clock) Option       { return func(t *Tracker) { t.clock = c } }
func WithTimezone(tz string) Option         { return func(t *Tracker) { t.timezone = tz } }
func WithLogger(l *logging.Logger) Option   { return func(t *Tracker) { t.logger = l } }
func WithTracer(tr *tracing.Tracer) Option  { return func(t *Tracker) { t.tracer = tr } }
func WithMetrics(m *metrics.Metrics) Option { return func(t *Tracker) { t.metrics = m } }

// New returns a Tracker with an empty state.
func New(builder *pulse.Builder, queue Queue, opts ...Option) *Tracker {
	t := &Tracker{
		builder:  builder,
		queue:    queue,
		clock:    quartz.NewReal(),
		timezone: "UTC",
		logger:   logging.Nop(),
		tracer:   tracing.Noop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// TrackActivity builds a pulse from snap, folds it, aggregates if due and
// persists the results. A nil snap means no editor has focus and is a no-op.
// On a persistence error the in-memory state is left unchanged.
func (t *Tracker) TrackActivity(ctx context.Context, snap *pulse.Snapshot, state pulse.State) (err error) {
	if snap == nil {
		return nil
	}
	ctx = logging.WithEntity(ctx, snap.FileName)
	ctx, span := t.tracer.Start(ctx, "tracking.TrackActivity",
		attribute.String("entity", snap.FileName),
		attribute.String("state", string(state)),
	)
	defer func() { tracing.End(span, err) }()

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	nowMs := now.UnixMilli()
	cur := t.state
	if cur.Day == "" {
		durable, err := t.queue.TodayTotal(ctx)
		if err != nil {
			return fmt.Errorf("reading today total: %w", err)
		}
		cur = AdoptTotal(Rollover(cur, nowMs), durable)
	}

	p := t.builder.Build(ctx, *snap, state, cur.Baseline(snap.FileName), now)
	next := Fold(cur, p, nowMs)
	next, aggs := MaybeAggregate(next, nowMs)

	if err := t.queue.SavePulses(ctx, []pulse.Pulse{p}); err != nil {
		return fmt.Errorf("persisting pulse: %w", err)
	}
	if len(aggs) > 0 {
		if err := t.queue.SaveAggregatedPulses(ctx, aggs); err != nil {
			return fmt.Errorf("persisting aggregated pulses: %w", err)
		}
		for _, a := range aggs {
			next = DropAggregated(next, a.StartTime)
		}
		span.SetAttributes(attribute.Int("aggregated", len(aggs)))
	}
	if err := t.queue.SaveTodayTotal(ctx, next.TodayTotal); err != nil {
		return fmt.Errorf("persisting today total: %w", err)
	}

	t.state = next
	t.metrics.Tracked(len(aggs))
	t.metrics.SetTodayTotal(next.TodayTotal)
	t.logger.DebugContext(ctx, "pulse tracked",
		"time", p.Time,
		"additions", p.LineAdditions,
		"deletions", p.LineDeletions,
		"today_ms", next.TodayTotal,
	)
	return nil
}

// Reconcile adopts the durable today total if another process has recorded
// more. This is best-effort eventual consistency, not a lock.
func (t *Tracker) Reconcile(ctx context.Context) error {
	durable, err := t.queue.TodayTotal(ctx)
	if err != nil {
		return fmt.Errorf("reading today total: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now().UnixMilli()
	t.state = AdoptTotal(Rollover(t.state, now), durable)
	return nil
}

// TodayTotal returns today's active ms, current to now while active.
func (t *Tracker) TodayTotal(ctx context.Context) (int64, error) {
	if err := t.Reconcile(ctx); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return DisplayTotal(t.state, t.clock.Now().UnixMilli()), nil
}

// IsActive reports whether activity was seen within the idle threshold.
func (t *Tracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Active(t.state, t.clock.Now().UnixMilli())
}

// ActivityInfo returns a diagnostic snapshot.
func (t *Tracker) ActivityInfo() ActivityInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now().UnixMilli()
	s := Expire(t.state, now)
	info := ActivityInfo{
		LastActivity:  s.LastActivity,
		IsActive:      Active(s, now),
		IdleThreshold: idle.IdleThreshold,
		ActiveStart:   s.ActiveStart,
	}
	if s.LastPulse != nil {
		info.Entity = s.LastPulse.Entity
		info.State = s.LastPulse.State
	}
	return info
}

// PulseSummary returns today's pulses: in-memory pending records plus
// durable records not already present, bounded to [midnight, now].
func (t *Tracker) PulseSummary(ctx context.Context) (*report.Summary, error) {
	if err := t.Reconcile(ctx); err != nil {
		return nil, err
	}
	raw, err := t.queue.PendingPulses(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading pending pulses: %w", err)
	}
	aggs, err := t.queue.AggregatedPulses(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading aggregated pulses: %w", err)
	}

	t.mu.Lock()
	s := t.state
	now := t.clock.Now()
	t.mu.Unlock()

	start := idle.Midnight(now)
	lo, hi := start.UnixMilli(), now.UnixMilli()

	seenRaw := make(map[int64]struct{})
	seenAgg := make(map[int64]struct{})
	var outRaw []pulse.Pulse
	var outAgg []pulse.AggregatedPulse

	addRaw := func(p pulse.Pulse) {
		if _, ok := seenRaw[p.Time]; ok || p.Time < lo || p.Time > hi {
			return
		}
		seenRaw[p.Time] = struct{}{}
		outRaw = append(outRaw, p.Stripped())
	}
	addAgg := func(a pulse.AggregatedPulse) {
		if _, ok := seenAgg[a.StartTime]; ok || a.EndTime < lo || a.StartTime > hi {
			return
		}
		seenAgg[a.StartTime] = struct{}{}
		outAgg = append(outAgg, a)
	}

	for _, a := range s.PendingAggregated {
		addAgg(a)
	}
	for _, p := range s.Pending {
		addRaw(p)
	}
	for _, a := range aggs {
		addAgg(a)
	}
	for _, p := range raw {
		addRaw(p)
	}

	return &report.Summary{
		Data:     pulse.Merge(outRaw, outAgg),
		Start:    start.Format(time.RFC3339),
		End:      now.Format(time.RFC3339),
		Timezone: t.timezone,
	}, nil
}
