package event

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/fakeyudi/pulse/internal/logging"
	"github.com/fakeyudi/pulse/internal/pulse"
)

// Throttle is the minimum spacing between tracked events.
const Throttle = 2 * time.Second

// Tracker is what the dispatcher feeds.
type Tracker interface {
	TrackActivity(ctx context.Context, snap *pulse.Snapshot, state pulse.State) error
}

// Dispatcher consumes events and calls the tracker at most once per Throttle.
// Debug transitions are always tracked.
type Dispatcher struct {
	tracker    Tracker
	clock      quartz.Clock
	logger     *logging.Logger
	throttle   time.Duration
	onActivity func()

	mu          sync.Mutex
	debugging   bool
	lastTracked time.Time
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

func WithClock(c quartz.Clock) DispatcherOption     { return func(d *Dispatcher) { d.clock = c } }
func WithLogger(l *logging.Logger) DispatcherOption { return func(d *Dispatcher) { d.logger = l } }

// WithThrottle overrides Throttle.
func WithThrottle(t time.Duration) DispatcherOption { return func(d *Dispatcher) { d.throttle = t } }

// OnActivity registers a hook called for every event, throttled or not.
func OnActivity(fn func()) DispatcherOption { return func(d *Dispatcher) { d.onActivity = fn } }

func NewDispatcher(tracker Tracker, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		tracker:  tracker,
		clock:    quartz.NewReal(),
		logger:   logging.Nop(),
		throttle: Throttle,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run handles events from in until ctx is done or in is closed.
func (d *Dispatcher) Run(ctx context.Context, in <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(ctx, ev)
		}
	}
}

// Handle processes one event and reports whether it reached the tracker.
// Tracking errors are logged, never returned.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) bool {
	if d.onActivity != nil {
		d.onActivity()
	}

	d.mu.Lock()
	now := d.clock.Now()
	switch ev.Kind {
	case DebugStarted:
		d.debugging = true
	case DebugEnded:
		d.debugging = false
	default:
		if !d.lastTracked.IsZero() && now.Sub(d.lastTracked) < d.throttle {
			d.mu.Unlock()
			return false
		}
	}
	state := pulse.StateCoding
	if d.debugging {
		state = pulse.StateDebugging
	}
	if ev.Snapshot == nil {
		d.mu.Unlock()
		return false
	}
	d.lastTracked = now
	d.mu.Unlock()

	if ev.Snapshot.FileName != "" {
		ctx = logging.WithEntity(ctx, ev.Snapshot.FileName)
	}
	if err := d.tracker.TrackActivity(ctx, ev.Snapshot, state); err != nil {
		logging.LogTrackingFailed(ctx, d.logger, err)
	}
	return true
}

// Debugging reports whether a debug session is in progress.
func (d *Dispatcher) Debugging() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.debugging
}
