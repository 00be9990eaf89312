// Package syncer drains the durable queue to the backend: chronological
// batches, per-batch clearing, bounded retry with exponential backoff and
// a single-flight guard.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fakeyudi/pulse/internal/api"
	"github.com/fakeyudi/pulse/internal/logging"
	"github.com/fakeyudi/pulse/internal/metrics"
	"github.com/fakeyudi/pulse/internal/pulse"
	"github.com/fakeyudi/pulse/internal/store"
	"github.com/fakeyudi/pulse/internal/tracing"
)

// Defaults for Config.
const (
	DefaultInterval         = 5 * time.Minute
	DefaultBatchSize        = 3000
	DefaultMaxRetryAttempts = 3
	DefaultInitialBackoff   = time.Second
)

// MaxBackoff caps the delay between two attempts.
const MaxBackoff = time.Hour

// ErrNoCredential is returned when no credential is configured. It is not
// retried.
var ErrNoCredential = errors.New("no credential configured")

// BatchError reports the batch that failed within one attempt.
type BatchError struct {
	Index int // zero-based batch index within the attempt
	Size  int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d items): %v", e.Index+1, e.Size, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Sender delivers one envelope.
type Sender interface {
	Send(ctx context.Context, credential string, env api.Envelope) (*api.Response, error)
}

// Credentials yields the credential and prompts the user when there is none.
type Credentials interface {
	Credential(ctx context.Context) (string, error)
	Prompt(ctx context.Context)
}

// Queue is the part of the durable queue the engine uses.
type Queue interface {
	PendingPulses(ctx context.Context) ([]pulse.Pulse, error)
	AggregatedPulses(ctx context.Context) ([]pulse.AggregatedPulse, error)
	ClearEntries(ctx context.Context, entries []pulse.Entry) error
	PendingCount(ctx context.Context) (int, error)
	SyncStatus(ctx context.Context) (store.SyncStatus, error)
	UpdateSyncStatus(ctx context.Context, fn func(*store.SyncStatus)) error
}

// Config tunes the engine. Zero fields take the defaults.
type Config struct {
	Interval         time.Duration
	BatchSize        int
	MaxRetryAttempts int
	InitialBackoff   time.Duration
	Timezone         string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	return c
}

// Info is the read-only view returned by SyncInfo.
type Info struct {
	Status    store.SyncStatus `json:"status"`
	Pending   int              `json:"pending"`
	InFlight  bool             `json:"inFlight"`
	Scheduled bool             `json:"scheduled"`
}

// Engine is the sync engine.
type Engine struct {
	cfg     Config
	queue   Queue
	sender  Sender
	creds   Credentials
	clock   quartz.Clock
	logger  *logging.Logger
	tracer  *tracing.Tracer
	metrics *metrics.Metrics

	inFlight atomic.Bool

	mu       sync.Mutex
	cancel   context.CancelFunc
	schedule quartz.Waiter
}

// Option configures an Engine.
type Option func(*Engine)

func WithClock(c quartz.Clock) Option       { return func(e *Engine) { e.clock = c } }
func WithLogger(l *logging.Logger) Option   { return func(e *Engine) { e.logger = l } }
func WithTracer(t *tracing.Tracer) Option   { return func(e *Engine) { e.tracer = t } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New returns an Engine.
func New(cfg Config, queue Queue, sender Sender, creds Credentials, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg.withDefaults(),
		queue:  queue,
		sender: sender,
		creds:  creds,
		clock:  quartz.NewReal(),
		logger: logging.Nop(),
		tracer: tracing.Noop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncPulses drains the queue. A call made while another is in flight
// returns nil immediately without doing anything.
func (e *Engine) SyncPulses(ctx context.Context) (err error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		e.logger.DebugContext(ctx, "sync already in flight, dropping request")
		return nil
	}
	defer e.inFlight.Store(false)

	ctx = logging.WithSyncAttempt(ctx, uuid.NewString())
	ctx, span := e.tracer.Start(ctx, "syncer.SyncPulses")
	defer func() { tracing.End(span, err) }()

	raw, err := e.queue.PendingPulses(ctx)
	if err != nil {
		return fmt.Errorf("reading pending pulses: %w", err)
	}
	aggs, err := e.queue.AggregatedPulses(ctx)
	if err != nil {
		return fmt.Errorf("reading aggregated pulses: %w", err)
	}
	if len(raw) == 0 && len(aggs) == 0 {
		e.metrics.SetQueueDepth(0)
		return nil
	}

	credential, err := e.creds.Credential(ctx)
	if err != nil {
		return fmt.Errorf("reading credential: %w", err)
	}
	if credential == "" {
		e.creds.Prompt(ctx)
		pending := len(raw) + len(aggs)
		e.recordFailure(ctx, pending, ErrNoCredential)
		e.metrics.SyncResult(metrics.ResultSkipped)
		return ErrNoCredential
	}

	started := e.clock.Now()
	remaining := pulse.Merge(raw, aggs)
	total := len(remaining)
	span.SetAttributes(attribute.Int("items", total))

	bo := e.newBackOff()
	var lastErr error
	for attempt := 1; ; attempt++ {
		logging.LogSyncAttempt(ctx, e.logger, attempt, len(remaining), batchCount(len(remaining), e.cfg.BatchSize))

		sent, err := e.sendAll(ctx, credential, remaining)
		remaining = remaining[sent:]
		if err == nil {
			e.recordSuccess(ctx)
			e.metrics.SyncResult(metrics.ResultSuccess)
			logging.LogSyncComplete(ctx, e.logger, total, e.clock.Since(started))
			return nil
		}
		lastErr = err

		if attempt >= e.cfg.MaxRetryAttempts {
			break
		}
		delay := bo.NextBackOff()
		e.metrics.SyncResult(metrics.ResultRetry)
		logging.LogSyncRetry(ctx, e.logger, attempt, err, delay)
		if err := e.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		pending = len(remaining)
	}
	e.recordFailure(ctx, pending, lastErr)
	e.metrics.SyncResult(metrics.ResultFailed)
	logging.LogSyncFailed(ctx, e.logger, e.cfg.MaxRetryAttempts, pending, lastErr)
	return fmt.Errorf("sync failed: %w", lastErr)
}

// sendAll sends entries in order, clearing each batch from the queue once
// the backend accepts it. It returns how many entries were sent and
// cleared before the first failure.
func (e *Engine) sendAll(ctx context.Context, credential string, entries []pulse.Entry) (int, error) {
	sent := 0
	for i := 0; sent < len(entries); i++ {
		end := min(sent+e.cfg.BatchSize, len(entries))
		batch := entries[sent:end]

		env := api.NewEnvelope(batch, e.clock.Now(), e.cfg.Timezone)
		if _, err := e.sender.Send(ctx, credential, env); err != nil {
			return sent, &BatchError{Index: i, Size: len(batch), Err: err}
		}
		// The backend has the batch; a failed clear leaves it queued for
		// the next sync instead of resending it within this one.
		if err := e.queue.ClearEntries(ctx, batch); err != nil {
			e.logger.WarnContext(ctx, "clearing delivered batch",
				"batch", i+1,
				"items", len(batch),
				"error", err.Error(),
			)
		}
		e.metrics.BatchSent()
		sent = end
	}
	return sent, nil
}

// newBackOff yields InitialBackoff * 2^n, capped at MaxBackoff, with no
// jitter and no overall deadline; the attempt count bounds the loop.
func (e *Engine) newBackOff() *backoff.ExponentialBackOff {
	ceiling := e.cfg.InitialBackoff
	for i := 0; i < e.cfg.MaxRetryAttempts && ceiling > 0 && ceiling < MaxBackoff; i++ {
		ceiling *= 2
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.InitialBackoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = min(ceiling, MaxBackoff)
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := e.clock.NewTimer(d, "syncer", "backoff")
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *Engine) recordSuccess(ctx context.Context) {
	now := e.clock.Now()
	err := e.queue.UpdateSyncStatus(ctx, func(s *store.SyncStatus) {
		s.LastSyncTime = now.UnixMilli()
		s.NextSyncTime = now.Add(e.cfg.Interval).UnixMilli()
		s.SyncCount++
		s.IsOnline = true
		s.APIStatus = store.APIStatusOK
		s.PendingPulses = 0
		s.LastError = ""
	})
	if err != nil {
		e.logger.WarnContext(ctx, "recording sync status", "error", err.Error())
	}
	e.metrics.SetQueueDepth(0)
}

func (e *Engine) recordFailure(ctx context.Context, pending int, cause error) {
	err := e.queue.UpdateSyncStatus(ctx, func(s *store.SyncStatus) {
		s.IsOnline = false
		s.APIStatus = store.APIStatusError
		s.PendingPulses = pending
		s.LastError = cause.Error()
	})
	if err != nil {
		e.logger.WarnContext(ctx, "recording sync status", "error", err.Error())
	}
	e.metrics.SetQueueDepth(pending)
}

// ScheduleSync starts the interval timer. Calling it while a schedule is
// active does nothing.
func (e *Engine) ScheduleSync(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.schedule = e.clock.TickerFunc(ctx, e.cfg.Interval, func() error {
		if err := e.SyncPulses(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.WarnContext(ctx, "scheduled sync failed", "error", err.Error())
		}
		return nil
	}, "syncer", "schedule")
	e.logger.DebugContext(ctx, "sync scheduled", "interval", e.cfg.Interval.String())
}

// StopSync cancels the interval timer and makes one final drain attempt.
func (e *Engine) StopSync(ctx context.Context) error {
	e.mu.Lock()
	cancel, waiter := e.cancel, e.schedule
	e.cancel, e.schedule = nil, nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		_ = waiter.Wait()
	}
	return e.SyncPulses(ctx)
}

// SyncInfo returns the stored status with the live pending count.
func (e *Engine) SyncInfo(ctx context.Context) (Info, error) {
	status, err := e.queue.SyncStatus(ctx)
	if err != nil {
		return Info{}, err
	}
	pending, err := e.queue.PendingCount(ctx)
	if err != nil {
		return Info{}, err
	}
	e.mu.Lock()
	scheduled := e.cancel != nil
	e.mu.Unlock()
	return Info{Status: status, Pending: pending, InFlight: e.inFlight.Load(), Scheduled: scheduled}, nil
}

func batchCount(n, size int) int {
	return (n + size - 1) / size
}
