// Package daemon wires event sources, the tracker and the sync engine into
// one long-running process.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/pulse/internal/event"
	"github.com/fakeyudi/pulse/internal/idle"
	"github.com/fakeyudi/pulse/internal/logging"
	"github.com/fakeyudi/pulse/internal/metrics"
	"github.com/fakeyudi/pulse/internal/store"
	"github.com/fakeyudi/pulse/internal/syncer"
	"github.com/fakeyudi/pulse/internal/tracking"
)

const (
	ReconcileInterval = 30 * time.Second
	StatusInterval    = time.Second
	InactivityPause   = time.Hour
	stopTimeout       = 30 * time.Second
)

// Tracker is the tracking surface the daemon drives.
type Tracker interface {
	event.Tracker
	Reconcile(ctx context.Context) error
	State() tracking.State
	ActivityInfo() tracking.ActivityInfo
}

// Syncer is the sync surface the daemon drives.
type Syncer interface {
	ScheduleSync(ctx context.Context)
	StopSync(ctx context.Context) error
	SyncInfo(ctx context.Context) (syncer.Info, error)
}

// Config configures a Daemon.
type Config struct {
	Sources     []event.Source
	StatusPath  string // empty disables the status file
	MetricsAddr string // empty disables /metrics
}

// Status is the document written to StatusPath for editor status bars.
type Status struct {
	TodayTotal   int64            `json:"todayTotal"`
	TodayText    string           `json:"todayText"`
	IsActive     bool             `json:"isActive"`
	LastActivity int64            `json:"lastActivity"`
	Entity       string           `json:"entity,omitempty"`
	Debugging    bool             `json:"debugging"`
	Paused       bool             `json:"paused"`
	Pending      int              `json:"pending"`
	Sync         store.SyncStatus `json:"sync"`
	UpdatedAt    int64            `json:"updatedAt"`
}

type Daemon struct {
	cfg        Config
	tracker    Tracker
	syncer     Syncer
	dispatcher *event.Dispatcher
	fs         afero.Fs
	clock      quartz.Clock
	logger     *logging.Logger
	metrics    *metrics.Metrics

	mu           sync.Mutex
	lastActivity time.Time
	paused       bool
	syncInfo     syncer.Info
}

// Option configures a Daemon.
type Option func(*Daemon)

func WithClock(c quartz.Clock) Option       { return func(d *Daemon) { d.clock = c } }
func WithLogger(l *logging.Logger) Option   { return func(d *Daemon) { d.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(d *Daemon) { d.metrics = m } }
func WithFs(fs afero.Fs) Option             { return func(d *Daemon) { d.fs = fs } }

func New(cfg Config, tracker Tracker, s Syncer, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		tracker: tracker,
		syncer:  s,
		fs:      afero.NewOsFs(),
		clock:   quartz.NewReal(),
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.dispatcher = event.NewDispatcher(tracker,
		event.WithClock(d.clock),
		event.WithLogger(d.logger),
		event.OnActivity(d.touch),
	)
	return d
}

// Run blocks until ctx is cancelled, a component fails, or every source has
// finished. On the way out it makes one final sync attempt.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.lastActivity = d.clock.Now()
	d.paused = false
	d.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	events := make(chan event.Event, 64)

	g.Go(func() error {
		sg, sctx := errgroup.WithContext(gctx)
		for _, src := range d.cfg.Sources {
			sg.Go(func() error { return src.Run(sctx, events) })
		}
		err := sg.Wait()
		close(events)
		return err
	})
	g.Go(func() error {
		// The dispatcher drains events before returning; with no sources
		// left there is nothing more to observe.
		defer cancel()
		return d.dispatcher.Run(gctx, events)
	})

	d.syncer.ScheduleSync(gctx)

	reconcile := d.clock.TickerFunc(gctx, ReconcileInterval, func() error {
		d.reconcile(gctx)
		return nil
	}, "daemon", "reconcile")
	g.Go(func() error { return ignoreCanceled(reconcile.Wait()) })

	if d.cfg.StatusPath != "" {
		d.refresh(gctx)
		status := d.clock.TickerFunc(gctx, StatusInterval, func() error {
			d.refresh(gctx)
			return nil
		}, "daemon", "status")
		g.Go(func() error { return ignoreCanceled(status.Wait()) })
	}

	if d.cfg.MetricsAddr != "" && d.metrics != nil {
		g.Go(func() error { return d.metrics.Serve(gctx, d.cfg.MetricsAddr) })
	}

	d.logger.Info("daemon started", "sources", len(d.cfg.Sources))
	err := ignoreCanceled(g.Wait())

	stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer stop()
	if serr := d.syncer.StopSync(stopCtx); serr != nil {
		d.logger.Warn("final sync failed", "error", serr.Error())
	}
	if d.cfg.StatusPath != "" {
		if rerr := d.fs.Remove(d.cfg.StatusPath); rerr != nil && !errors.Is(rerr, afero.ErrFileNotFound) {
			d.logger.Debug("removing status file", "error", rerr.Error())
		}
	}
	d.logger.Info("daemon stopped")
	return err
}

// touch records activity and lifts an inactivity pause.
func (d *Daemon) touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastActivity = d.clock.Now()
	if d.paused {
		d.paused = false
		d.logger.Info("activity resumed, reconciliation restarted")
	}
}

// Paused reports whether reconciliation is suspended for inactivity.
func (d *Daemon) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

func (d *Daemon) reconcile(ctx context.Context) {
	d.mu.Lock()
	if !d.paused && d.clock.Since(d.lastActivity) >= InactivityPause {
		d.paused = true
		d.logger.Info("no activity, pausing reconciliation", "idle_for", InactivityPause.String())
	}
	paused := d.paused
	d.mu.Unlock()
	if paused {
		return
	}
	if err := d.tracker.Reconcile(ctx); err != nil && ctx.Err() == nil {
		d.logger.WarnContext(ctx, "reconcile failed", "error", err.Error())
	}
}

func (d *Daemon) refresh(ctx context.Context) {
	now := d.clock.Now().UnixMilli()
	state := d.tracker.State()
	total := tracking.DisplayTotal(state, now)
	info := d.tracker.ActivityInfo()

	d.mu.Lock()
	paused := d.paused
	d.mu.Unlock()
	// Sync status lives in the shared store; skip the read while paused.
	if !paused {
		si, err := d.syncer.SyncInfo(ctx)
		if err != nil {
			if ctx.Err() == nil {
				d.logger.DebugContext(ctx, "reading sync info", "error", err.Error())
			}
		} else {
			d.mu.Lock()
			d.syncInfo = si
			d.mu.Unlock()
		}
	}
	d.mu.Lock()
	si := d.syncInfo
	d.mu.Unlock()

	st := Status{
		TodayTotal:   total,
		TodayText:    idle.Format(total),
		IsActive:     info.IsActive,
		LastActivity: info.LastActivity,
		Entity:       info.Entity,
		Debugging:    d.dispatcher.Debugging(),
		Paused:       paused,
		Pending:      si.Pending,
		Sync:         si.Status,
		UpdatedAt:    now,
	}
	d.metrics.SetTodayTotal(total)
	d.metrics.SetQueueDepth(si.Pending)
	if err := writeStatus(d.fs, d.cfg.StatusPath, st); err != nil {
		d.logger.Warn("writing status file", "error", err.Error())
	}
}

// writeStatus replaces path atomically.
func writeStatus(fs afero.Fs, path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename status file: %w", err)
	}
	return nil
}

// ReadStatus loads the status document written by a running daemon.
func ReadStatus(fs afero.Fs, path string) (Status, error) {
	var st Status
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse status file %s: %w", path, err)
	}
	return st, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
