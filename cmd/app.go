package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/coder/quartz"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/api"
	"github.com/fakeyudi/pulse/internal/auth"
	"github.com/fakeyudi/pulse/internal/config"
	"github.com/fakeyudi/pulse/internal/kv"
	"github.com/fakeyudi/pulse/internal/metrics"
	"github.com/fakeyudi/pulse/internal/pulse"
	"github.com/fakeyudi/pulse/internal/store"
	"github.com/fakeyudi/pulse/internal/syncer"
	"github.com/fakeyudi/pulse/internal/system"
	"github.com/fakeyudi/pulse/internal/tracing"
	"github.com/fakeyudi/pulse/internal/tracking"
)

// app is the object graph shared by the subcommands.
type app struct {
	backend  kv.Store
	queue    *store.Queue
	tracker  *tracking.Tracker
	engine   *syncer.Engine
	creds    *auth.Provider
	tracer   *tracing.Tracer
	metrics  *metrics.Metrics
	timezone string
}

// openApp builds the object graph for cfg. Callers must Close it.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	tracer, err := tracing.New(ctx, tracing.Config{
		ExporterType: tracing.ExporterType(cfg.Tracing.Exporter),
		OTLPEndpoint: cfg.Tracing.Endpoint,
		ServiceName:  "pulse",
		Output:       cmd.ErrOrStderr(),
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}

	clock := quartz.NewReal()
	tz := system.Timezone()
	m := metrics.New()
	queue := store.New(backend, clock)

	tracker := tracking.New(&pulse.Builder{System: system.New()}, queue,
		tracking.WithClock(clock),
		tracking.WithTimezone(tz),
		tracking.WithLogger(logger),
		tracking.WithTracer(tracer),
		tracking.WithMetrics(m),
	)

	creds := &auth.Provider{Store: queue, Out: cmd.ErrOrStderr(), Logger: logger}
	client := api.NewClient(cfg.APIURL)
	client.Timeout = cfg.Sync.RequestTimeout

	engine := syncer.New(syncer.Config{
		Interval:         cfg.Sync.Interval,
		BatchSize:        cfg.Sync.BatchSize,
		MaxRetryAttempts: cfg.Sync.MaxRetryAttempts,
		InitialBackoff:   cfg.Sync.InitialBackoff,
		Timezone:         tz,
	}, queue, client, creds,
		syncer.WithClock(clock),
		syncer.WithLogger(logger),
		syncer.WithTracer(tracer),
		syncer.WithMetrics(m),
	)

	return &app{
		backend:  backend,
		queue:    queue,
		tracker:  tracker,
		engine:   engine,
		creds:    creds,
		tracer:   tracer,
		metrics:  m,
		timezone: tz,
	}, nil
}

// Close flushes spans and releases the backend.
func (a *app) Close(ctx context.Context) {
	if err := a.tracer.Shutdown(ctx); err != nil {
		logger.Debug("tracer shutdown", "error", err.Error())
	}
	if err := a.backend.Close(); err != nil {
		logger.Debug("closing store", "error", err.Error())
	}
}

func openBackend(ctx context.Context, s config.Storage) (kv.Store, error) {
	switch s.Backend {
	case config.BackendMemory:
		return kv.NewMemory(), nil
	case config.BackendSQLite:
		return kv.OpenSQLite(s.Path)
	case config.BackendRedis:
		return kv.NewRedis(ctx, s.RedisAddr, "")
	default:
		path := s.Path
		if path == "" {
			p, err := kv.DefaultPath()
			if err != nil {
				return nil, fmt.Errorf("could not determine data directory: %w", err)
			}
			path = p
		}
		return kv.NewFile(afero.NewOsFs(), path)
	}
}

// statusPath is where `pulse run` publishes its status document.
func statusPath() (string, error) {
	dir, err := kv.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "status.json"), nil
}
