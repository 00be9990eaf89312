// Package metrics exposes pulse's Prometheus collectors on a private
// registry.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync attempt results.
const (
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Metrics holds every collector. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	PulsesTracked prometheus.Counter
	Aggregations  prometheus.Counter
	SyncAttempts  *prometheus.CounterVec
	BatchesSent   prometheus.Counter
	QueueDepth    prometheus.Gauge
	TodaySeconds  prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PulsesTracked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Name: "pulses_tracked_total",
			Help: "Pulses folded into the tracking state.",
		}),
		Aggregations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Name: "aggregations_total",
			Help: "Aggregated pulses produced.",
		}),
		SyncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulse", Name: "sync_attempts_total",
			Help: "Sync attempts by result.",
		}, []string{"result"}),
		BatchesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulse", Name: "sync_batches_sent_total",
			Help: "Batches accepted by the backend.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse", Name: "queue_depth",
			Help: "Items waiting in the durable queue.",
		}),
		TodaySeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulse", Name: "today_active_seconds",
			Help: "Active time today.",
		}),
	}
	m.registry.MustRegister(m.PulsesTracked, m.Aggregations, m.SyncAttempts,
		m.BatchesSent, m.QueueDepth, m.TodaySeconds)
	return m
}

// Tracked records one tracked pulse and the aggregated records it produced.
func (m *Metrics) Tracked(aggregations int) {
	if m == nil {
		return
	}
	m.PulsesTracked.Inc()
	m.Aggregations.Add(float64(aggregations))
}

// SyncResult records the outcome of one attempt.
func (m *Metrics) SyncResult(result string) {
	if m == nil {
		return
	}
	m.SyncAttempts.WithLabelValues(result).Inc()
}

// BatchSent records one accepted batch.
func (m *Metrics) BatchSent() {
	if m == nil {
		return
	}
	m.BatchesSent.Inc()
}

// SetQueueDepth records the pending item count.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetTodayTotal records today's active time in ms.
func (m *Metrics) SetTodayTotal(ms int64) {
	if m == nil {
		return
	}
	m.TodaySeconds.Set(float64(ms) / 1000)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
