// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered at package init so every consumer (including tests)
// can use them without a setup call.
var (
	// Scanners
	ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_scan_cycles_total", Help: "Scan ticks completed, per scanner",
	}, []string{"scanner"})
	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "guard_scan_duration_seconds", Help: "Scan tick duration seconds, per scanner", Buckets: prometheus.DefBuckets,
	}, []string{"scanner"})

	// Monitor
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_status_transitions_total", Help: "Login/logout transitions notified, by new status",
	}, []string{"status"})
	MonitoredBindings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guard_monitored_bindings", Help: "Bindings with monitoring enabled at last scan",
	})

	// Keepalive / protection
	KeepaliveRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_keepalive_refreshes_total", Help: "Lock keepalive re-assert outcomes",
	}, []string{"result"})
	LockedBindings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "guard_locked_bindings", Help: "Bindings holding a lock session at last scan",
	})
	Relocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_relocks_total", Help: "Protection auto-relock outcomes",
	}, []string{"result"})

	// Upload jobs
	JobPolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guard_job_polls_total", Help: "Upload job status polls performed",
	})
	JobOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_job_outcomes_total", Help: "Terminal upload job states",
	}, []string{"state"})

	// Notifications
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guard_notifications_total", Help: "Notification delivery outcomes",
	}, []string{"result"})
)

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
