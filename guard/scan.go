package guard

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parlorworks/seatguard/telemetry"
)

// heartbeatStore is implemented by stores that can persist a per-scanner
// last-run marker (the db package writes it to the kv table). Optional; fakes
// in tests don't need it.
type heartbeatStore interface {
	Heartbeat(ctx context.Context, scanner string)
}

// startLoop runs fn immediately and then on every interval tick until the
// context is canceled. Each tick gets a fresh correlation id for log grouping.
func startLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context)) {
	slog.Info("scanner starting", slog.String("scanner", name), slog.Duration("interval", interval))
	run := func() {
		tctx := telemetry.WithCorrelation(ctx, uuid.NewString())
		telemetry.TimeFunc(telemetry.ScanDuration.WithLabelValues(name), func() { fn(tctx) })
		telemetry.ScanCycles.WithLabelValues(name).Inc()
	}
	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("scanner stopped", slog.String("scanner", name))
			return
		case <-ticker.C:
			run()
		}
	}
}

// logger returns the default logger enriched with the tick's correlation id.
func logger(ctx context.Context) *slog.Logger {
	return telemetry.LoggerWithCorr(ctx)
}

// flagStore is implemented by stores that persist operator flags (the db
// package keeps them in the kv table).
type flagStore interface {
	GetFlag(ctx context.Context, key string) (string, error)
}

// PauseFlag is the store-backed kill switch for all scanners. Re-read at the
// top of every tick, so flipping it takes effect without a restart.
const PauseFlag = "scanning_paused"

func scanningPaused(ctx context.Context, store BindingStore) bool {
	fs, ok := store.(flagStore)
	if !ok {
		return false
	}
	v, err := fs.GetFlag(ctx, PauseFlag)
	if err != nil {
		logger(ctx).Warn("read pause flag", slog.Any("err", err))
		return false
	}
	return v == "true" || v == "1"
}

func heartbeat(ctx context.Context, store BindingStore, scanner string) {
	if hs, ok := store.(heartbeatStore); ok {
		hs.Heartbeat(ctx, scanner)
	}
}
