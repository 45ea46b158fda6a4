package guard

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// callLimiter caps in-flight remote calls globally across all scanners so a
// slow backend cannot accumulate unbounded concurrent requests. Initialized
// once via InitCallLimiter; default weight 16 when never configured.
var (
	callLimiter     *semaphore.Weighted
	callLimiterOnce sync.Once
	callLimiterMax  int64 = 16
)

// InitCallLimiter sets the global in-flight remote-call cap. Safe to call once
// at startup before any scanner runs; later calls are no-ops.
func InitCallLimiter(max int64) {
	if max > 0 {
		callLimiterMax = max
	}
	initCallLimiter()
}

func initCallLimiter() {
	callLimiterOnce.Do(func() {
		callLimiter = semaphore.NewWeighted(callLimiterMax)
		slog.Info("remote call concurrency limit initialized", slog.Int64("max_inflight", callLimiterMax))
	})
}

// acquireCallSlot blocks until a remote-call slot is available or the context
// is canceled. Returns false on cancellation.
func acquireCallSlot(ctx context.Context) bool {
	initCallLimiter()
	return callLimiter.Acquire(ctx, 1) == nil
}

func releaseCallSlot() {
	callLimiter.Release(1)
}
