package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parlorworks/seatguard/telemetry"
)

// Keepalive re-asserts every held lock session on a coarse interval so the
// backend does not expire it. Failures are logged and retried on the next tick;
// a keepalive failure never releases the lock.
type Keepalive struct {
	Store    BindingStore
	API      AccountService
	Machine  MachineParams
	Interval time.Duration
	Width    int
	Gap      time.Duration
}

// Start blocks, refreshing on the configured interval until ctx is canceled.
func (k *Keepalive) Start(ctx context.Context) {
	startLoop(ctx, "keepalive", k.Interval, k.runOnce)
}

func (k *Keepalive) runOnce(ctx context.Context) {
	heartbeat(ctx, k.Store, "keepalive")
	if scanningPaused(ctx, k.Store) {
		logger(ctx).Info("keepalive: scanning paused by flag")
		return
	}
	bindings, err := k.Store.ListLocked(ctx)
	if err != nil {
		logger(ctx).Warn("keepalive: list bindings", slog.Any("err", err))
		return
	}
	telemetry.LockedBindings.Set(float64(len(bindings)))
	RunBatches(ctx, bindings, k.Width, k.Gap, k.refreshOne)
}

func (k *Keepalive) refreshOne(ctx context.Context, stale Binding) error {
	b, err := k.Store.Get(ctx, stale.OwnerID)
	if err != nil {
		return fmt.Errorf("keepalive re-read %s: %w", stale.OwnerID, err)
	}
	if b == nil || !b.Locked {
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}
	if !acquireCallSlot(ctx) {
		return nil
	}
	res, err := k.API.AssertLock(ctx, b.AccountToken, k.Machine)
	releaseCallSlot()
	if err != nil {
		telemetry.KeepaliveRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("keepalive assert %s: %w", b.OwnerID, err)
	}
	if !res.Success {
		telemetry.KeepaliveRefreshes.WithLabelValues("rejected").Inc()
		logger(ctx).Warn("keepalive: lock re-assert rejected", slog.String("owner", b.OwnerID))
		return nil
	}
	telemetry.KeepaliveRefreshes.WithLabelValues("ok").Inc()

	// The backend may rotate the session on re-login; keep our copy current.
	if res.SessionRef != "" && res.SessionRef != b.LockSessionRef {
		if ctx.Err() != nil {
			return nil
		}
		if err := k.Store.SetLockSession(ctx, b.OwnerID, res.SessionRef); err != nil {
			return fmt.Errorf("keepalive persist session %s: %w", b.OwnerID, err)
		}
		logger(ctx).Info("keepalive: session ref rotated", slog.String("owner", b.OwnerID))
	}
	return nil
}
