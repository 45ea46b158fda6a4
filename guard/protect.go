package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parlorworks/seatguard/telemetry"
)

// Protector is the auto-relock scanner. It watches protection-enabled,
// currently-unlocked bindings and re-asserts the lock as soon as the account is
// observed offline. While the account stays offline and protection stays on, a
// failed attempt is simply retried on the next tick.
type Protector struct {
	Store    BindingStore
	API      AccountService
	Notify   Notifier
	Machine  MachineParams
	Interval time.Duration
	Width    int
	Gap      time.Duration
}

// Start blocks, scanning on the configured interval until ctx is canceled.
func (p *Protector) Start(ctx context.Context) {
	startLoop(ctx, "protect", p.Interval, p.runOnce)
}

func (p *Protector) runOnce(ctx context.Context) {
	heartbeat(ctx, p.Store, "protect")
	if scanningPaused(ctx, p.Store) {
		logger(ctx).Info("protect: scanning paused by flag")
		return
	}
	bindings, err := p.Store.ListProtectedUnlocked(ctx)
	if err != nil {
		logger(ctx).Warn("protect: list bindings", slog.Any("err", err))
		return
	}
	RunBatches(ctx, bindings, p.Width, p.Gap, p.relockOne)
}

// relockOne spans a status query and a lock call, so eligibility is reverified
// right before locking: a concurrent unlock or protection-off command must win.
func (p *Protector) relockOne(ctx context.Context, stale Binding) error {
	b, err := p.Store.Get(ctx, stale.OwnerID)
	if err != nil {
		return fmt.Errorf("protect re-read %s: %w", stale.OwnerID, err)
	}
	if b == nil || !b.ProtectionEnabled || b.Locked {
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}
	if !acquireCallSlot(ctx) {
		return nil
	}
	st, err := p.API.QueryStatus(ctx, b.AccountToken)
	releaseCallSlot()
	if err != nil {
		return fmt.Errorf("protect query %s: %w", b.OwnerID, err)
	}
	if st.Online {
		return nil
	}

	// Offline: reverify, then lock.
	b2, err := p.Store.Get(ctx, b.OwnerID)
	if err != nil {
		return fmt.Errorf("protect reverify %s: %w", b.OwnerID, err)
	}
	if b2 == nil || !b2.ProtectionEnabled || b2.Locked {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	if !acquireCallSlot(ctx) {
		return nil
	}
	res, err := p.API.AssertLock(ctx, b2.AccountToken, p.Machine)
	releaseCallSlot()
	if err != nil {
		telemetry.Relocks.WithLabelValues("error").Inc()
		return fmt.Errorf("protect assert %s: %w", b2.OwnerID, err)
	}
	if !res.Success {
		telemetry.Relocks.WithLabelValues("rejected").Inc()
		logger(ctx).Warn("protect: lock rejected by backend", slog.String("owner", b2.OwnerID))
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	// SetLock also forces monitoring off: the held session must not be
	// reported as external login/logout drift.
	if err := p.Store.SetLock(ctx, b2.OwnerID, res.SessionRef); err != nil {
		return fmt.Errorf("protect persist %s: %w", b2.OwnerID, err)
	}
	telemetry.Relocks.WithLabelValues("ok").Inc()
	logger(ctx).Info("protect: account re-locked", slog.String("owner", b2.OwnerID))

	if err := p.Notify.Send(ctx, b2.Notify, fmt.Sprintf("@%s your account went offline and has been re-locked", b2.OwnerID)); err != nil {
		logger(ctx).Warn("protect: notify failed", slog.String("owner", b2.OwnerID), slog.Any("err", err))
	}
	return nil
}
