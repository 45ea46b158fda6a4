package guard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/parlorworks/seatguard/telemetry"
)

// Monitor is the status transition scanner. Each tick it loads all
// monitoring-enabled bindings and checks the remote login state of each,
// notifying exactly once per login/logout transition. The first observation
// after monitoring is (re-)enabled only records a baseline and never notifies.
type Monitor struct {
	Store    BindingStore
	API      AccountService
	Notify   Notifier
	Interval time.Duration
	Width    int
	Gap      time.Duration
}

// Start blocks, scanning on the configured interval until ctx is canceled.
func (m *Monitor) Start(ctx context.Context) {
	startLoop(ctx, "monitor", m.Interval, m.runOnce)
}

func (m *Monitor) runOnce(ctx context.Context) {
	heartbeat(ctx, m.Store, "monitor")
	if scanningPaused(ctx, m.Store) {
		logger(ctx).Info("monitor: scanning paused by flag")
		return
	}
	bindings, err := m.Store.ListMonitored(ctx)
	if err != nil {
		logger(ctx).Warn("monitor: list bindings", slog.Any("err", err))
		return
	}
	telemetry.MonitoredBindings.Set(float64(len(bindings)))
	RunBatches(ctx, bindings, m.Width, m.Gap, m.checkOne)
}

// checkOne straddles two network calls (status query, then possibly a store
// write plus a notification), so the binding is re-read fresh at the start and
// once more immediately before mutating: a concurrent "disable monitoring" or
// "lock" command must be able to suppress a notification already in flight.
func (m *Monitor) checkOne(ctx context.Context, stale Binding) error {
	b, err := m.Store.Get(ctx, stale.OwnerID)
	if err != nil {
		return fmt.Errorf("monitor re-read %s: %w", stale.OwnerID, err)
	}
	if b == nil || !b.MonitoringEnabled {
		return nil
	}

	if ctx.Err() != nil {
		return nil
	}
	if !acquireCallSlot(ctx) {
		return nil
	}
	st, err := m.API.QueryStatus(ctx, b.AccountToken)
	releaseCallSlot()
	if err != nil {
		return fmt.Errorf("monitor query %s: %w", b.OwnerID, err)
	}
	observed := StatusOf(st.Online)

	if ctx.Err() != nil {
		return nil
	}
	if b.LastStatus == StatusUnknown {
		// Baseline: persist and stay quiet.
		return m.Store.SetLastStatus(ctx, b.OwnerID, observed)
	}
	if observed == b.LastStatus {
		// Unchanged; persist anyway to keep last-seen fresh.
		return m.Store.SetLastStatus(ctx, b.OwnerID, observed)
	}

	// Transition. Reverify eligibility right before acting.
	b2, err := m.Store.Get(ctx, b.OwnerID)
	if err != nil {
		return fmt.Errorf("monitor reverify %s: %w", b.OwnerID, err)
	}
	if b2 == nil || !b2.MonitoringEnabled || b2.Locked {
		return nil
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := m.Store.SetLastStatus(ctx, b2.OwnerID, observed); err != nil {
		return fmt.Errorf("monitor persist %s: %w", b2.OwnerID, err)
	}
	telemetry.StatusTransitions.WithLabelValues(string(observed)).Inc()

	name := st.DisplayName
	if name == "" {
		name = b2.OwnerID
	}
	var msg string
	if observed == StatusOnline {
		msg = fmt.Sprintf("%s just logged in to the arcade network", name)
	} else {
		msg = fmt.Sprintf("%s just logged out of the arcade network", name)
	}
	if err := m.Notify.Send(ctx, b2.Notify, msg); err != nil {
		logger(ctx).Warn("monitor: notify failed", slog.String("owner", b2.OwnerID), slog.Any("err", err))
	}
	return nil
}
