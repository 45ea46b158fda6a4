package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/parlorworks/seatguard/config"
	"github.com/parlorworks/seatguard/db"
	"github.com/parlorworks/seatguard/guard"
	"github.com/parlorworks/seatguard/telemetry"
)

// Deps carries everything the command surface delegates to. Commands are thin:
// each one translates to a single store or backend call; all ongoing behavior
// lives in the guard scanners.
type Deps struct {
	Store   *db.Store
	API     guard.AccountService
	Notify  guard.Notifier
	Machine guard.MachineParams
	Window  guard.Window
	Cfg     *config.Config
}

// Listener is the IRC command surface.
type Listener struct {
	deps   Deps
	client *twitch.Client

	// runCtx is the listener's lifetime context; long-lived work spawned by a
	// command (job pollers) hangs off it, not the per-command timeout.
	runCtx context.Context

	mu             sync.Mutex
	pendingUnbinds map[string]time.Time
}

// confirmWindow is how long an !unbind stays armed waiting for !confirm.
const confirmWindow = 30 * time.Second

// NewListener builds the listener around an already-constructed IRC client
// (main shares the same client with the notification sink).
func NewListener(deps Deps, client *twitch.Client) *Listener {
	return &Listener{deps: deps, client: client, pendingUnbinds: make(map[string]time.Time)}
}

// Start connects to the chat channel and dispatches commands until ctx is
// canceled. Blocks.
func (l *Listener) Start(ctx context.Context) {
	cfg := l.deps.Cfg
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat command surface disabled", slog.Any("reason", err))
		return
	}
	l.runCtx = ctx
	l.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		l.dispatch(ctx, msg)
	})

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		_ = l.client.Disconnect()
		close(done)
	}()

	l.client.Join(cfg.ChatChannel)
	if err := l.client.Connect(); err != nil {
		slog.Error("chat connect error", slog.Any("err", err))
	}
	<-done
}

func (l *Listener) reply(channel, user, text string) {
	l.client.Say(channel, "@"+user+" "+text)
}

func (l *Listener) dispatch(ctx context.Context, msg twitch.PrivateMessage) {
	fields := strings.Fields(msg.Message)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	owner := strings.ToLower(msg.User.Name)
	target := guard.Target{Channel: msg.Channel, User: msg.User.Name}

	// Per-command timeout; a hung backend call must not wedge the dispatcher.
	cctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	cctx, span := telemetry.StartSpan(cctx, "chat", cmd)
	defer span.End()

	var err error
	switch cmd {
	case "!bind":
		err = l.handleBind(cctx, owner, target, args)
	case "!unbind":
		err = l.handleUnbind(cctx, owner, target)
	case "!confirm":
		err = l.handleConfirm(cctx, owner, target)
	case "!status":
		err = l.handleStatus(cctx, owner, target)
	case "!lock":
		err = l.handleLock(cctx, owner, target)
	case "!unlock":
		err = l.handleUnlock(cctx, owner, target)
	case "!monitor":
		err = l.handleMonitor(cctx, owner, target, args)
	case "!protect":
		err = l.handleProtect(cctx, owner, target, args)
	case "!upload":
		err = l.handleUpload(cctx, owner, target, args)
	default:
		return
	}
	if err != nil {
		telemetry.RecordError(span, err)
		slog.Warn("command failed", slog.String("cmd", cmd), slog.String("owner", owner), slog.Any("err", err))
		l.reply(target.Channel, target.User, "that didn't work, try again later")
	}
}

func (l *Listener) requireBinding(ctx context.Context, owner string) (*guard.Binding, error) {
	b, err := l.deps.Store.Get(ctx, owner)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}
	return b, nil
}

func (l *Listener) handleBind(ctx context.Context, owner string, target guard.Target, args []string) error {
	if len(args) != 1 {
		l.reply(target.Channel, target.User, "usage: !bind <account-token> (whisper it, don't paste in public chat)")
		return nil
	}
	existing, err := l.deps.Store.Get(ctx, owner)
	if err != nil {
		return err
	}
	if existing != nil {
		// Re-bind replaces the stored token and resets all state.
		if err := l.deps.Store.Delete(ctx, owner); err != nil {
			return err
		}
	}
	if err := l.deps.Store.Create(ctx, guard.Binding{
		OwnerID:      owner,
		AccountToken: args[0],
		LastStatus:   guard.StatusUnknown,
		Notify:       target,
	}); err != nil {
		return err
	}
	l.reply(target.Channel, target.User, "account bound")
	return nil
}

func (l *Listener) handleUnbind(ctx context.Context, owner string, target guard.Target) error {
	b, err := l.requireBinding(ctx, owner)
	if err != nil || b == nil {
		if b == nil && err == nil {
			l.reply(target.Channel, target.User, "no account bound")
		}
		return err
	}
	l.mu.Lock()
	l.pendingUnbinds[owner] = time.Now()
	l.mu.Unlock()
	l.reply(target.Channel, target.User, "this removes your binding and any held lock; say !confirm within 30s")
	return nil
}

func (l *Listener) handleConfirm(ctx context.Context, owner string, target guard.Target) error {
	l.mu.Lock()
	armed, ok := l.pendingUnbinds[owner]
	delete(l.pendingUnbinds, owner)
	l.mu.Unlock()
	if !ok || time.Since(armed) > confirmWindow {
		l.reply(target.Channel, target.User, "nothing to confirm")
		return nil
	}
	b, err := l.requireBinding(ctx, owner)
	if err != nil || b == nil {
		return err
	}
	if b.Locked {
		// Best effort: release the held session before dropping the record.
		if err := l.deps.API.ReleaseLock(ctx, b.AccountToken, l.deps.Machine); err != nil {
			slog.Warn("unbind: release lock failed", slog.String("owner", owner), slog.Any("err", err))
		}
	}
	if err := l.deps.Store.Delete(ctx, owner); err != nil {
		return err
	}
	l.reply(target.Channel, target.User, "account unbound")
	return nil
}

func (l *Listener) handleStatus(ctx context.Context, owner string, target guard.Target) error {
	b, err := l.requireBinding(ctx, owner)
	if err != nil || b == nil {
		if b == nil && err == nil {
			l.reply(target.Channel, target.User, "no account bound; use !bind <token>")
		}
		return err
	}
	st, err := l.deps.API.QueryStatus(ctx, b.AccountToken)
	if err != nil {
		return err
	}
	state := "offline"
	if st.Online {
		state = "online"
	}
	if b.Locked {
		state += " (locked by me)"
	}
	l.reply(target.Channel, target.User, fmt.Sprintf("%s — %s, rating %d", st.DisplayName, state, st.Rating))
	return nil
}

func (l *Listener) handleLock(ctx context.Context, owner string, target guard.Target) error {
	b, err := l.requireBinding(ctx, owner)
	if err != nil || b == nil {
		if b == nil && err == nil {
			l.reply(target.Channel, target.User, "no account bound")
		}
		return err
	}
	res, err := l.deps.API.AssertLock(ctx, b.AccountToken, l.deps.Machine)
	if err != nil {
		return err
	}
	if !res.Success {
		l.reply(target.Channel, target.User, "backend refused the lock (already logged in somewhere?)")
		return nil
	}
	// Forces monitoring off alongside.
	if err := l.deps.Store.SetLock(ctx, owner, res.SessionRef); err != nil {
		return err
	}
	l.reply(target.Channel, target.User, "account locked; I'll keep the session alive")
	return nil
}

func (l *Listener) handleUnlock(ctx context.Context, owner string, target guard.Target) error {
	b, err := l.requireBinding(ctx, owner)
	if err != nil || b == nil {
		if b == nil && err == nil {
			l.reply(target.Channel, target.User, "no account bound")
		}
		return err
	}
	if !b.Locked {
		l.reply(target.Channel, target.User, "account is not locked")
		return nil
	}
	if err := l.deps.API.ReleaseLock(ctx, b.AccountToken, l.deps.Machine); err != nil {
		return err
	}
	if err := l.deps.Store.SetUnlocked(ctx, owner); err != nil {
		return err
	}
	msg := "account unlocked"
	if b.ProtectionEnabled {
		msg += " (protection still on: it will re-lock if the account goes offline)"
	}
	l.reply(target.Channel, target.User, msg)
	return nil
}

func onOff(args []string) (bool, bool) {
	if len(args) != 1 {
		return false, false
	}
	switch strings.ToLower(args[0]) {
	case "on":
		return true, true
	case "off":
		return false, true
	}
	return false, false
}

func (l *Listener) handleMonitor(ctx context.Context, owner string, target guard.Target, args []string) error {
	enabled, ok := onOff(args)
	if !ok {
		l.reply(target.Channel, target.User, "usage: !monitor on|off")
		return nil
	}
	b, err := l.requireBinding(ctx, owner)
	if err != nil || b == nil {
		if b == nil && err == nil {
			l.reply(target.Channel, target.User, "no account bound")
		}
		return err
	}
	if enabled && b.Locked {
		l.reply(target.Channel, target.User, "account is locked by me; unlock before monitoring")
		return nil
	}
	if err := l.deps.Store.SetMonitoring(ctx, owner, enabled, target); err != nil {
		return err
	}
	if enabled {
		l.reply(target.Channel, target.User, "monitoring on; I'll announce logins and logouts here")
	} else {
		l.reply(target.Channel, target.User, "monitoring off")
	}
	return nil
}

func (l *Listener) handleProtect(ctx context.Context, owner string, target guard.Target, args []string) error {
	enabled, ok := onOff(args)
	if !ok {
		l.reply(target.Channel, target.User, "usage: !protect on|off")
		return nil
	}
	b, err := l.requireBinding(ctx, owner)
	if err != nil || b == nil {
		if b == nil && err == nil {
			l.reply(target.Channel, target.User, "no account bound")
		}
		return err
	}
	if err := l.deps.Store.SetProtection(ctx, owner, enabled, target); err != nil {
		return err
	}
	if enabled {
		l.reply(target.Channel, target.User, "protection on; if the account goes offline I'll lock it")
	} else {
		l.reply(target.Channel, target.User, "protection off")
	}
	return nil
}

func (l *Listener) handleUpload(ctx context.Context, owner string, target guard.Target, args []string) error {
	if len(args) != 1 || (args[0] != "scores" && args[0] != "collectibles") {
		l.reply(target.Channel, target.User, "usage: !upload scores|collectibles")
		return nil
	}
	if l.deps.Window.Active(time.Now()) {
		l.reply(target.Channel, target.User, l.deps.Window.Message)
		return nil
	}
	b, err := l.requireBinding(ctx, owner)
	if err != nil || b == nil {
		if b == nil && err == nil {
			l.reply(target.Channel, target.User, "no account bound")
		}
		return err
	}
	jobID, err := l.deps.API.SubmitUpload(ctx, b.AccountToken, args[0])
	if err != nil {
		return err
	}
	cfg := l.deps.Cfg
	poller := &guard.JobPoller{
		JobID:        jobID,
		Kind:         args[0],
		Target:       target,
		API:          l.deps.API,
		Notify:       l.deps.Notify,
		PollInterval: cfg.JobPollInterval,
		InitialDelay: cfg.JobPollInitialDelay,
		MaxAttempts:  cfg.JobMaxAttempts,
	}
	// The poller outlives the per-command timeout; tie it to the listener.
	pctx := l.runCtx
	if pctx == nil {
		pctx = context.Background()
	}
	go poller.Run(pctx)
	l.reply(target.Channel, target.User, fmt.Sprintf("%s upload submitted (job %s); I'll report back when it's done", args[0], jobID))
	return nil
}
