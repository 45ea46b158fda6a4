// Command seatguard is the main entrypoint for the account-guardian service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the background scanners: status transition monitor, lock
//     keepalive refresher, and protection auto-relock.
//   - Starts the IRC command surface (and per-upload job pollers it spawns).
//   - Exposes a minimal HTTP server with /healthz, /readyz, /status, /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/joho/godotenv"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/parlorworks/seatguard/arcadeapi"
	"github.com/parlorworks/seatguard/chat"
	"github.com/parlorworks/seatguard/config"
	"github.com/parlorworks/seatguard/db"
	"github.com/parlorworks/seatguard/guard"
	"github.com/parlorworks/seatguard/notify"
	"github.com/parlorworks/seatguard/server"
	"github.com/parlorworks/seatguard/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("seatguard", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Migrations: versioned files first, embedded SQL as fallback for
	// deployments that ship without the migrations directory.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, falling back to embedded SQL", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	guard.InitCallLimiter(cfg.MaxInflightCalls)

	// Remote account service client, with client-credentials auth when the
	// backend has a token endpoint configured.
	var creds *clientcredentials.Config
	if cfg.ArcadeTokenURL != "" {
		creds = &clientcredentials.Config{
			ClientID:     cfg.ArcadeClientID,
			ClientSecret: cfg.ArcadeClientSecret,
			TokenURL:     cfg.ArcadeTokenURL,
		}
	}
	api := arcadeapi.New(cfg.ArcadeBaseURL, creds)

	machine := guard.MachineParams{
		PlaceID:  cfg.MachinePlaceID,
		ClientID: cfg.MachineClientID,
		RegionID: cfg.MachineRegionID,
	}
	window := guard.Window{
		Enabled:   cfg.MaintenanceEnabled,
		StartHour: cfg.MaintenanceStartHour,
		EndHour:   cfg.MaintenanceEndHour,
		Message:   cfg.MaintenanceMessage,
	}

	// One IRC client shared by the command surface and the notification sink.
	ircClient := twitch.NewClient(cfg.ChatBotUser, cfg.ChatOAuthToken)
	handles := []notify.Handle{&notify.IRCHandle{Client: ircClient, DefaultChannel: cfg.ChatChannel}}
	if cfg.NotifyWebhookURL != "" {
		handles = append(handles, &notify.WebhookHandle{URL: cfg.NotifyWebhookURL})
	}
	notifier := notify.NewMulti(handles...)

	store := db.NewStore(database)

	// Scanners
	go (&guard.Monitor{
		Store:    store,
		API:      api,
		Notify:   notifier,
		Interval: cfg.MonitorInterval,
		Width:    cfg.ScanBatchWidth,
		Gap:      cfg.ScanBatchGap,
	}).Start(ctx)
	go (&guard.Keepalive{
		Store:    store,
		API:      api,
		Machine:  machine,
		Interval: cfg.KeepaliveInterval,
		Width:    cfg.ScanBatchWidth,
		Gap:      cfg.ScanBatchGap,
	}).Start(ctx)
	go (&guard.Protector{
		Store:    store,
		API:      api,
		Notify:   notifier,
		Machine:  machine,
		Interval: cfg.ProtectInterval,
		Width:    cfg.ScanBatchWidth,
		Gap:      cfg.ScanBatchGap,
	}).Start(ctx)

	// Command surface
	listener := chat.NewListener(chat.Deps{
		Store:   store,
		API:     api,
		Notify:  notifier,
		Machine: machine,
		Window:  window,
		Cfg:     cfg,
	}, ircClient)
	go listener.Start(ctx)

	// HTTP server (health/status/metrics)
	go func() {
		if err := server.Start(ctx, database, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
