// Command calls-relay is the main entrypoint for the calls webhook relay bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Wires the shared Webex client behind the credential broker and starts
//     the background token refresher.
//   - Exposes the HTTP surface: OAuth callback, webhook intake, health,
//     status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/calls-relay/authstore"
	"github.com/onnwee/calls-relay/broker"
	"github.com/onnwee/calls-relay/commands"
	"github.com/onnwee/calls-relay/config"
	"github.com/onnwee/calls-relay/db"
	"github.com/onnwee/calls-relay/relay"
	"github.com/onnwee/calls-relay/server"
	"github.com/onnwee/calls-relay/telemetry"
	"github.com/onnwee/calls-relay/webexapi"
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
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
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
	if err := cfg.ValidateOAuthReady(); err != nil {
		slog.Warn("oauth flow not fully configured", slog.Any("err", err))
	}
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Warn("bot posting not configured", slog.Any("err", err))
	}

	// Metrics / telemetry init
	telemetry.Init()

	// OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("calls-relay", "1.0.0")
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
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared Webex client, guarded by the credential broker. The client
	// starts with the bot's token; everything impersonated swaps it inside
	// the broker's critical section.
	client := webexapi.NewClient(cfg.WebexAPIURL, cfg.BotToken)
	brk := broker.New(client, cfg.BrokerAcquireTimeout)
	flow := &webexapi.Flow{
		ClientID:     cfg.WebexClientID,
		ClientSecret: cfg.WebexClientSecret,
		TokenURL:     cfg.WebexTokenURL,
		RedirectURI:  cfg.RedirectURI(),
	}
	store := authstore.New(database)
	svc := relay.NewService(cfg, store, brk, flow)
	cmds := &commands.Handler{Relay: svc, Cfg: cfg}

	// Background token refresher
	svc.StartRefresher(ctx, cfg.RefreshInterval, cfg.RefreshWindow)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handlers := server.NewHandlers(ctx, database, cfg, svc, cmds)
	go func() {
		if err := server.Start(ctx, handlers, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
