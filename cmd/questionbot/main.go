// Command questionbot is the Slack question bot service.
//
// It runs two subsystems:
//   - HTTP server: Slack webhooks (/slack/commands, /slack/interactions),
//     the token-gated doctor dashboard and JSON API, and health endpoints
//   - Socket Mode client (optional, when SLACK_APP_TOKEN is set)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/Vortex-9191/slack-question-bot/internal/bridge"
	"github.com/Vortex-9191/slack-question-bot/internal/config"
	"github.com/Vortex-9191/slack-question-bot/internal/dashboard"
	"github.com/Vortex-9191/slack-question-bot/internal/delivery"
	"github.com/Vortex-9191/slack-question-bot/internal/directory"
	"github.com/Vortex-9191/slack-question-bot/internal/resolver"
	"github.com/Vortex-9191/slack-question-bot/internal/session"
	"github.com/Vortex-9191/slack-question-bot/internal/signature"
	"github.com/Vortex-9191/slack-question-bot/internal/store"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cfg := config.Load()

	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting questionbot",
		"version", version,
		"commit", commit,
		"listen_addr", cfg.ListenAddr,
		"database", cfg.DatabasePath,
		"socket_mode", cfg.AppToken != "",
		"admin_channel", cfg.AdminChannel)

	if err := cfg.Validate(logger); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open store", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	opts := []slack.Option{}
	if cfg.AppToken != "" {
		opts = append(opts, slack.OptionAppLevelToken(cfg.AppToken))
	}
	api := slack.New(cfg.BotToken, opts...)

	var socket *socketmode.Client
	if cfg.AppToken != "" {
		socket = socketmode.New(api, socketmode.OptionDebug(cfg.Debug))
	}

	drafts := session.New[bridge.Draft](session.Config{TTL: cfg.SessionTTL, MaxEntries: cfg.SessionMaxEntries})

	bot := bridge.NewBot(bridge.BotConfig{
		API:   api,
		Store: st,
		Directory: directory.New(directory.Config{
			API:            api,
			PageSize:       cfg.DirectoryPageSize,
			MaxPages:       cfg.DirectoryMaxPages,
			CallTimeout:    cfg.CallTimeout,
			PagesPerSecond: cfg.DirectoryRate,
			Logger:         logger,
		}),
		Resolver: resolver.New(nil, logger),
		Delivery: delivery.New(delivery.Config{API: api, CallTimeout: cfg.CallTimeout, Logger: logger}),
		Drafts:   drafts,
		Verifier: signature.NewVerifier(signature.Config{
			Secret:   cfg.SigningSecret,
			Disabled: !cfg.VerifySignatures,
			Logger:   logger,
		}),
		Socket:           socket,
		Logger:           logger,
		AdminChannel:     cfg.AdminChannel,
		ProcessingBudget: cfg.ProcessingBudget,
		CallTimeout:      cfg.CallTimeout,
	})

	if err := bot.Authenticate(ctx); err != nil {
		logger.Error("Slack connectivity check failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	registerHealth(mux, cfg, st, bot, socket != nil)
	bot.Routes(mux)
	if cfg.DashboardToken != "" {
		dash, err := dashboard.New(st, logger)
		if err != nil {
			logger.Error("failed to load dashboard templates", "error", err)
			os.Exit(1)
		}
		dash.RegisterRoutes(mux, cfg.DashboardToken)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	if socket != nil {
		go func() {
			if err := bot.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Socket Mode bot stopped", "error", err)
			}
		}()
	}

	logger.Info("questionbot ready", "socket_mode", socket != nil)

	// Block until shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down questionbot")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Let acknowledged requests finish so users still get their notices.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ProcessingBudget)
	defer drainCancel()
	if err := bot.Wait(drainCtx); err != nil {
		logger.Warn("in-flight processing did not finish before shutdown", "error", err)
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
}

func init() {
	if v := os.Getenv("VERSION"); v != "" {
		version = v
	}
}
