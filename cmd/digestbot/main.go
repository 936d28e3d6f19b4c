package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kavehm/digestbot/internal/api"
	"github.com/kavehm/digestbot/internal/config"
	"github.com/kavehm/digestbot/internal/events"
	"github.com/kavehm/digestbot/internal/ollama"
	"github.com/kavehm/digestbot/internal/roster"
	"github.com/kavehm/digestbot/internal/scheduler"
	"github.com/kavehm/digestbot/internal/store"
	"github.com/kavehm/digestbot/internal/summarizer"
	"github.com/kavehm/digestbot/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("digestbot starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		slog.Error("invalid time zone", "tz", cfg.Timezone, "error", err)
		os.Exit(1)
	}

	// Store
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("store ready")

	// Roster
	members, err := roster.Load(cfg.RosterPath)
	if err != nil {
		slog.Error("failed to load group members", "path", cfg.RosterPath, "error", err)
		os.Exit(1)
	}
	slog.Info("roster loaded", "members", members.Len())

	// Generation backend
	llm := ollama.NewClient(cfg.OllamaURL(), cfg.OllamaModel, cfg.OllamaOptions, cfg.OllamaTimeout, slog.Default())
	slog.Info("ollama client ready", "model", cfg.OllamaModel)

	// Pipeline
	pipeline := summarizer.New(db, members, llm, loc, slog.Default())

	// Telegram (optional — without a token the bot runs headless on
	// NATS and HTTP alone)
	if cfg.BotToken != "" || cfg.TelegramAPIURL != "" {
		tg := telegram.NewClient(cfg.TelegramBase(), 30*time.Second)
		pipeline.SetDelivery(tg, cfg.Destinations)
		bot := telegram.NewBot(tg, db, pipeline, cfg.MonitoredChats, loc, slog.Default())
		go bot.Poll(ctx)
		slog.Info("telegram bot polling", "monitored", len(cfg.MonitoredChats), "destinations", len(cfg.Destinations))
	} else {
		slog.Warn("telegram not configured")
	}

	// NATS bridge (optional)
	if cfg.NatsURL != "" {
		nc, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		if err := nc.SubscribeMessages(ctx, db); err != nil {
			slog.Error("failed to subscribe to message events", "error", err)
			os.Exit(1)
		}
		pipeline.SetPublisher(nc)
		slog.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Daily schedule
	sched, err := scheduler.New(cfg.SummaryTime, cfg.Timezone, func(ctx context.Context, start, end time.Time) {
		if _, err := pipeline.Run(ctx, start, end, summarizer.KindScheduled); err != nil {
			slog.Warn("scheduled summary did not produce a digest", "error", err)
		}
	}, slog.Default())
	if err != nil {
		slog.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)
	defer sched.Stop()

	// HTTP API
	srv := api.NewServer(ctx, cfg.Port, cfg.APIToken, db, pipeline, loc, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("digestbot ready", "port", cfg.Port, "summary_time", cfg.SummaryTime, "tz", cfg.Timezone)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	slog.Info("digestbot stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
