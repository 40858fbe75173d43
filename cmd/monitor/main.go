// Command monitor watches a Truth Social account and relays new posts to a
// Discord webhook, keeping a durable delivery log in Firestore so restarts
// never resend what already went out.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"truthrelay/internal/config"
	"truthrelay/internal/fetch"
	"truthrelay/internal/notifier"
	"truthrelay/internal/relay"
	"truthrelay/internal/storage"
)

func main() {
	// A missing .env is fine; production config comes from the environment.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.New(ctx, cfg.ProjectID, cfg.StoreCollection)
	if err != nil {
		slog.Error("Critical error initializing delivery store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if last, err := store.LastDelivered(ctx); err != nil {
		slog.Warn("Could not read last delivery, continuing", "error", err)
	} else if last != nil {
		slog.Info("Resuming relay", "last_post", last.PostID, "sent_at", last.SentAt)
	} else {
		slog.Info("Delivery log is empty, starting fresh")
	}

	webhookURL := cfg.DiscordWebhookURL
	if !cfg.DiscordNotify {
		webhookURL = ""
	}

	fetcher := fetch.New(cfg)
	n := notifier.New(webhookURL, cfg.DiscordUsername, cfg.RateLimitSpacing, cfg.MaxRetries)
	pipeline := relay.NewPipeline(fetcher, store, n)
	scheduler := relay.NewScheduler(pipeline, cfg.PollInterval)

	slog.Info("Starting Truth Social monitor",
		"account", cfg.Account,
		"instance", cfg.Instance,
		"interval", cfg.PollInterval)

	scheduler.Run(ctx)
	slog.Info("Monitor stopped.")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
