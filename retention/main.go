package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DeafMist/wiki-offline/internal/config"
	"github.com/DeafMist/wiki-offline/internal/logger"
	"github.com/DeafMist/wiki-offline/internal/searchindex"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("retention")
	cfg, err := config.LoadRetention()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	log.Info("retention job running",
		slog.String("index", cfg.IndexPath()),
		slog.Duration("interval", cfg.Interval),
		slog.Duration("max_age", cfg.MaxAge),
	)

	runOnce(log, cfg, time.Now())

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			return
		case now := <-ticker.C:
			runOnce(log, cfg, now)
		}
	}
}

// runOnce removes staging and backup directories abandoned by interrupted
// index builds. Failures are retried on the next tick.
func runOnce(log *slog.Logger, cfg *config.Retention, now time.Time) int {
	removed, err := searchindex.CleanupStale(cfg.IndexPath(), cfg.MaxAge, now)
	for _, path := range removed {
		log.Info("removed stale index directory", slog.String("path", path))
	}
	if err != nil {
		log.Warn("retention run failed (will retry on next interval)", slog.Any("err", err))
		return len(removed)
	}
	if len(removed) == 0 {
		log.Debug("retention run completed, nothing to remove")
	}
	return len(removed)
}
