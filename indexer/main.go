package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/DeafMist/wiki-offline/internal/config"
	"github.com/DeafMist/wiki-offline/internal/corpus"
	"github.com/DeafMist/wiki-offline/internal/events"
	"github.com/DeafMist/wiki-offline/internal/logger"
	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/searchindex"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("indexer")
	cfg, err := config.LoadIndexer()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	publisher := events.NewPublisher(cfg.Kafka, log)
	defer publisher.Close()

	if err := run(ctx, log, cfg, publisher); err != nil {
		log.Error("index build failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Indexer, publisher events.Publisher) error {
	path := cfg.CorpusPath()
	if _, err := os.Stat(path); err != nil {
		return err
	}

	start := time.Now()
	manifest, err := searchindex.Build(ctx, cfg.IndexPath(), func(yield func(models.Article) error) error {
		return corpus.ForEach(ctx, path, yield)
	}, searchindex.BuildOptions{BatchSize: cfg.BatchSize, Logger: log})
	if err != nil {
		return err
	}
	log.Info("index rebuilt",
		slog.String("dir", cfg.IndexPath()),
		slog.Uint64("documents", manifest.DocCount),
		slog.Duration("took", time.Since(start)),
	)

	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := publisher.Publish(pubCtx, events.Event{
		Type:      events.TypeIndexCommitted,
		RunID:     uuid.NewString(),
		IndexPath: cfg.IndexPath(),
		DocCount:  manifest.DocCount,
	}); err != nil {
		log.Warn("publish event", slog.Any("err", err))
	}
	return nil
}
