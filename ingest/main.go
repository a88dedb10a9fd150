package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/DeafMist/wiki-offline/internal/archive"
	"github.com/DeafMist/wiki-offline/internal/config"
	"github.com/DeafMist/wiki-offline/internal/corpus"
	"github.com/DeafMist/wiki-offline/internal/events"
	"github.com/DeafMist/wiki-offline/internal/ingest"
	"github.com/DeafMist/wiki-offline/internal/logger"
	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/searchindex"
)

func main() {
	_ = godotenv.Load()
	log := logger.New("ingest")
	cfg, err := config.LoadIngest()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	publisher := events.NewPublisher(cfg.Kafka, log)
	defer publisher.Close()

	if err := run(ctx, log, cfg, publisher); err != nil {
		log.Error("ingest failed", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, cfg *config.Ingest, publisher events.Publisher) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	runID := uuid.NewString()
	log = log.With(slog.String("run_id", runID))

	stats, err := extract(ctx, log, cfg, runID)
	if err != nil {
		return err
	}

	if cfg.PruneLinks {
		res, err := corpus.PruneLinks(ctx, cfg.CorpusPath())
		if err != nil {
			return err
		}
		log.Info("dead links pruned", slog.Uint64("articles", res.Articles), slog.Uint64("rewritten", res.Rewritten))
	}

	publish(ctx, log, publisher, events.Event{
		Type:       events.TypeCorpusExtracted,
		RunID:      runID,
		CorpusPath: cfg.CorpusPath(),
		Stats:      &stats,
	})

	if !cfg.BuildIndex {
		return nil
	}
	manifest, err := searchindex.Build(ctx, cfg.IndexPath(), corpusSource(ctx, cfg.CorpusPath()), searchindex.BuildOptions{
		BatchSize: cfg.IndexBatchSize,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	publish(ctx, log, publisher, events.Event{
		Type:      events.TypeIndexCommitted,
		RunID:     runID,
		IndexPath: cfg.IndexPath(),
		DocCount:  manifest.DocCount,
	})
	return nil
}

// extract runs the pipeline and always leaves stats.json behind, also for
// aborted runs.
func extract(ctx context.Context, log *slog.Logger, cfg *config.Ingest, runID string) (models.ExtractionStats, error) {
	stream, err := archive.Open(ctx, cfg.DumpPath, archive.Options{AWSRegion: cfg.AWSRegion, S3PathStyle: cfg.S3PathStyle})
	if err != nil {
		return models.ExtractionStats{}, err
	}
	defer stream.Close()

	w, err := corpus.Create(cfg.CorpusPath())
	if err != nil {
		return models.ExtractionStats{}, err
	}

	log.Info("ingest starting",
		slog.String("dump", cfg.DumpPath),
		slog.String("codec", string(stream.Codec())),
		slog.Int("workers", cfg.Workers),
		slog.Int("window", cfg.Window),
	)

	pipeline := ingest.NewPipeline(w, ingest.Options{
		Policy: ingest.Policy{
			MinLength:      cfg.MinLength,
			MaxArticleSize: cfg.MaxArticleSize,
			MaxArticles:    uint64(cfg.MaxArticles),
		},
		Workers:      cfg.Workers,
		Window:       cfg.Window,
		MaxPageBytes: cfg.MaxPageBytes,
		RunID:        runID,
		Language:     cfg.Language,
		SourceFile:   cfg.DumpPath,
	}, log)

	stats, runErr := pipeline.Run(ctx, stream)
	if closeErr := w.Close(); closeErr != nil && runErr == nil {
		runErr = &ingest.WriteFailureError{Err: closeErr}
		stats.Complete = false
		stats.AbortReason = runErr.Error()
	}

	if err := ingest.WriteStats(cfg.StatsPath(), stats); err != nil {
		return stats, errors.Join(runErr, err)
	}
	if err := ingest.WriteMetadata(cfg.MetadataPath(), models.RunMetadata{
		Language:          cfg.Language,
		ArticlesExtracted: stats.ArticlesExtracted,
	}); err != nil {
		return stats, errors.Join(runErr, err)
	}
	if runErr != nil {
		return stats, runErr
	}

	log.Info("corpus written",
		slog.String("path", cfg.CorpusPath()),
		slog.Uint64("articles", stats.ArticlesExtracted),
		slog.Int64("compressed_bytes", stream.CompressedBytes()),
		slog.Int64("decoded_bytes", stream.DecodedBytes()),
	)
	return stats, nil
}

func corpusSource(ctx context.Context, path string) searchindex.Source {
	return func(yield func(models.Article) error) error {
		return corpus.ForEach(ctx, path, yield)
	}
}

// publish never fails the run: events are advisory.
func publish(ctx context.Context, log *slog.Logger, p events.Publisher, e events.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.Publish(pubCtx, e); err != nil {
		log.Warn("publish event", slog.Any("err", err), slog.String("type", string(e.Type)))
	}
}
