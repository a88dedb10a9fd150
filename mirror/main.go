package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/wiki-offline/internal/config"
	"github.com/DeafMist/wiki-offline/internal/corpus"
	"github.com/DeafMist/wiki-offline/internal/elasticsearch"
	"github.com/DeafMist/wiki-offline/internal/events"
	"github.com/DeafMist/wiki-offline/internal/logger"
	"github.com/DeafMist/wiki-offline/internal/models"
)

type articleIndexer interface {
	EnsureIndex(ctx context.Context) error
	BulkIndex(ctx context.Context, docs []elasticsearch.Document) error
	Refresh(ctx context.Context) error
	Search(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
	DeleteOtherRuns(ctx context.Context, runID string, batchSize int) (int64, error)
}

// errMirrorUnsearchable means a bulk load finished but its documents cannot
// be found, so the previous run is kept.
var errMirrorUnsearchable = errors.New("mirrored documents not searchable")

func main() {
	_ = godotenv.Load()
	log := logger.New("mirror")
	cfg, err := config.LoadMirror()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	esClient, err := connect(ctx, log, cfg)
	if err != nil {
		log.Error("connect elasticsearch", slog.Any("err", err))
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit only
	})
	defer reader.Close()

	dlqWriter := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic + "_dlq",
		MaxAttempts: 3,
	})
	defer dlqWriter.Close()

	log.Info("mirror started",
		slog.String("topic", cfg.Topic),
		slog.String("group", cfg.ConsumerGroup),
		slog.String("index", cfg.ElasticsearchIndex),
	)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled, stopping")
				return
			}
			log.Error("fetch message", slog.Any("err", err))
			continue
		}

		if err := processMessage(ctx, log, esClient, cfg, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("context canceled mid-message, offset left uncommitted")
				return
			}
			log.Warn("process message failed, sending to DLQ",
				slog.Any("err", err),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
			if !sendToDLQ(ctx, log, dlqWriter, msg, err) {
				// Leave the offset uncommitted so the event is replayed on restart.
				continue
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			log.Error("commit message", slog.Any("err", err))
		}
	}
}

// connect retries the Elasticsearch handshake with capped exponential backoff.
func connect(ctx context.Context, log *slog.Logger, cfg *config.Mirror) (*elasticsearch.Client, error) {
	const maxRetries = 10
	delay := cfg.ConnectBackoff

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		client, err := elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
		if err == nil {
			err = ready(ctx, log, client)
			if err == nil {
				return client, nil
			}
		}
		lastErr = err
		log.Warn("elasticsearch not ready, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
	return nil, fmt.Errorf("elasticsearch unreachable after %d attempts: %w", maxRetries, lastErr)
}

// ready pings the cluster and then waits for a usable health status.
func ready(ctx context.Context, log *slog.Logger, client *elasticsearch.Client) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return err
	}

	healthCtx, cancelHealth := context.WithTimeout(ctx, 10*time.Second)
	defer cancelHealth()
	status, err := client.Health(healthCtx)
	if err != nil {
		return err
	}
	log.Info("connected to elasticsearch", slog.String("cluster_status", status))
	return nil
}

type dlqWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// sendToDLQ forwards a failed event with its error context. It reports
// whether the write eventually succeeded.
func sendToDLQ(ctx context.Context, log *slog.Logger, w dlqWriter, msg kafka.Message, cause error) bool {
	dlqMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: "original_partition", Value: []byte(fmt.Sprintf("%d", msg.Partition))},
			kafka.Header{Key: "original_offset", Value: []byte(fmt.Sprintf("%d", msg.Offset))},
			kafka.Header{Key: "error", Value: []byte(cause.Error())},
			kafka.Header{Key: "timestamp", Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		),
	}

	for attempt := range 5 {
		err := w.WriteMessages(ctx, dlqMsg)
		if err == nil {
			log.Info("message sent to DLQ",
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt+1),
			)
			return true
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		log.Warn("DLQ write failed, retrying",
			slog.Any("err", err),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
	}

	log.Error("DLQ write exhausted retries",
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	return false
}

func processMessage(ctx context.Context, log *slog.Logger, es articleIndexer, cfg *config.Mirror, msg kafka.Message) error {
	event, err := events.Decode(msg.Value)
	if err != nil {
		return err
	}

	if event.Type != events.TypeCorpusExtracted {
		log.Debug("ignoring event", slog.String("type", string(event.Type)), slog.String("run_id", event.RunID))
		return nil
	}
	if event.Stats != nil && !event.Stats.Complete {
		log.Warn("skipping incomplete run",
			slog.String("run_id", event.RunID),
			slog.String("reason", event.Stats.AbortReason),
		)
		return nil
	}

	path := event.CorpusPath
	if path == "" {
		path = cfg.CorpusPath()
	}

	indexed, sample, err := mirrorCorpus(ctx, es, path, event.RunID, cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("mirror run %s: %w", event.RunID, err)
	}
	if err := es.Refresh(ctx); err != nil {
		return err
	}
	if err := verifyMirror(ctx, es, sample, event.RunID); err != nil {
		return fmt.Errorf("mirror run %s: %w", event.RunID, err)
	}

	deleted, err := es.DeleteOtherRuns(ctx, event.RunID, cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("drop stale documents: %w", err)
	}

	log.Info("corpus mirrored",
		slog.String("run_id", event.RunID),
		slog.Int("indexed", indexed),
		slog.Int64("deleted", deleted),
	)
	return nil
}

// mirrorCorpus bulk indexes every record of the corpus at path, tagged with
// runID. It returns the count and the first record as a search sample.
func mirrorCorpus(ctx context.Context, es articleIndexer, path, runID string, batchSize int) (int, *models.Article, error) {
	if err := es.EnsureIndex(ctx); err != nil {
		return 0, nil, err
	}

	batch := make([]elasticsearch.Document, 0, batchSize)
	indexed := 0
	var sample *models.Article
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := es.BulkIndex(ctx, batch); err != nil {
			return err
		}
		indexed += len(batch)
		batch = batch[:0]
		return nil
	}

	err := corpus.ForEach(ctx, path, func(a models.Article) error {
		if sample == nil {
			sample = &a
		}
		batch = append(batch, elasticsearch.NewDocument(a, runID))
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return indexed, sample, err
	}
	return indexed, sample, flush()
}

// verifyMirror searches for the sample article by its title and expects
// hits tagged with runID. Empty corpora and titles without a word character
// have nothing to verify.
func verifyMirror(ctx context.Context, es articleIndexer, sample *models.Article, runID string) error {
	if sample == nil || strings.IndexFunc(sample.Title, isWordRune) < 0 {
		return nil
	}
	res, err := es.Search(ctx, elasticsearch.SearchParams{Query: sample.Title, Size: 20})
	if err != nil {
		return err
	}
	for _, doc := range res.Items {
		if doc.RunID == runID {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (id %d) missing from %d hits", errMirrorUnsearchable, sample.Title, sample.ID, res.Total)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
