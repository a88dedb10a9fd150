// Package events announces finished corpus and index builds on Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/wiki-offline/internal/config"
	"github.com/DeafMist/wiki-offline/internal/models"
)

// Type names an event.
type Type string

const (
	TypeCorpusExtracted Type = "corpus.extracted"
	TypeIndexCommitted  Type = "index.committed"
)

// Event is the JSON payload on the corpus topic.
type Event struct {
	Type       Type                    `json:"type"`
	RunID      string                  `json:"run_id"`
	CorpusPath string                  `json:"corpus_path,omitempty"`
	IndexPath  string                  `json:"index_path,omitempty"`
	Stats      *models.ExtractionStats `json:"stats,omitempty"`
	DocCount   uint64                  `json:"doc_count,omitempty"`
	At         time.Time               `json:"at"`
}

// ErrInvalidEvent is returned by Decode for payloads that are not events.
var ErrInvalidEvent = errors.New("invalid corpus event")

// Decode parses and validates a message value.
func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	switch e.Type {
	case TypeCorpusExtracted, TypeIndexCommitted:
	default:
		return e, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	if e.RunID == "" {
		return e, fmt.Errorf("%w: missing run_id", ErrInvalidEvent)
	}
	return e, nil
}

// Message encodes e keyed by run id, so one run's events share a partition.
func (e Event) Message() (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(e.RunID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

// Publisher sends events. Implementations must be safe to Close once.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NewPublisher returns a Kafka publisher, or a no-op one when no brokers
// are configured.
func NewPublisher(cfg config.Kafka, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if len(cfg.Brokers) == 0 {
		logger.Debug("kafka brokers not configured, events disabled")
		return Noop{}
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		Balancer:    &kafka.Hash{},
		MaxAttempts: 3,
	})
	return &KafkaPublisher{w: w, log: logger}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to one topic.
type KafkaPublisher struct {
	w   messageWriter
	log *slog.Logger
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	msg, err := e.Message()
	if err != nil {
		return err
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	p.log.Info("event published", slog.String("type", string(e.Type)), slog.String("run_id", e.RunID))
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Close() error { return nil }
