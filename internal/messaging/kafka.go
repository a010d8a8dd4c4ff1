// Package messaging publishes domain events (dataset uploads, trained models,
// generated reports) to Kafka or to the service log.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventType names a domain event
type EventType string

const (
	DatasetUploaded EventType = "dataset.uploaded"
	DatasetDeleted  EventType = "dataset.deleted"
	ModelTrained    EventType = "model.trained"
	ReportGenerated EventType = "report.generated"
	ReportScheduled EventType = "report.scheduled"
)

// Event is the envelope written to the topic
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	Subject    string                 `json:"subject"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// NewEvent stamps an event with an id and the current time
func NewEvent(t EventType, subject string, data map[string]interface{}) Event {
	return Event{ID: uuid.NewString(), Type: t, Subject: subject, OccurredAt: time.Now().UTC(), Data: data}
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// KafkaConfig configures the Kafka publisher
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	MaxAttempts  int
}

// KafkaPublisher writes events keyed by subject so that events about the
// same dataset or model stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            cfg.MaxAttempts,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: writer, logger: logger}, nil
}

// Publish publishes a single event
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.Subject),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the service log when streaming is disabled
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event Event) error {
	p.logger.Info("event",
		zap.String("id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("subject", event.Subject),
		zap.Any("data", event.Data))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// PublishAsync publishes in the background; failures are only logged so
// request handlers never fail on event delivery.
func PublishAsync(p Publisher, logger *zap.Logger, event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := p.Publish(ctx, event); err != nil {
			logger.Warn("event delivery failed", zap.String("type", string(event.Type)), zap.Error(err))
		}
	}()
}
