package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/naad-alert-ingest/internal/config"
	"github.com/couchcryptid/naad-alert-ingest/internal/domain"
)

// Writer publishes accepted alerts to a Kafka topic.
// It implements pipeline.EventSink; non-alert events are ignored.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured alert topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaAlertTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

func (w *Writer) Name() string { return "kafka" }

// Send writes alert events; other kinds return nil without producing.
func (w *Writer) Send(ctx context.Context, e domain.Event) error {
	if e.Kind != domain.EventAlert || e.Alert == nil {
		return nil
	}
	msg, err := serializeToMessage(*e.Alert, uuid.NewString())
	if err != nil {
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write alert %s: %w", e.Alert.Identifier, err)
	}
	w.logger.Debug("alert published to kafka", "identifier", e.Alert.Identifier, "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// Message is the JSON value written for each alert.
type Message struct {
	ID    string             `json:"id"`
	Alert domain.AlertRecord `json:"alert"`
}

// serializeToMessage marshals an AlertRecord into a Kafka message keyed by
// identifier, so updates to one alert land on one partition.
func serializeToMessage(rec domain.AlertRecord, id string) (kafkago.Message, error) {
	data, err := json.Marshal(Message{ID: id, Alert: rec})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alert record: %w", err)
	}
	key := rec.Identifier
	if key == "" {
		key = id
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "severity_color", Value: []byte(rec.SeverityColor)},
			{Key: "source", Value: []byte(rec.Source)},
			{Key: "received_at", Value: []byte(rec.ReceivedAt.Format(time.RFC3339))},
		},
	}, nil
}
