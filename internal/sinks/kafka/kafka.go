// Package kafka produces one JSON message per UPS reading, keyed by UPS name.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/Guliveer/nutwatch/internal/models"
	"github.com/Guliveer/nutwatch/internal/plugin"
	"github.com/Guliveer/nutwatch/internal/schema"
)

// Model is the KAFKA_* configuration.
var Model = schema.FieldModel{
	"BROKERS": {Type: schema.String, Required: true, Pattern: `[^,\s]+(,[^,\s]+)*`},
	"TOPIC":   {Type: schema.String, Default: "nut.readings", Pattern: `[A-Za-z0-9._-]+`},
}

// Factory registers the sink in a plugin.Catalog.
func Factory() plugin.Factory {
	return plugin.Factory{
		Name:      "kafka",
		Namespace: "kafka",
		Model:     Model,
		New: func(cfg schema.Values, deps plugin.Deps) (plugin.Sink, error) {
			brokers := strings.Split(cfg.StringOr("BROKERS", ""), ",")
			return New(brokers, cfg.StringOr("TOPIC", "nut.readings"), deps.Logger), nil
		},
	}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// message is the record value.
type message struct {
	UPS       string         `json:"ups"`
	Timestamp int64          `json:"timestamp"`
	Variables map[string]any `json:"variables"`
}

// Sink writes synchronously, so a broker error is reported for the reading
// that caused it.
type Sink struct {
	writer messageWriter
	logger *zap.Logger
}

// New creates a writer for topic. Readings of the same UPS land on the same
// partition.
func New(brokers []string, topic string, logger *zap.Logger) *Sink {
	return &Sink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		logger: logger.Named("kafka"),
	}
}

func (s *Sink) Name() string { return "kafka" }

func (s *Sink) Accept(ctx context.Context, r *models.Reading) error {
	value, err := json.Marshal(message{
		UPS:       r.UPS,
		Timestamp: r.Timestamp.UnixMilli(),
		Variables: r.Tree(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(r.UPS),
		Value: value,
		Time:  r.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if err := s.writer.Close(); err != nil {
		return err
	}
	s.logger.Info("Kafka writer closed")
	return nil
}
