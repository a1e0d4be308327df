// Package kafka publishes client telemetry events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"forum-client/internal/telemetry"
)

// DefaultTopic is used when no topic is configured.
const DefaultTopic = "forum-chat-events"

const writeTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Emitter implements telemetry.EventEmitter on a kafka-go writer. A nil *Emitter
// discards events.
type Emitter struct {
	writer messageWriter
	topic  string
}

// NewEmitter returns an emitter writing to topic on brokers, or nil when no broker is set.
// Call Close when shutting down.
func NewEmitter(brokers []string, topic string) *Emitter {
	if len(brokers) == 0 {
		return nil
	}
	if topic == "" {
		topic = DefaultTopic
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return &Emitter{writer: writer, topic: topic}
}

// Emit writes the event as JSON, keyed by room so one room's events keep their order.
func (e *Emitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if e == nil || e.writer == nil || event == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := kafka.Message{Value: payload}
	if event.Room != "" {
		msg.Key = []byte(event.Room)
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := e.writer.WriteMessages(writeCtx, msg); err != nil {
		zap.L().Warn("telemetry: kafka emit failed", zap.String("topic", e.topic), zap.Error(err))
		return err
	}
	return nil
}

// Close closes the writer. Safe on a nil Emitter.
func (e *Emitter) Close() error {
	if e == nil || e.writer == nil {
		return nil
	}
	return e.writer.Close()
}
