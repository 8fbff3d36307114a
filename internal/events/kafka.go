package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/homeledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes outbox messages to a single topic, keyed by dedupe
// key so every event for a payment lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	log    *zap.Logger
}

// NewPublisher returns a nil Publisher when no brokers are configured.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	if !cfg.Kafka.Enabled() {
		log.Info("outbox relay disabled: no kafka brokers configured")
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn(fmt.Sprintf(msg, args...), zap.String("component", "kafka"))
		}),
	}
	publisher := newKafkaPublisher(writer, log)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return writer.Close()
			},
		})
	}
	log.Info("kafka publisher initialized",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)
	return publisher
}

func newKafkaPublisher(writer messageWriter, log *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, log: log.Named("events.kafka")}
}

func (p *KafkaPublisher) Publish(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	out := make([]kafka.Message, 0, len(messages))
	for _, msg := range messages {
		headers := []kafka.Header{{Key: "event_type", Value: []byte(msg.EventType)}}
		if msg.DedupeKey != "" {
			headers = append(headers, kafka.Header{Key: "dedupe_key", Value: []byte(msg.DedupeKey)})
		}
		out = append(out, kafka.Message{
			Key:     []byte(msg.Key),
			Value:   msg.Value,
			Headers: headers,
			Time:    msg.Time,
		})
	}
	if err := p.writer.WriteMessages(ctx, out...); err != nil {
		return fmt.Errorf("write %d messages: %w", len(out), err)
	}
	return nil
}
