package audit

import (
	"context"
	"time"

	"rxgate/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LogSink writes records to the structured log.
type LogSink struct{}

func (LogSink) Write(ctx context.Context, env Envelope) error {
	logger.GetGlobalLogger().Logger.Info("audit",
		zap.String("action", env.Record.Action),
		zap.String("actor", env.Record.Actor),
		zap.String("entity_type", env.Record.EntityType),
		zap.String("entity_id", env.Record.EntityID.String()),
		zap.String("business_id", env.Record.BusinessID.String()),
		zap.String("risk_level", string(env.Record.RiskLevel)),
		zap.String("request_id", env.RequestID),
		zap.Any("changes", env.Record.Changes),
		zap.Time("occurred_at", env.OccurredAt))
	return nil
}

func (LogSink) Close() error { return nil }

// publisher is satisfied by internal/redis.Publisher.
type publisher interface {
	Publish(ctx context.Context, payload []byte) error
}

// RedisSink publishes each record on a pub/sub channel for downstream
// audit-log persistence.
type RedisSink struct {
	pub publisher
}

func NewRedisSink(pub publisher) *RedisSink {
	return &RedisSink{pub: pub}
}

func (s *RedisSink) Write(ctx context.Context, env Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, payload)
}

func (s *RedisSink) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink appends records to a topic keyed by business id, so one
// tenant's records stay ordered within a partition.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (s *KafkaSink) Write(ctx context.Context, env Envelope) error {
	payload, err := env.Marshal()
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Record.BusinessID.String()),
		Value: payload,
		Time:  env.OccurredAt,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
