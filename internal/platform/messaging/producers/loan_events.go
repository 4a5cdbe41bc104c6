package producers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/microloan-ledger/internal/config"
	"github.com/segmentio/kafka-go"
)

// LoanEventProducer publishes outbox payloads to the loan events topic keyed
// by loan id. Writes are synchronous so the poller only marks a message
// processed once the brokers acknowledged it.
type LoanEventProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

func NewLoanEventProducer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*LoanEventProducer, error) {
	if cfg.LoanEventsTopic == "" {
		return nil, fmt.Errorf("kafka loan events topic is not configured")
	}

	if err := ensureTopic(cfg, cfg.LoanEventsTopic, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure loan events topic %s exists: %w", cfg.LoanEventsTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.LoanEventsTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.MaxWait,
	}

	return &LoanEventProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.LoanEventsTopic,
	}, nil
}

func (p *LoanEventProducer) PublishEvent(ctx context.Context, key string, eventType string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish loan event",
			"topic", p.topic,
			"key", key,
			"event_type", eventType,
			"error", err,
		)
		return fmt.Errorf("failed to publish %s to %s: %w", eventType, p.topic, err)
	}

	p.logger.Debug("Published loan event", "topic", p.topic, "key", key, "event_type", eventType)
	return nil
}

func (p *LoanEventProducer) Close() error {
	p.logger.Info("Closing loan event producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close loan event writer for topic %s: %w", p.topic, err)
	}
	return nil
}
