package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/microloan-ledger/internal/config"
	"github.com/segmentio/kafka-go"
)

// PaymentCommandProducer enqueues payment commands for the loan worker. The
// loan id is used as key so commands for one loan stay ordered.
type PaymentCommandProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
}

func NewPaymentCommandProducer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*PaymentCommandProducer, error) {
	if cfg.PaymentCommandTopic == "" {
		return nil, fmt.Errorf("kafka payment command topic is not configured")
	}

	if err := ensureTopic(cfg, cfg.PaymentCommandTopic, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure payment command topic %s exists: %w", cfg.PaymentCommandTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.PaymentCommandTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: cfg.MaxWait,
	}

	return &PaymentCommandProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.PaymentCommandTopic,
	}, nil
}

func (p *PaymentCommandProducer) Publish(ctx context.Context, key string, value any) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal payment command: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish payment command",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish payment command to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published payment command", "topic", p.topic, "key", key)
	return nil
}

func (p *PaymentCommandProducer) Close() error {
	p.logger.Info("Closing payment command producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close payment command writer for topic %s: %w", p.topic, err)
	}
	return nil
}
