package producers

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// MessagePublisher encodes values as JSON and publishes them to a topic
type MessagePublisher interface {
	Publish(ctx context.Context, key string, value any) error
	Close() error
}

// EventPublisher publishes loan events that are already encoded
type EventPublisher interface {
	PublishEvent(ctx context.Context, key string, eventType string, payload []byte) error
	Close() error
}

// DeadLetterPublisher handles publishing messages to a Dead Letter Queue
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
