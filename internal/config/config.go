// Package config provides configuration structures and validation for the loan
// services. Values come from an optional env file overlaid by environment
// variables, with a default for every key.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/microloan-ledger/internal/domain/finance"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration with settings for all components.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Outbox      OutboxConfig
	WorkerPool  WorkerPoolConfig
	LateFee     LateFeeConfig
	Replay      ReplayConfig
	Accrual     AccrualConfig
	Metrics     MetricsConfig
	Tracing     TracingConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers             string
	PaymentCommandTopic string // Inbound payment registrations
	LoanEventsTopic     string // Outbound loan lifecycle events
	NumPartitions       int
	ReplicationFactor   int
	ConsumerGroup       string
	MinBytes            int
	MaxBytes            int
	MaxWait             time.Duration
	StartOffset         int64
	DLQTopic            string
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	MigrationsPath  string
	AutoMigrate     bool // Apply pending migrations on startup
}

// MongoDBConfig contains MongoDB configuration for the audit store
type MongoDBConfig struct {
	URI             string
	Database        string
	AppName         string
	AuditCollection string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// OutboxConfig contains outbox pattern configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int
}

// LateFeeConfig holds the portfolio-wide late fee defaults. Loans may
// override either value.
type LateFeeConfig struct {
	DailyAmount decimal.Decimal
	GracePeriod int
}

// Settings returns the snapshot injected into the fee and arrears engines.
func (c LateFeeConfig) Settings() finance.LateFeeSettings {
	return finance.LateFeeSettings{DailyAmount: c.DailyAmount, GracePeriod: c.GracePeriod}
}

// ReplayConfig bounds the retroactive replay protocol.
type ReplayConfig struct {
	MaxIterations int
}

// AccrualConfig schedules the nightly portfolio jobs in the worker.
type AccrualConfig struct {
	Interval  time.Duration // Time between accrual runs
	BatchSize int           // Loans fetched per page
	Overdue   bool          // Publish overdue notices after each run
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool
	Path    string
	Port    int // Used by services without an HTTP API
}

// TracingConfig controls OpenTelemetry export
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	SampleRatio float64
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.PaymentCommandTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_PAYMENT_COMMAND_TOPIC is required")
	}
	if c.Kafka.LoanEventsTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_LOAN_EVENTS_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}
	if c.Postgres.AutoMigrate && c.Postgres.MigrationsPath == "" {
		validationErrors = append(validationErrors, "POSTGRES_MIGRATIONS_PATH is required when POSTGRES_AUTO_MIGRATE is set")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.AuditCollection == "" {
		validationErrors = append(validationErrors, "MONGO_AUDIT_COLLECTION is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	// Validate loan engine settings
	if c.LateFee.DailyAmount.IsNegative() {
		validationErrors = append(validationErrors, "GLOBAL_LATE_FEE_DAILY_AMOUNT cannot be negative")
	}
	if c.LateFee.GracePeriod < 0 {
		validationErrors = append(validationErrors, "GLOBAL_LATE_FEE_GRACE_PERIOD cannot be negative")
	}
	if c.Replay.MaxIterations <= 0 {
		validationErrors = append(validationErrors, "REPLAY_MAX_ITERATIONS must be greater than 0")
	}
	if c.Accrual.Interval <= 0 {
		validationErrors = append(validationErrors, "ACCRUAL_INTERVAL must be greater than 0")
	}
	if c.Accrual.BatchSize <= 0 {
		validationErrors = append(validationErrors, "ACCRUAL_BATCH_SIZE must be greater than 0")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		validationErrors = append(validationErrors, "METRICS_PATH must start with /")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		validationErrors = append(validationErrors, "OTEL_ENDPOINT is required when tracing is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		validationErrors = append(validationErrors, "OTEL_SAMPLE_RATIO must be between 0 and 1")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
