// Package mongo provides the MongoDB audit mirror of published loan events.
package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/microloan-ledger/internal/domain/audit"
	"github.com/microloan-ledger/internal/domain/shared"
)

// DefaultAuditCollection is used when no collection name is configured.
const DefaultAuditCollection = "loan_audit"

// auditDocument is the stored shape of an audit record. The event id is the
// document key, which makes inserts idempotent.
type auditDocument struct {
	EventID      string    `bson:"_id"`
	Type         string    `bson:"type"`
	LoanID       string    `bson:"loan_id"`
	ClientID     string    `bson:"client_id"`
	Status       string    `bson:"status"`
	BalanceTotal string    `bson:"balance_total"`
	OccurredAt   time.Time `bson:"occurred_at"`
	RecordedAt   time.Time `bson:"recorded_at"`
	Data         bson.M    `bson:"data,omitempty"`
}

// AuditRepository implements the audit.Repository interface for MongoDB
type AuditRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewAuditRepository creates a new MongoDB audit repository
func NewAuditRepository(logger *slog.Logger, db *mongo.Database, collection string) audit.Repository {
	if collection == "" {
		collection = DefaultAuditCollection
	}
	return &AuditRepository{
		collection: db.Collection(collection),
		logger:     logger,
	}
}

// EnsureIndexes creates the loan timeline index used by ListByLoan.
func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "loan_id", Value: 1}, {Key: "occurred_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create audit index: %w", err)
	}
	return nil
}

// Record inserts an audit record. A record whose event was already mirrored
// is ignored so poller retries stay harmless.
func (r *AuditRepository) Record(ctx context.Context, record *audit.Record) error {
	doc, err := toDocument(record)
	if err != nil {
		return err
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			r.logger.Debug("Audit record already exists", "event_id", doc.EventID)
			return nil
		}
		r.logger.Error("Failed to insert audit record",
			"event_id", doc.EventID,
			"loan_id", doc.LoanID,
			"error", err)
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// ListByLoan returns a loan's audit trail, newest first.
func (r *AuditRepository) ListByLoan(ctx context.Context, loanID uuid.UUID, limit, offset int) ([]*audit.Record, error) {
	filter := bson.M{"loan_id": loanID.String()}
	opts := options.Find().
		SetSort(bson.D{{Key: "occurred_at", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		r.logger.Error("Failed to get audit records", "loan_id", loanID.String(), "error", err)
		return nil, fmt.Errorf("failed to get audit records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []auditDocument
	if err := cursor.All(ctx, &docs); err != nil {
		r.logger.Error("Failed to decode audit records", "loan_id", loanID.String(), "error", err)
		return nil, fmt.Errorf("failed to decode audit records: %w", err)
	}

	records := make([]*audit.Record, 0, len(docs))
	for i := range docs {
		rec, err := fromDocument(&docs[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// CountByLoan counts the audit records of a loan.
func (r *AuditRepository) CountByLoan(ctx context.Context, loanID uuid.UUID) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"loan_id": loanID.String()})
	if err != nil {
		r.logger.Error("Failed to count audit records", "loan_id", loanID.String(), "error", err)
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

func toDocument(record *audit.Record) (*auditDocument, error) {
	doc := &auditDocument{
		EventID:      record.EventID.String(),
		Type:         string(record.Type),
		LoanID:       record.LoanID.String(),
		ClientID:     record.ClientID.String(),
		Status:       record.Status,
		BalanceTotal: record.BalanceTotal,
		OccurredAt:   record.OccurredAt,
		RecordedAt:   record.RecordedAt,
	}
	if len(record.Data) > 0 {
		if err := bson.UnmarshalExtJSON(record.Data, false, &doc.Data); err != nil {
			return nil, fmt.Errorf("failed to convert audit data: %w", err)
		}
	}
	return doc, nil
}

func fromDocument(doc *auditDocument) (*audit.Record, error) {
	rec := &audit.Record{
		Type:         shared.EventType(doc.Type),
		Status:       doc.Status,
		BalanceTotal: doc.BalanceTotal,
		OccurredAt:   doc.OccurredAt,
		RecordedAt:   doc.RecordedAt,
	}

	var err error
	if rec.EventID, err = uuid.Parse(doc.EventID); err != nil {
		return nil, fmt.Errorf("invalid audit event id %q: %w", doc.EventID, err)
	}
	if rec.LoanID, err = uuid.Parse(doc.LoanID); err != nil {
		return nil, fmt.Errorf("invalid audit loan id %q: %w", doc.LoanID, err)
	}
	if rec.ClientID, err = uuid.Parse(doc.ClientID); err != nil {
		return nil, fmt.Errorf("invalid audit client id %q: %w", doc.ClientID, err)
	}

	if len(doc.Data) > 0 {
		raw, err := bson.MarshalExtJSON(doc.Data, false, false)
		if err != nil {
			return nil, fmt.Errorf("failed to convert audit data: %w", err)
		}
		rec.Data = json.RawMessage(raw)
	}

	return rec, nil
}
