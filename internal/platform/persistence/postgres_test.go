package persistence

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/microloan-ledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestPostgresDB_Pool(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	var nilPool *pgxpool.Pool
	db := &PostgresDB{
		pool:   nilPool,
		logger: logger,
	}
	assert.Equal(t, nilPool, db.Pool(), "Pool() should return the initialized pool")
}

func TestNewPostgresDB_InvalidURL(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := &config.PostgresConfig{URL: "://not-a-url", MaxConns: 1, MinConns: 1}

	db, err := NewPostgresDB(context.Background(), logger, cfg)
	assert.Nil(t, db)
	assert.ErrorContains(t, err, "failed to parse PostgreSQL connection string")
}
