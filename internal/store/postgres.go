// Package store provides storage backends for dialog state and event batches.
//
// This file implements the PostgreSQL-backed dialog repository.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a DialogRepository backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// FetchDialogState loads a subscriber's state, or returns a fresh zero state.
func (s *PostgresStore) FetchDialogState(ctx context.Context, phoneNumber string) (*models.DialogState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM dialog_states WHERE phone_number = $1`, phoneNumber).Scan(&raw)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore FetchDialogState not found", "phone_number", phoneNumber)
		return models.NewDialogState(phoneNumber), nil
	}
	if err != nil {
		slog.Error("PostgresStore FetchDialogState failed", "error", err, "phone_number", phoneNumber)
		return nil, fmt.Errorf("failed to fetch dialog state for %s: %w", phoneNumber, err)
	}
	var state models.DialogState
	if err := json.Unmarshal(raw, &state); err != nil {
		slog.Error("PostgresStore FetchDialogState unmarshal failed", "error", err, "phone_number", phoneNumber)
		return nil, fmt.Errorf("failed to decode dialog state for %s: %w", phoneNumber, err)
	}
	return &state, nil
}

// PersistDialogState writes the batch and the state snapshot in one
// transaction.
func (s *PostgresStore) PersistDialogState(ctx context.Context, batch *events.DialogEventBatch, state *models.DialogState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode dialog state: %w", err)
	}
	batchJSON, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to encode event batch: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("PostgresStore PersistDialogState begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dialog_states (phone_number, seq, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone_number) DO UPDATE SET
			seq = EXCLUDED.seq, state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		state.PhoneNumber, state.Seq, stateJSON, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore PersistDialogState state write failed", "error", err, "phone_number", state.PhoneNumber)
		return fmt.Errorf("failed to write dialog state for %s: %w", state.PhoneNumber, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dialog_event_batches (batch_id, phone_number, seq, created_time, batch)
		VALUES ($1, $2, $3, $4, $5)`,
		batch.BatchID, batch.PhoneNumber, batch.Seq, batch.CreatedTime, batchJSON)
	if err != nil {
		slog.Error("PostgresStore PersistDialogState batch write failed", "error", err, "batch_id", batch.BatchID)
		return fmt.Errorf("failed to write event batch %s: %w", batch.BatchID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("PostgresStore PersistDialogState commit failed", "error", err)
		return fmt.Errorf("failed to commit dialog persist: %w", err)
	}
	slog.Debug("PostgresStore PersistDialogState succeeded",
		"phone_number", state.PhoneNumber, "seq", state.Seq, "events", len(batch.Events))
	return nil
}

// FetchEventBatches returns a subscriber's persisted batches in creation
// order (for inspection and tests).
func (s *PostgresStore) FetchEventBatches(ctx context.Context, phoneNumber string) ([]*events.DialogEventBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch FROM dialog_event_batches
		WHERE phone_number = $1 ORDER BY created_time`, phoneNumber)
	if err != nil {
		slog.Error("PostgresStore FetchEventBatches query failed", "error", err, "phone_number", phoneNumber)
		return nil, fmt.Errorf("failed to query event batches: %w", err)
	}
	defer rows.Close()

	var batches []*events.DialogEventBatch
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan event batch row: %w", err)
		}
		var batch events.DialogEventBatch
		if err := json.Unmarshal(raw, &batch); err != nil {
			return nil, fmt.Errorf("failed to decode event batch: %w", err)
		}
		batches = append(batches, &batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event batch rows: %w", err)
	}
	return batches, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
