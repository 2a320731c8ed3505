// Package store provides storage backends for dialog state and event batches.
//
// This file implements the SQLite-backed dialog repository.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BellwoodLabs/DrillLine/internal/events"
	"github.com/BellwoodLabs/DrillLine/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a DialogRepository backed by a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the SQLite database file; its directory is
// created if it doesn't exist.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// FetchDialogState loads a subscriber's state, or returns a fresh zero state.
func (s *SQLiteStore) FetchDialogState(ctx context.Context, phoneNumber string) (*models.DialogState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM dialog_states WHERE phone_number = ?`, phoneNumber).Scan(&raw)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore FetchDialogState not found", "phone_number", phoneNumber)
		return models.NewDialogState(phoneNumber), nil
	}
	if err != nil {
		slog.Error("SQLiteStore FetchDialogState failed", "error", err, "phone_number", phoneNumber)
		return nil, fmt.Errorf("failed to fetch dialog state for %s: %w", phoneNumber, err)
	}
	var state models.DialogState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		slog.Error("SQLiteStore FetchDialogState unmarshal failed", "error", err, "phone_number", phoneNumber)
		return nil, fmt.Errorf("failed to decode dialog state for %s: %w", phoneNumber, err)
	}
	return &state, nil
}

// PersistDialogState writes the batch and the state snapshot in one
// transaction.
func (s *SQLiteStore) PersistDialogState(ctx context.Context, batch *events.DialogEventBatch, state *models.DialogState) error {
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
		slog.Error("SQLiteStore PersistDialogState begin failed", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dialog_states (phone_number, seq, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(phone_number) DO UPDATE SET
			seq = excluded.seq, state = excluded.state, updated_at = excluded.updated_at`,
		state.PhoneNumber, state.Seq, string(stateJSON), time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore PersistDialogState state write failed", "error", err, "phone_number", state.PhoneNumber)
		return fmt.Errorf("failed to write dialog state for %s: %w", state.PhoneNumber, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dialog_event_batches (batch_id, phone_number, seq, created_time, batch)
		VALUES (?, ?, ?, ?, ?)`,
		batch.BatchID.String(), batch.PhoneNumber, batch.Seq, batch.CreatedTime, string(batchJSON))
	if err != nil {
		slog.Error("SQLiteStore PersistDialogState batch write failed", "error", err, "batch_id", batch.BatchID)
		return fmt.Errorf("failed to write event batch %s: %w", batch.BatchID, err)
	}

	if err := tx.Commit(); err != nil {
		slog.Error("SQLiteStore PersistDialogState commit failed", "error", err)
		return fmt.Errorf("failed to commit dialog persist: %w", err)
	}
	slog.Debug("SQLiteStore PersistDialogState succeeded",
		"phone_number", state.PhoneNumber, "seq", state.Seq, "events", len(batch.Events))
	return nil
}

// FetchEventBatches returns a subscriber's persisted batches in creation
// order (for inspection and tests).
func (s *SQLiteStore) FetchEventBatches(ctx context.Context, phoneNumber string) ([]*events.DialogEventBatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch FROM dialog_event_batches
		WHERE phone_number = ? ORDER BY created_time`, phoneNumber)
	if err != nil {
		slog.Error("SQLiteStore FetchEventBatches query failed", "error", err, "phone_number", phoneNumber)
		return nil, fmt.Errorf("failed to query event batches: %w", err)
	}
	defer rows.Close()

	var batches []*events.DialogEventBatch
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan event batch row: %w", err)
		}
		var batch events.DialogEventBatch
		if err := json.Unmarshal([]byte(raw), &batch); err != nil {
			return nil, fmt.Errorf("failed to decode event batch: %w", err)
		}
		batches = append(batches, &batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event batch rows: %w", err)
	}
	return batches, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
