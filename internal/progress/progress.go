// Package progress maintains the drill-instance projection.
//
// It is a downstream consumer of persisted dialog event batches: it derives a
// queryable Postgres view of each drill run (start, current prompt,
// completion, invalidation) and carries its own idempotency, independent of
// the engine's sequencing, so re-delivery of a batch is harmless.
package progress

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/BellwoodLabs/DrillLine/internal/events"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// DrillInstance is one row of the projection: a single run of a drill for
// one subscriber.
type DrillInstance struct {
	DrillInstanceID               uuid.UUID  `json:"drill_instance_id"`
	PhoneNumber                   string     `json:"phone_number"`
	DrillSlug                     string     `json:"drill_slug"`
	CurrentPromptSlug             *string    `json:"current_prompt_slug,omitempty"`
	CurrentPromptStartTime        *time.Time `json:"current_prompt_start_time,omitempty"`
	CurrentPromptLastResponseTime *time.Time `json:"current_prompt_last_response_time,omitempty"`
	CompletionTime                *time.Time `json:"completion_time,omitempty"`
	IsValid                       bool       `json:"is_valid"`
}

// Opts holds configuration options for the projection repository.
type Opts struct {
	DSN string
}

// Option defines a configuration option for the projection repository.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// Repository owns the drill-instance projection tables.
type Repository struct {
	db *sql.DB
}

// NewRepository opens the projection database and runs migrations.
func NewRepository(opts ...Option) (*Repository, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("progress Repository DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run progress migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Repository{db: db}, nil
}

// HandleBatch folds one event batch into the projection. A batch already
// seen is skipped whole; the processed-batch marker and the row updates
// commit together.
func (r *Repository) HandleBatch(ctx context.Context, batch *events.DialogEventBatch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_batches (batch_id, phone_number, seq, processed_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (batch_id) DO NOTHING`,
		batch.BatchID, batch.PhoneNumber, batch.Seq, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record batch %s: %w", batch.BatchID, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check batch insert: %w", err)
	}
	if inserted == 0 {
		slog.Info("progress Repository skipping already processed batch",
			"batch_id", batch.BatchID, "phone_number", batch.PhoneNumber)
		return nil
	}

	for _, ev := range batch.Events {
		if err := r.applyEvent(ctx, tx, batch.PhoneNumber, ev); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch %s: %w", batch.BatchID, err)
	}
	slog.Debug("progress Repository applied batch",
		"batch_id", batch.BatchID, "phone_number", batch.PhoneNumber, "events", len(batch.Events))
	return nil
}

func (r *Repository) applyEvent(ctx context.Context, tx *sql.Tx, phoneNumber string, ev events.Event) error {
	switch e := ev.(type) {
	case *events.DrillStarted:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO drill_instances
				(drill_instance_id, phone_number, drill_slug, current_prompt_slug, current_prompt_start_time, is_valid)
			VALUES ($1, $2, $3, $4, $5, TRUE)
			ON CONFLICT (drill_instance_id) DO NOTHING`,
			e.DrillInstanceID, phoneNumber, e.Drill.Slug, e.FirstPrompt.Slug, e.CreatedTime)
		return wrapApplyErr(err, ev)
	case *events.AdvancedToNextPrompt:
		_, err := tx.ExecContext(ctx, `
			UPDATE drill_instances SET
				current_prompt_slug = $2,
				current_prompt_start_time = $3,
				current_prompt_last_response_time = NULL
			WHERE drill_instance_id = $1`,
			e.DrillInstanceID, e.Prompt.Slug, e.CreatedTime)
		return wrapApplyErr(err, ev)
	case *events.CompletedPrompt:
		_, err := tx.ExecContext(ctx, `
			UPDATE drill_instances SET current_prompt_last_response_time = $2
			WHERE drill_instance_id = $1`,
			e.DrillInstanceID, e.CreatedTime)
		return wrapApplyErr(err, ev)
	case *events.FailedPrompt:
		_, err := tx.ExecContext(ctx, `
			UPDATE drill_instances SET current_prompt_last_response_time = $2
			WHERE drill_instance_id = $1`,
			e.DrillInstanceID, e.CreatedTime)
		return wrapApplyErr(err, ev)
	case *events.DrillCompleted:
		_, err := tx.ExecContext(ctx, `
			UPDATE drill_instances SET
				completion_time = $2,
				current_prompt_slug = NULL,
				current_prompt_start_time = NULL,
				current_prompt_last_response_time = NULL
			WHERE drill_instance_id = $1`,
			e.DrillInstanceID, e.CreatedTime)
		return wrapApplyErr(err, ev)
	case *events.OptedOut:
		return wrapApplyErr(r.invalidateIncomplete(ctx, tx, phoneNumber), ev)
	case *events.UserValidated:
		// Revalidation restarts the program; prior incomplete runs no
		// longer reflect the subscriber's progress.
		return wrapApplyErr(r.invalidateIncomplete(ctx, tx, phoneNumber), ev)
	default:
		return nil
	}
}

func (r *Repository) invalidateIncomplete(ctx context.Context, tx *sql.Tx, phoneNumber string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE drill_instances SET is_valid = FALSE
		WHERE phone_number = $1 AND completion_time IS NULL`, phoneNumber)
	return err
}

func wrapApplyErr(err error, ev events.Event) error {
	if err != nil {
		return fmt.Errorf("failed to apply %s event: %w", ev.Type(), err)
	}
	return nil
}

// GetDrillInstance fetches one projection row.
func (r *Repository) GetDrillInstance(ctx context.Context, id uuid.UUID) (*DrillInstance, error) {
	var di DrillInstance
	err := r.db.QueryRowContext(ctx, `
		SELECT drill_instance_id, phone_number, drill_slug, current_prompt_slug,
			current_prompt_start_time, current_prompt_last_response_time,
			completion_time, is_valid
		FROM drill_instances WHERE drill_instance_id = $1`, id).Scan(
		&di.DrillInstanceID, &di.PhoneNumber, &di.DrillSlug, &di.CurrentPromptSlug,
		&di.CurrentPromptStartTime, &di.CurrentPromptLastResponseTime,
		&di.CompletionTime, &di.IsValid)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch drill instance %s: %w", id, err)
	}
	return &di, nil
}

// ListIncompleteDrills returns valid, unfinished runs idle since before the
// given cutoff; the reminder scheduler feeds on this.
func (r *Repository) ListIncompleteDrills(ctx context.Context, idleSince time.Time) ([]DrillInstance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT drill_instance_id, phone_number, drill_slug, current_prompt_slug,
			current_prompt_start_time, current_prompt_last_response_time,
			completion_time, is_valid
		FROM drill_instances
		WHERE is_valid AND completion_time IS NULL
			AND COALESCE(current_prompt_last_response_time, current_prompt_start_time) < $1`,
		idleSince)
	if err != nil {
		return nil, fmt.Errorf("failed to query incomplete drills: %w", err)
	}
	defer rows.Close()

	var out []DrillInstance
	for rows.Next() {
		var di DrillInstance
		if err := rows.Scan(
			&di.DrillInstanceID, &di.PhoneNumber, &di.DrillSlug, &di.CurrentPromptSlug,
			&di.CurrentPromptStartTime, &di.CurrentPromptLastResponseTime,
			&di.CompletionTime, &di.IsValid); err != nil {
			return nil, fmt.Errorf("failed to scan drill instance row: %w", err)
		}
		out = append(out, di)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate drill instance rows: %w", err)
	}
	return out, nil
}

// Close closes the projection database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}
