package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of a pgx pool used by PostgresRecorder.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
}

const activitySchema = `
	CREATE TABLE IF NOT EXISTS activity_log (
		id BIGSERIAL PRIMARY KEY,
		action TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		state TEXT NOT NULL,
		tx_hash TEXT,
		fields JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)
`

// PostgresRecorder appends redacted records to the activity_log table.
type PostgresRecorder struct {
	db DBTX
}

// NewPostgresRecorder creates a PostgresRecorder
func NewPostgresRecorder(db DBTX) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// EnsureSchema creates the activity_log table if it does not exist.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, activitySchema); err != nil {
		return fmt.Errorf("failed to create activity schema: %w", err)
	}
	return nil
}

// Record creates a new activity entry
func (r *PostgresRecorder) Record(ctx context.Context, rec *Record) error {
	fields, err := json.Marshal(rec.Fields())
	if err != nil {
		return fmt.Errorf("failed to encode activity: %w", err)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO activity_log (action, correlation_id, state, tx_hash, fields, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
	`
	if _, err := r.db.Exec(ctx, query,
		rec.Action,
		rec.CorrelationID,
		rec.State,
		rec.TransactionHash,
		fields,
		createdAt,
	); err != nil {
		return fmt.Errorf("failed to create activity log: %w", err)
	}
	return nil
}
