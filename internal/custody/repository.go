package custody

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyotek/custody-core/internal/device"
)

// History limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// Repository stores and retrieves custody movements.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// AppendMovement atomically appends a movement row and advances the
	// device projection, guarded by the optimistic version check.
	// Returns ErrConcurrentModification when expectedVersion no longer
	// matches the stored row.
	AppendMovement(ctx context.Context, entry *MovementEntry, expectedVersion int64) error

	// GetHistory returns recent movements for the device, newest first.
	// The limit is clamped (default 50, max 200).
	GetHistory(ctx context.Context, deviceID string, limit int) ([]MovementEntry, error)

	// PruneHistory deletes movements older than the given duration.
	// Returns the number of rows deleted.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed movement repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// AppendMovement appends a movement row and advances the device projection
// in one transaction.
//
// The UPDATE carries both the id and the version the caller read; zero
// rows affected means another movement committed in between, and the
// whole transaction rolls back.
func (r *SQLiteRepository) AppendMovement(ctx context.Context, entry *MovementEntry, expectedVersion int64) error {
	if entry.ID == "" {
		entry.ID = "mov-" + uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning movement transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`INSERT INTO movements (id, device_id, from_state, to_state, operation, notes, actor, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.DeviceID,
		string(entry.FromState),
		string(entry.ToState),
		string(entry.Operation),
		nullable(entry.Notes),
		nullable(entry.Actor),
		entry.OccurredAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting movement: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE devices
		 SET possession_state = ?, last_movement_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(entry.ToState),
		entry.OccurredAt.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		entry.DeviceID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating device projection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrConcurrentModification
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing movement: %w", err)
	}

	return nil
}

// GetHistory returns recent movements for a device, ordered newest first.
func (r *SQLiteRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]MovementEntry, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, from_state, to_state, operation, notes, actor, occurred_at
		 FROM movements
		 WHERE device_id = ?
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT ?`,
		deviceID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying movements: %w", err)
	}
	defer rows.Close()

	entries := make([]MovementEntry, 0, limit)
	for rows.Next() {
		var entry MovementEntry
		var fromState, toState, operation string
		var notes, actor sql.NullString
		var occurredAt string

		if err := rows.Scan(&entry.ID, &entry.DeviceID, &fromState, &toState,
			&operation, &notes, &actor, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning movement: %w", err)
		}

		entry.FromState = device.PossessionState(fromState)
		entry.ToState = device.PossessionState(toState)
		entry.Operation = Operation(operation)
		entry.Notes = notes.String
		entry.Actor = actor.String

		timestamp, err := time.Parse(time.RFC3339, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		entry.OccurredAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating movements: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes movements older than the given duration.
//
// Retention is opt-in: the caller decides the horizon, and a zero or
// negative duration is rejected rather than interpreted as "everything".
func (r *SQLiteRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM movements WHERE occurred_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting movements: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// nullable returns a sql.NullString for optional string values.
func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
