package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/geomodel-core/internal/table"
)

// SQLiteRepository implements Repository on the response_history table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a response history repository.
//
// Parameters:
//   - db: Open SQLite connection with migrations applied
//
// Returns:
//   - *SQLiteRepository: Repository instance ready for use
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts one history entry.
func (r *SQLiteRepository) Record(ctx context.Context, entry Entry) error {
	if !entry.Device.Valid() {
		return fmt.Errorf("%w: code %d", ErrInvalidDevice, entry.Device.Code())
	}
	if entry.Source == "" {
		entry.Source = SourcePoll
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO response_history (device, status, value, seconds, source, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Device.Slug(),
		string(entry.Status),
		entry.Value,
		entry.Seconds,
		entry.Source,
		entry.RecordedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting response history: %w", err)
	}
	return nil
}

// List returns recent entries for device, newest first.
func (r *SQLiteRepository) List(ctx context.Context, device table.Device, limit int) ([]Entry, error) {
	if !device.Valid() {
		return nil, fmt.Errorf("%w: code %d", ErrInvalidDevice, device.Code())
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, status, value, seconds, source, recorded_at
		 FROM response_history
		 WHERE device = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		device.Slug(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying response history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		entry := Entry{Device: device}
		var status, recordedAt string

		if err := rows.Scan(&entry.ID, &status, &entry.Value, &entry.Seconds, &entry.Source, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning response history: %w", err)
		}
		entry.Status = table.Status(status)

		ts, err := parseTimestamp(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at %q: %w", recordedAt, err)
		}
		entry.RecordedAt = ts

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating response history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries recorded before now-olderThan.
func (r *SQLiteRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(timestampLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM response_history WHERE recorded_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting response history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
