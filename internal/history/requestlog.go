package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/geomodel-core/internal/table"
)

// Request origins.
const (
	OriginMQTT   = "mqtt"
	OriginAPI    = "api"
	OriginScript = "script"
)

// Request outcomes.
const (
	OutcomeSent     = "sent"
	OutcomeRejected = "rejected"
	OutcomeIgnored  = "ignored"
)

// RequestRecord is one request someone asked the table to perform.
type RequestRecord struct {
	ID        string       `json:"id"`
	Device    table.Device `json:"device"`
	Verb      table.Verb   `json:"verb"`
	Value     float64      `json:"value"`
	Seconds   int          `json:"seconds"`
	Origin    string       `json:"origin"`
	Outcome   string       `json:"outcome"`
	Detail    string       `json:"detail,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewRequestRecord builds a record for req.
func NewRequestRecord(req table.Request, origin, outcome, detail string) *RequestRecord {
	return &RequestRecord{
		Device:  req.Device,
		Verb:    req.Verb,
		Value:   req.Value,
		Seconds: req.Seconds,
		Origin:  origin,
		Outcome: outcome,
		Detail:  detail,
	}
}

// RequestFilter controls which records List returns.
type RequestFilter struct {
	Origin  string // optional
	Outcome string // optional
	Limit   int    // default 50, max 200
	Offset  int
}

// RequestPage is a page of request records.
type RequestPage struct {
	Requests []RequestRecord `json:"requests"`
	Total    int             `json:"total"`
	Limit    int             `json:"limit"`
	Offset   int             `json:"offset"`
}

// RequestLog records table requests and their outcomes.
type RequestLog interface {
	Create(ctx context.Context, rec *RequestRecord) error
	List(ctx context.Context, filter RequestFilter) (*RequestPage, error)
}

// SQLiteRequestLog implements RequestLog on the request_log table.
type SQLiteRequestLog struct {
	db *sql.DB
}

// NewSQLiteRequestLog creates a request log repository.
func NewSQLiteRequestLog(db *sql.DB) *SQLiteRequestLog {
	return &SQLiteRequestLog{db: db}
}

// Create inserts rec. ID and CreatedAt are generated if empty.
func (r *SQLiteRequestLog) Create(ctx context.Context, rec *RequestRecord) error {
	if rec.ID == "" {
		rec.ID = "req-" + uuid.NewString()[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO request_log (id, device, verb, value, seconds, origin, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Device.Slug(), string(rec.Verb), rec.Value, rec.Seconds,
		rec.Origin, rec.Outcome, nullableString(rec.Detail),
		rec.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting request log: %w", err)
	}
	return nil
}

// nullableString maps "" to NULL for nullable TEXT columns.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns records matching filter, newest first.
func (r *SQLiteRequestLog) List(ctx context.Context, filter RequestFilter) (*RequestPage, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Origin != "" {
		conditions = append(conditions, "origin = ?")
		args = append(args, filter.Origin)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM request_log " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting request log: %w", err)
	}

	query := "SELECT id, device, verb, value, seconds, origin, outcome, detail, created_at FROM request_log " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying request log: %w", err)
	}
	defer rows.Close()

	records := []RequestRecord{}
	for rows.Next() {
		var rec RequestRecord
		var device, verb, createdAt string
		var detail sql.NullString

		if err := rows.Scan(&rec.ID, &device, &verb, &rec.Value, &rec.Seconds,
			&rec.Origin, &rec.Outcome, &detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning request log: %w", err)
		}
		if err := rec.Device.UnmarshalText([]byte(device)); err != nil {
			return nil, fmt.Errorf("request log %s: %w", rec.ID, err)
		}
		rec.Verb = table.Verb(verb)
		if detail.Valid {
			rec.Detail = detail.String
		}
		ts, err := parseTimestamp(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing request log timestamp %q: %w", createdAt, err)
		}
		rec.CreatedAt = ts

		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating request log: %w", err)
	}

	return &RequestPage{Requests: records, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}
