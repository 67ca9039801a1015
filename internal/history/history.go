package history

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/geomodel-core/internal/table"
)

// Response history source values.
const (
	SourcePoll      = "poll"
	SourceSimulator = "simulator"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// timestampLayout is fixed width so stored timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// ErrInvalidDevice is returned for operations on an undeclared device.
var ErrInvalidDevice = errors.New("history: invalid device")

// Entry is one cached response the bridge observed changing.
type Entry struct {
	ID         int64        `json:"id"`
	Device     table.Device `json:"device"`
	Status     table.Status `json:"status"`
	Value      float64      `json:"value"`
	Seconds    int          `json:"seconds"`
	Source     string       `json:"source"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// NewEntry builds an entry from a controller response.
func NewEntry(resp table.Response, source string) Entry {
	return Entry{
		Device:  resp.Device,
		Status:  resp.Status,
		Value:   resp.Value,
		Seconds: resp.Seconds,
		Source:  source,
	}
}

// Repository stores and retrieves response history.
//
// Implementations must be thread-safe and use UTC timestamps.
type Repository interface {
	// Record persists one entry. RecordedAt defaults to now.
	Record(ctx context.Context, entry Entry) error

	// List returns recent entries for the device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - device: Declared table device
	//   - limit: Maximum entries to return (default 50, max 200)
	//
	// Returns:
	//   - []Entry: Entries ordered by recorded_at DESC (may be empty)
	//   - error: ErrInvalidDevice or the underlying query error
	List(ctx context.Context, device table.Device, limit int) ([]Entry, error)

	// Prune deletes entries older than now-olderThan and returns the count.
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return ts, nil
	}
	if fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value); fallbackErr == nil {
		return fallback, nil
	}
	return time.Time{}, err
}
