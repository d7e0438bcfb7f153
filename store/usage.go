package store

import (
	"context"
	"time"
)

// DateLayout is the ledger's calendar-day key format (UTC).
const DateLayout = "2006-01-02"

// UsageRecord is one user's running totals for one UTC day.
type UsageRecord struct {
	UserID    string    `json:"user_id"`
	Date      string    `json:"date"`
	Queries   int64     `json:"queries"`
	Tokens    int64     `json:"tokens"`
	CostUSD   float64   `json:"cost_usd"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SystemUsageRecord is the system-wide running totals for one UTC day.
type SystemUsageRecord struct {
	Date      string    `json:"date"`
	Queries   int64     `json:"queries"`
	Tokens    int64     `json:"tokens"`
	CostUSD   float64   `json:"cost_usd"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageDelta is added to both the user row and the system row.
type UsageDelta struct {
	Queries int64
	Tokens  int64
	CostUSD float64
}

// UsageLedger is the durable daily spend ledger.
//
// Get methods return (nil, nil) when the row does not exist yet. IncrementUsage must be
// an atomic upsert-with-increment at the storage layer for both rows; implementations
// never read-modify-write in application code.
type UsageLedger interface {
	GetUserUsage(ctx context.Context, userID, date string) (*UsageRecord, error)
	GetSystemUsage(ctx context.Context, date string) (*SystemUsageRecord, error)
	IncrementUsage(ctx context.Context, userID, date string, delta UsageDelta) error
}

// DateOf returns the ledger day key for t.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
