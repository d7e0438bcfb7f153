package store

import (
	"context"
)

// Driver is implemented by each database backend.
type Driver interface {
	UsageLedger

	// Migrate creates the ledger schema if it does not exist.
	Migrate(ctx context.Context) error
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// Store provides database access to the usage ledger.
type Store struct {
	driver Driver
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{driver: driver}
}

func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.driver.Ping(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

func (s *Store) GetUserUsage(ctx context.Context, userID, date string) (*UsageRecord, error) {
	return s.driver.GetUserUsage(ctx, userID, date)
}

func (s *Store) GetSystemUsage(ctx context.Context, date string) (*SystemUsageRecord, error) {
	return s.driver.GetSystemUsage(ctx, date)
}

func (s *Store) IncrementUsage(ctx context.Context, userID, date string, delta UsageDelta) error {
	return s.driver.IncrementUsage(ctx, userID, date, delta)
}
