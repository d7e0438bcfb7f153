package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/francktshibala/bookbridge/store"
)

// GetUserUsage returns the user's row for date, or nil when none exists.
func (d *DB) GetUserUsage(ctx context.Context, userID, date string) (*store.UsageRecord, error) {
	query := `
		SELECT user_id, to_char(usage_date, 'YYYY-MM-DD'), queries, tokens, cost_usd, updated_at
		FROM user_daily_usage
		WHERE user_id = $1 AND usage_date = $2::date`

	rec := &store.UsageRecord{}
	err := d.db.QueryRowContext(ctx, query, userID, date).Scan(
		&rec.UserID, &rec.Date, &rec.Queries, &rec.Tokens, &rec.CostUSD, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user usage: %w", err)
	}
	return rec, nil
}

// GetSystemUsage returns the system row for date, or nil when none exists.
func (d *DB) GetSystemUsage(ctx context.Context, date string) (*store.SystemUsageRecord, error) {
	query := `
		SELECT to_char(usage_date, 'YYYY-MM-DD'), queries, tokens, cost_usd, updated_at
		FROM system_daily_usage
		WHERE usage_date = $1::date`

	rec := &store.SystemUsageRecord{}
	err := d.db.QueryRowContext(ctx, query, date).Scan(
		&rec.Date, &rec.Queries, &rec.Tokens, &rec.CostUSD, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get system usage: %w", err)
	}
	return rec, nil
}

// IncrementUsage upserts both rows in one transaction. Each statement is an
// INSERT ... ON CONFLICT DO UPDATE that adds to the stored totals.
func (d *DB) IncrementUsage(ctx context.Context, userID, date string, delta store.UsageDelta) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin usage transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	userQuery := `
		INSERT INTO user_daily_usage (user_id, usage_date, queries, tokens, cost_usd, updated_at)
		VALUES ($1, $2::date, $3, $4, $5, NOW())
		ON CONFLICT (user_id, usage_date) DO UPDATE SET
			queries = user_daily_usage.queries + EXCLUDED.queries,
			tokens = user_daily_usage.tokens + EXCLUDED.tokens,
			cost_usd = user_daily_usage.cost_usd + EXCLUDED.cost_usd,
			updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, userQuery, userID, date, delta.Queries, delta.Tokens, delta.CostUSD); err != nil {
		return fmt.Errorf("failed to increment user usage: %w", err)
	}

	systemQuery := `
		INSERT INTO system_daily_usage (usage_date, queries, tokens, cost_usd, updated_at)
		VALUES ($1::date, $2, $3, $4, NOW())
		ON CONFLICT (usage_date) DO UPDATE SET
			queries = system_daily_usage.queries + EXCLUDED.queries,
			tokens = system_daily_usage.tokens + EXCLUDED.tokens,
			cost_usd = system_daily_usage.cost_usd + EXCLUDED.cost_usd,
			updated_at = NOW()`
	if _, err := tx.ExecContext(ctx, systemQuery, date, delta.Queries, delta.Tokens, delta.CostUSD); err != nil {
		return fmt.Errorf("failed to increment system usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit usage transaction: %w", err)
	}
	return nil
}
