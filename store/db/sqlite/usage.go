package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/francktshibala/bookbridge/store"
)

func (d *DB) GetUserUsage(ctx context.Context, userID, date string) (*store.UsageRecord, error) {
	query := `
		SELECT user_id, usage_date, queries, tokens, cost_usd, updated_at
		FROM user_daily_usage
		WHERE user_id = ? AND usage_date = ?`

	rec := &store.UsageRecord{}
	var updatedTs int64
	err := d.db.QueryRowContext(ctx, query, userID, date).Scan(
		&rec.UserID, &rec.Date, &rec.Queries, &rec.Tokens, &rec.CostUSD, &updatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user usage")
	}
	rec.UpdatedAt = time.Unix(updatedTs, 0).UTC()
	return rec, nil
}

func (d *DB) GetSystemUsage(ctx context.Context, date string) (*store.SystemUsageRecord, error) {
	query := `
		SELECT usage_date, queries, tokens, cost_usd, updated_at
		FROM system_daily_usage
		WHERE usage_date = ?`

	rec := &store.SystemUsageRecord{}
	var updatedTs int64
	err := d.db.QueryRowContext(ctx, query, date).Scan(
		&rec.Date, &rec.Queries, &rec.Tokens, &rec.CostUSD, &updatedTs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get system usage")
	}
	rec.UpdatedAt = time.Unix(updatedTs, 0).UTC()
	return rec, nil
}

func (d *DB) IncrementUsage(ctx context.Context, userID, date string, delta store.UsageDelta) error {
	now := time.Now().Unix()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin usage transaction")
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_daily_usage (user_id, usage_date, queries, tokens, cost_usd, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, usage_date) DO UPDATE SET
			queries = queries + excluded.queries,
			tokens = tokens + excluded.tokens,
			cost_usd = cost_usd + excluded.cost_usd,
			updated_at = excluded.updated_at`,
		userID, date, delta.Queries, delta.Tokens, delta.CostUSD, now,
	); err != nil {
		return errors.Wrap(err, "failed to increment user usage")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO system_daily_usage (usage_date, queries, tokens, cost_usd, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (usage_date) DO UPDATE SET
			queries = queries + excluded.queries,
			tokens = tokens + excluded.tokens,
			cost_usd = cost_usd + excluded.cost_usd,
			updated_at = excluded.updated_at`,
		date, delta.Queries, delta.Tokens, delta.CostUSD, now,
	); err != nil {
		return errors.Wrap(err, "failed to increment system usage")
	}

	return errors.Wrap(tx.Commit(), "failed to commit usage transaction")
}
