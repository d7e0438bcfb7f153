package postgres

import (
	"context"
	"database/sql"
	"time"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/francktshibala/bookbridge/internal/profile"
	"github.com/francktshibala/bookbridge/store"
)

const connectTimeout = 10 * time.Second

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a PostgreSQL connection pool and verifies it with a ping.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping db")
	}

	return &DB{db: db, profile: profile}, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS user_daily_usage (
	user_id     TEXT NOT NULL,
	usage_date  DATE NOT NULL,
	queries     BIGINT NOT NULL DEFAULT 0,
	tokens      BIGINT NOT NULL DEFAULT 0,
	cost_usd    NUMERIC(14, 6) NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, usage_date)
);

CREATE TABLE IF NOT EXISTS system_daily_usage (
	usage_date  DATE PRIMARY KEY,
	queries     BIGINT NOT NULL DEFAULT 0,
	tokens      BIGINT NOT NULL DEFAULT 0,
	cost_usd    NUMERIC(14, 6) NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// Migrate creates the ledger tables.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to migrate usage schema")
	}
	return nil
}
