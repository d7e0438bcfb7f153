package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/internal/profile"
	"github.com/francktshibala/bookbridge/store/storetest"
)

// TestUsageLedger runs against a disposable database named by BOOKBRIDGE_TEST_POSTGRES_DSN.
func TestUsageLedger(t *testing.T) {
	dsn := os.Getenv("BOOKBRIDGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BOOKBRIDGE_TEST_POSTGRES_DSN not set")
	}
	driver, err := NewDB(&profile.Profile{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	ctx := context.Background()
	require.NoError(t, driver.Migrate(ctx))
	db := driver.(*DB).GetDB()
	_, err = db.ExecContext(ctx, "TRUNCATE user_daily_usage, system_daily_usage")
	require.NoError(t, err)

	storetest.RunLedgerTests(t, driver)
}

func TestNewDB_RequiresDSN(t *testing.T) {
	_, err := NewDB(&profile.Profile{})
	require.Error(t, err)
}
