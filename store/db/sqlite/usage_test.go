package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/internal/profile"
	"github.com/francktshibala/bookbridge/store/storetest"
)

func TestUsageLedger(t *testing.T) {
	driver, err := NewDB(&profile.Profile{DSN: filepath.Join(t.TempDir(), "ledger.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	require.NoError(t, driver.Migrate(context.Background()))
	require.NoError(t, driver.Migrate(context.Background()), "migrations are idempotent")

	storetest.RunLedgerTests(t, driver)
}
