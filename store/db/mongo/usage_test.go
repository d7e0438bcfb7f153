package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/internal/profile"
	"github.com/francktshibala/bookbridge/store/storetest"
)

// TestUsageLedger runs against the database named by BOOKBRIDGE_TEST_MONGO_URI.
func TestUsageLedger(t *testing.T) {
	uri := os.Getenv("BOOKBRIDGE_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("BOOKBRIDGE_TEST_MONGO_URI not set")
	}
	driver, err := NewDB(&profile.Profile{DSN: uri})
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })

	ctx := context.Background()
	mdb := driver.(*DB)
	require.NoError(t, mdb.db.Drop(ctx))
	require.NoError(t, driver.Migrate(ctx))

	storetest.RunLedgerTests(t, driver)
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "ledger", databaseName("mongodb://localhost:27017/ledger"))
	assert.Equal(t, defaultDatabase, databaseName("mongodb://localhost:27017"))
	assert.Equal(t, defaultDatabase, databaseName("not a uri"))
}
