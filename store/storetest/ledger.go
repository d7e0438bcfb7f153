// Package storetest holds the behaviour every UsageLedger driver must satisfy.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/store"
)

// RunLedgerTests exercises a migrated, empty ledger.
func RunLedgerTests(t *testing.T, ledger store.UsageLedger) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing rows are nil", func(t *testing.T) {
		rec, err := ledger.GetUserUsage(ctx, "nobody", "2024-01-01")
		require.NoError(t, err)
		assert.Nil(t, rec)

		sys, err := ledger.GetSystemUsage(ctx, "1999-01-01")
		require.NoError(t, err)
		assert.Nil(t, sys)
	})

	t.Run("first increment creates rows", func(t *testing.T) {
		require.NoError(t, ledger.IncrementUsage(ctx, "alice", "2024-03-01", store.UsageDelta{Queries: 1, Tokens: 120, CostUSD: 0.0012}))

		rec, err := ledger.GetUserUsage(ctx, "alice", "2024-03-01")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "alice", rec.UserID)
		assert.Equal(t, "2024-03-01", rec.Date)
		assert.Equal(t, int64(1), rec.Queries)
		assert.Equal(t, int64(120), rec.Tokens)
		assert.InDelta(t, 0.0012, rec.CostUSD, 1e-9)
		assert.False(t, rec.UpdatedAt.IsZero())

		sys, err := ledger.GetSystemUsage(ctx, "2024-03-01")
		require.NoError(t, err)
		require.NotNil(t, sys)
		assert.Equal(t, int64(1), sys.Queries)
	})

	t.Run("increments accumulate per user and per day", func(t *testing.T) {
		date := "2024-03-02"
		require.NoError(t, ledger.IncrementUsage(ctx, "bob", date, store.UsageDelta{Queries: 1, Tokens: 100, CostUSD: 1.5}))
		require.NoError(t, ledger.IncrementUsage(ctx, "bob", date, store.UsageDelta{Queries: 1, Tokens: 50, CostUSD: 0.25}))
		require.NoError(t, ledger.IncrementUsage(ctx, "carol", date, store.UsageDelta{Queries: 1, Tokens: 10, CostUSD: 0.5}))
		require.NoError(t, ledger.IncrementUsage(ctx, "bob", "2024-03-03", store.UsageDelta{Queries: 1, Tokens: 1, CostUSD: 9}))

		bob, err := ledger.GetUserUsage(ctx, "bob", date)
		require.NoError(t, err)
		assert.Equal(t, int64(2), bob.Queries)
		assert.Equal(t, int64(150), bob.Tokens)
		assert.InDelta(t, 1.75, bob.CostUSD, 1e-9)

		sys, err := ledger.GetSystemUsage(ctx, date)
		require.NoError(t, err)
		assert.Equal(t, int64(3), sys.Queries)
		assert.Equal(t, int64(160), sys.Tokens)
		assert.InDelta(t, 2.25, sys.CostUSD, 1e-9)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		const n = 20
		date := "2024-03-04"
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- ledger.IncrementUsage(ctx, "dave", date, store.UsageDelta{Queries: 1, Tokens: 10, CostUSD: 0.01})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rec, err := ledger.GetUserUsage(ctx, "dave", date)
		require.NoError(t, err)
		assert.Equal(t, int64(n), rec.Queries, fmt.Sprintf("expected %d queries", n))
		assert.Equal(t, int64(n*10), rec.Tokens)
		assert.InDelta(t, 0.2, rec.CostUSD, 1e-9)
	})
}
