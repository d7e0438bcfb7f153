package usage

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
	"github.com/francktshibala/bookbridge/internal/profile"
	"github.com/francktshibala/bookbridge/store"
	"github.com/francktshibala/bookbridge/store/db/sqlite"
)

var fixedNow = time.Date(2024, 5, 17, 23, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newLedger(t *testing.T) store.Driver {
	t.Helper()
	driver, err := sqlite.NewDB(&profile.Profile{DSN: filepath.Join(t.TempDir(), "usage.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	return driver
}

func seed(t *testing.T, ledger store.UsageLedger, userID string, cost float64) {
	t.Helper()
	require.NoError(t, ledger.IncrementUsage(context.Background(), userID, store.DateOf(fixedNow), store.UsageDelta{Queries: 1, Tokens: 100, CostUSD: cost}))
}

type rejections struct {
	mu     sync.Mutex
	scopes []ai.LimitScope
}

func (r *rejections) RecordRejection(scope ai.LimitScope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scopes = append(r.scopes, scope)
}

func TestGovernor_UserCeiling(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	rec := &rejections{}
	g := NewGovernor(ledger, DefaultLimits(), WithGovernorClock(clock), WithRejectionRecorder(rec))

	seed(t, ledger, "at-limit", 10.00)
	seed(t, ledger, "under-limit", 9.99)

	d, err := g.CheckLimits(ctx, "at-limit")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ai.ScopeUser, d.Scope)
	assert.Contains(t, d.Reason, "user limit")

	limitErr := d.Err()
	assert.ErrorIs(t, limitErr, ai.ErrUsageLimitExceeded)
	var ule *ai.UsageLimitError
	require.ErrorAs(t, limitErr, &ule)
	assert.Equal(t, ai.ScopeUser, ule.Scope)

	d, err = g.CheckLimits(ctx, "under-limit")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.NoError(t, d.Err())

	assert.Equal(t, []ai.LimitScope{ai.ScopeUser}, rec.scopes)
}

func TestGovernor_FirstTimeUser(t *testing.T) {
	g := NewGovernor(newLedger(t), DefaultLimits(), WithGovernorClock(clock))
	d, err := g.CheckLimits(context.Background(), "brand-new")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGovernor_SystemCeilingRejectsEveryone(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	g := NewGovernor(ledger, DefaultLimits(), WithGovernorClock(clock))

	for i := 0; i < 15; i++ {
		seed(t, ledger, "heavy-"+string(rune('a'+i)), 10)
	}

	d, err := g.CheckLimits(ctx, "zero-usage")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ai.ScopeSystem, d.Scope)
	assert.Contains(t, d.Reason, "system limit")
	assert.InDelta(t, 150.0, d.SpentUSD, 1e-9)
}

func TestGovernor_YesterdayDoesNotCount(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	yesterday := store.DateOf(fixedNow.Add(-24 * time.Hour))
	require.NoError(t, ledger.IncrementUsage(ctx, "u", yesterday, store.UsageDelta{Queries: 1, CostUSD: 50}))

	d, err := NewGovernor(ledger, DefaultLimits(), WithGovernorClock(clock)).CheckLimits(ctx, "u")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGovernor_CustomLimits(t *testing.T) {
	ledger := newLedger(t)
	seed(t, ledger, "u", 1)
	g := NewGovernor(ledger, Limits{UserDailyUSD: 1, SystemDailyUSD: 100}, WithGovernorClock(clock))

	d, err := g.CheckLimits(context.Background(), "u")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, Limits{UserDailyUSD: 1, SystemDailyUSD: 100}, g.Limits())
	assert.Equal(t, DefaultLimits(), NewGovernor(ledger, Limits{}).Limits())
}

type failingLedger struct{ store.UsageLedger }

func (failingLedger) GetUserUsage(context.Context, string, string) (*store.UsageRecord, error) {
	return nil, errors.New("db down")
}

func (failingLedger) GetSystemUsage(context.Context, string) (*store.SystemUsageRecord, error) {
	return nil, errors.New("db down")
}

func (failingLedger) IncrementUsage(context.Context, string, string, store.UsageDelta) error {
	return errors.New("db down")
}

func TestGovernor_LedgerErrorsFailOpen(t *testing.T) {
	d, err := NewGovernor(failingLedger{}, DefaultLimits()).CheckLimits(context.Background(), "u")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestGovernor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGovernor(failingLedger{}, DefaultLimits()).CheckLimits(ctx, "u")
	assert.ErrorIs(t, err, context.Canceled)
}

type directory map[string]bool

func (d directory) Exists(_ context.Context, id string) (bool, error) { return d[id], nil }

func TestGovernor_UnknownUserSkipsUserRow(t *testing.T) {
	ledger := newLedger(t)
	seed(t, ledger, "ghost", 20)
	g := NewGovernor(ledger, DefaultLimits(), WithGovernorClock(clock), WithUserDirectory(directory{"known": true}))

	d, err := g.CheckLimits(context.Background(), "ghost")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

type spendRecorder struct {
	calls int
	cost  float64
}

func (s *spendRecorder) RecordSpend(_ llm.Tier, _ llm.Usage, cost float64) {
	s.calls++
	s.cost += cost
}

func TestTracker_FirstQueryCreatesRecord(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	rec := &spendRecorder{}
	tr := NewTracker(ledger, WithTrackerClock(clock), WithSpendRecorder(rec))

	tr.Record(ctx, "new-user", llm.Usage{PromptTokens: 80, CompletionTokens: 40, TotalTokens: 120}, llm.TierEconomy, 0.000224)

	got, err := ledger.GetUserUsage(ctx, "new-user", store.DateOf(fixedNow))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Queries)
	assert.Equal(t, int64(120), got.Tokens)
	assert.InDelta(t, 0.000224, got.CostUSD, 1e-12)

	sys, err := ledger.GetSystemUsage(ctx, store.DateOf(fixedNow))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sys.Queries)

	assert.Equal(t, 1, rec.calls)
}

func TestTracker_CancelledRequestStillRecords(t *testing.T) {
	ledger := newLedger(t)
	tr := NewTracker(ledger, WithTrackerClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr.Record(ctx, "u", llm.Usage{TotalTokens: 10}, llm.TierPremium, 0.5)

	got, err := ledger.GetUserUsage(context.Background(), "u", store.DateOf(fixedNow))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.Queries)
}

func TestTracker_FailureIsSwallowed(t *testing.T) {
	assert.NotPanics(t, func() {
		NewTracker(failingLedger{}).Record(context.Background(), "u", llm.Usage{TotalTokens: 1}, llm.TierEconomy, 0.1)
	})
}

func TestGovernorAndTracker_EndToEnd(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	g := NewGovernor(ledger, Limits{UserDailyUSD: 1, SystemDailyUSD: 150}, WithGovernorClock(clock))
	tr := NewTracker(ledger, WithTrackerClock(clock))

	for i := 0; i < 4; i++ {
		d, err := g.CheckLimits(ctx, "reader")
		require.NoError(t, err)
		require.True(t, d.Allowed, "query %d", i)
		tr.Record(ctx, "reader", llm.Usage{TotalTokens: 1000}, llm.TierPremium, 0.25)
	}

	d, err := g.CheckLimits(ctx, "reader")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "$1.00 spent reaches the $1.00 ceiling")
}
