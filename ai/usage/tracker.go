package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/francktshibala/bookbridge/ai/core/llm"
	"github.com/francktshibala/bookbridge/store"
)

// DefaultRecordTimeout bounds one ledger write.
const DefaultRecordTimeout = 5 * time.Second

// SpendRecorder observes recorded spend. ai/metrics implements it.
type SpendRecorder interface {
	RecordSpend(tier llm.Tier, usage llm.Usage, costUSD float64)
}

// Tracker writes per-user and system spend after every successful provider call.
type Tracker struct {
	ledger   store.UsageLedger
	recorder SpendRecorder
	timeout  time.Duration
	now      func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithSpendRecorder sets the metrics hook.
func WithSpendRecorder(r SpendRecorder) TrackerOption {
	return func(t *Tracker) { t.recorder = r }
}

// WithTrackerClock overrides time.Now, for tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithRecordTimeout overrides DefaultRecordTimeout.
func WithRecordTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTracker creates a tracker.
func NewTracker(ledger store.UsageLedger, opts ...TrackerOption) *Tracker {
	t := &Tracker{ledger: ledger, timeout: DefaultRecordTimeout, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record adds one query with usage and cost to today's user and system rows. It runs
// detached from ctx cancellation so a caller that has gone away still gets billed.
// Failures are logged; accounting never fails the request.
func (t *Tracker) Record(ctx context.Context, userID string, usage llm.Usage, tier llm.Tier, cost float64) {
	if t.recorder != nil {
		t.recorder.RecordSpend(tier, usage, cost)
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	date := store.DateOf(t.now())
	delta := store.UsageDelta{Queries: 1, Tokens: int64(usage.TotalTokens), CostUSD: cost}
	if err := t.ledger.IncrementUsage(writeCtx, userID, date, delta); err != nil {
		slog.Error("usage: failed to record spend",
			"user_id", userID,
			"date", date,
			"tier", tier,
			"tokens", usage.TotalTokens,
			"cost_usd", cost,
			"error", err,
		)
		return
	}
	slog.Debug("usage: recorded spend", "user_id", userID, "tier", tier, "tokens", usage.TotalTokens, "cost_usd", cost)
}
