// Package usage enforces the daily spend ceilings and records spend to the ledger.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/store"
)

// Limits are the daily ceilings in USD.
type Limits struct {
	UserDailyUSD   float64
	SystemDailyUSD float64
}

// DefaultLimits returns $10 per user and $150 system-wide.
func DefaultLimits() Limits {
	return Limits{UserDailyUSD: 10, SystemDailyUSD: 150}
}

// UserDirectory reports whether a user is known. Unknown users cannot have spent
// anything, so their ledger row is not read.
type UserDirectory interface {
	Exists(ctx context.Context, userID string) (bool, error)
}

// RejectionRecorder observes governor rejections. ai/metrics implements it.
type RejectionRecorder interface {
	RecordRejection(scope ai.LimitScope)
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed  bool
	Scope    ai.LimitScope
	Reason   string
	SpentUSD float64
	LimitUSD float64
}

// Err converts a rejection into *ai.UsageLimitError, or nil when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &ai.UsageLimitError{Scope: d.Scope, Reason: d.Reason, SpentUSD: d.SpentUSD, LimitUSD: d.LimitUSD}
}

// Governor checks today's spend against the ceilings before a provider call.
type Governor struct {
	ledger   store.UsageLedger
	limits   Limits
	users    UserDirectory
	recorder RejectionRecorder
	now      func() time.Time
}

// GovernorOption configures a Governor.
type GovernorOption func(*Governor)

// WithUserDirectory sets the known-user lookup.
func WithUserDirectory(d UserDirectory) GovernorOption {
	return func(g *Governor) { g.users = d }
}

// WithRejectionRecorder sets the metrics hook.
func WithRejectionRecorder(r RejectionRecorder) GovernorOption {
	return func(g *Governor) { g.recorder = r }
}

// WithGovernorClock overrides time.Now, for tests.
func WithGovernorClock(now func() time.Time) GovernorOption {
	return func(g *Governor) { g.now = now }
}

// NewGovernor creates a governor. Non-positive limits fall back to the defaults.
func NewGovernor(ledger store.UsageLedger, limits Limits, opts ...GovernorOption) *Governor {
	def := DefaultLimits()
	if limits.UserDailyUSD <= 0 {
		limits.UserDailyUSD = def.UserDailyUSD
	}
	if limits.SystemDailyUSD <= 0 {
		limits.SystemDailyUSD = def.SystemDailyUSD
	}
	g := &Governor{ledger: ledger, limits: limits, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Limits returns the configured ceilings.
func (g *Governor) Limits() Limits {
	return g.limits
}

// CheckLimits decides whether userID may make a provider call now. The system ceiling
// is checked first, so a system breach rejects every user. Spend equal to a ceiling is
// a rejection. Ledger read failures are logged and allow the request; only context
// cancellation is returned as an error.
func (g *Governor) CheckLimits(ctx context.Context, userID string) (Decision, error) {
	date := store.DateOf(g.now())

	sys, err := g.ledger.GetSystemUsage(ctx, date)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		slog.Warn("usage: system ledger read failed, allowing request", "date", date, "error", err)
	} else if spent := systemSpend(sys); spent >= g.limits.SystemDailyUSD {
		return g.reject(ai.ScopeSystem, spent, g.limits.SystemDailyUSD), nil
	}

	if userID == "" || !g.known(ctx, userID) {
		return Decision{Allowed: true}, nil
	}

	rec, err := g.ledger.GetUserUsage(ctx, userID, date)
	if err != nil {
		if ctx.Err() != nil {
			return Decision{}, ctx.Err()
		}
		slog.Warn("usage: user ledger read failed, allowing request", "user_id", userID, "date", date, "error", err)
		return Decision{Allowed: true}, nil
	}
	if spent := userSpend(rec); spent >= g.limits.UserDailyUSD {
		return g.reject(ai.ScopeUser, spent, g.limits.UserDailyUSD), nil
	}
	return Decision{Allowed: true}, nil
}

func (g *Governor) known(ctx context.Context, userID string) bool {
	if g.users == nil {
		return true
	}
	ok, err := g.users.Exists(ctx, userID)
	if err != nil {
		slog.Warn("usage: user directory lookup failed", "user_id", userID, "error", err)
		return true
	}
	return ok
}

func (g *Governor) reject(scope ai.LimitScope, spent, limit float64) Decision {
	var reason string
	switch scope {
	case ai.ScopeSystem:
		reason = fmt.Sprintf("system limit reached: $%.2f of $%.2f daily budget used", spent, limit)
	default:
		reason = fmt.Sprintf("user limit reached: $%.2f of $%.2f daily budget used", spent, limit)
	}
	if g.recorder != nil {
		g.recorder.RecordRejection(scope)
	}
	return Decision{Allowed: false, Scope: scope, Reason: reason, SpentUSD: spent, LimitUSD: limit}
}

func userSpend(rec *store.UsageRecord) float64 {
	if rec == nil {
		return 0
	}
	return rec.CostUSD
}

func systemSpend(rec *store.SystemUsageRecord) float64 {
	if rec == nil {
		return 0
	}
	return rec.CostUSD
}
