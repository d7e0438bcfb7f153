package ai

import (
	"errors"
	"fmt"
)

// ErrUsageLimitExceeded is returned when a daily spend ceiling has been reached.
// It is terminal for the request and must not be retried.
var ErrUsageLimitExceeded = errors.New("usage limit exceeded")

// LimitScope tells which ceiling was hit.
type LimitScope string

const (
	ScopeUser   LimitScope = "user"
	ScopeSystem LimitScope = "system"
)

// UsageLimitError carries the scope of a rejected request.
type UsageLimitError struct {
	Scope    LimitScope
	Reason   string
	SpentUSD float64
	LimitUSD float64
}

func (e *UsageLimitError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUsageLimitExceeded, e.Reason)
}

// Unwrap lets errors.Is(err, ErrUsageLimitExceeded) match.
func (e *UsageLimitError) Unwrap() error {
	return ErrUsageLimitExceeded
}

// ErrEmptyPrompt is returned for a query with no text.
var ErrEmptyPrompt = errors.New("prompt is empty")

// ErrMissingUser is returned for a query without a user id. Spend is billed per user.
var ErrMissingUser = errors.New("user id is required")
