package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind is the category of a provider failure.
type ErrorKind int

const (
	// KindServer covers unexpected provider-side failures (5xx other than capacity).
	KindServer ErrorKind = iota

	// KindTimeout means the call exceeded its deadline.
	KindTimeout

	// KindCapacityExhausted means the provider is overloaded or rate limited (429/503/529).
	KindCapacityExhausted

	// KindUnavailable means the primary is exhausted and the secondary failed too.
	KindUnavailable

	// KindAuth means credentials were rejected.
	KindAuth

	// KindBadRequest means the provider rejected the request itself.
	KindBadRequest
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindCapacityExhausted:
		return "capacity_exhausted"
	case KindUnavailable:
		return "unavailable"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	default:
		return "server"
	}
}

// ProviderError wraps a provider failure with its kind.
type ProviderError struct {
	Err        error
	Provider   string
	Kind       ErrorKind
	StatusCode int
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the original error for errors.Is/As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or KindServer when err carries no kind.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindServer
}

// IsKind reports whether err is a ProviderError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}

// classify maps a raw SDK error and optional HTTP status to a ProviderError.
func classify(provider string, status int, err error) *ProviderError {
	pe := &ProviderError{Provider: provider, StatusCode: status, Err: err}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Kind = KindTimeout
		return pe
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		pe.Kind = KindTimeout
		return pe
	}

	switch {
	case status == 429 || status == 503 || status == 529:
		pe.Kind = KindCapacityExhausted
	case status == 401 || status == 403:
		pe.Kind = KindAuth
	case status == 400 || status == 404 || status == 413 || status == 422:
		pe.Kind = KindBadRequest
	case status >= 500:
		pe.Kind = KindServer
	default:
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "overloaded") || strings.Contains(msg, "rate limit") {
			pe.Kind = KindCapacityExhausted
		} else {
			pe.Kind = KindServer
		}
	}
	return pe
}
