package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Scope string `json:"scope,omitempty"`
}

const (
	userLimitMessage   = "You have reached your daily AI usage limit. Please try again tomorrow."
	systemLimitMessage = "The service overall has reached its daily AI usage limit. Please try again tomorrow."
)

// errorStatus maps a query error to an HTTP status and a learner-facing body.
func errorStatus(err error) (int, errorResponse) {
	var limitErr *ai.UsageLimitError
	switch {
	case errors.As(err, &limitErr):
		msg := userLimitMessage
		if limitErr.Scope == ai.ScopeSystem {
			msg = systemLimitMessage
		}
		return http.StatusTooManyRequests, errorResponse{Error: msg, Kind: "usage_limit", Scope: string(limitErr.Scope)}
	case errors.Is(err, ai.ErrEmptyPrompt):
		return http.StatusBadRequest, errorResponse{Error: "prompt is required", Kind: "bad_request"}
	case errors.Is(err, ai.ErrMissingUser):
		return http.StatusBadRequest, errorResponse{Error: "user_id is required", Kind: "bad_request"}
	case errors.Is(err, context.Canceled):
		return 499, errorResponse{Error: "request cancelled", Kind: "cancelled"}
	}

	kind := llm.KindOf(err)
	switch kind {
	case llm.KindCapacityExhausted, llm.KindUnavailable:
		return http.StatusServiceUnavailable, errorResponse{
			Error: "The AI service is busy right now, please try again in a moment.",
			Kind:  kind.String(),
		}
	case llm.KindTimeout:
		return http.StatusGatewayTimeout, errorResponse{Error: "The AI service took too long to answer.", Kind: kind.String()}
	default:
		return http.StatusBadGateway, errorResponse{Error: "The AI service failed to answer.", Kind: kind.String()}
	}
}

func writeError(c echo.Context, err error) error {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		slog.Error("api: query failed",
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			"status", status,
			"error", err,
		)
	}
	return c.JSON(status, body)
}
