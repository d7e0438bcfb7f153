package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/francktshibala/bookbridge/ai"
)

type queryRequest struct {
	Prompt          string   `json:"prompt"`
	UserID          string   `json:"user_id"`
	BookID          string   `json:"book_id"`
	BookContext     string   `json:"book_context"`
	MaxTokens       int      `json:"max_tokens"`
	Temperature     *float32 `json:"temperature"`
	ResponseMode    string   `json:"response_mode"`
	Tutoring        bool     `json:"tutoring"`
	HasConversation bool     `json:"has_conversation"`
}

func (r *queryRequest) options() ai.Options {
	return ai.Options{
		ResponseMode:    ai.ParseResponseMode(r.ResponseMode),
		MaxTokens:       r.MaxTokens,
		Temperature:     r.Temperature,
		UserID:          r.UserID,
		BookID:          r.BookID,
		BookContext:     r.BookContext,
		Tutoring:        r.Tutoring,
		HasConversation: r.HasConversation,
	}
}

// bindQuery decodes and validates the body and applies the per-user rate limit.
func (s *APIV1Service) bindQuery(c echo.Context) (*queryRequest, error) {
	req := &queryRequest{}
	if err := c.Bind(req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, errorResponse{Error: "invalid request body", Kind: "bad_request"})
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, errorResponse{Error: "user_id is required", Kind: "bad_request"})
	}
	if !s.limiter.Allow(req.UserID) {
		return nil, echo.NewHTTPError(http.StatusTooManyRequests, errorResponse{
			Error: "Too many requests. Please slow down and try again in a minute.",
			Kind:  "rate_limited",
		})
	}
	return req, nil
}

// PostQuery answers one question and returns the full response.
func (s *APIV1Service) PostQuery(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	resp, err := s.Query.Query(c.Request().Context(), req.Prompt, req.options())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}
