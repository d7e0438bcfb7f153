package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/francktshibala/bookbridge/store"
)

type usageResponse struct {
	UserID        string  `json:"user_id"`
	Date          string  `json:"date"`
	Queries       int64   `json:"queries"`
	Tokens        int64   `json:"tokens"`
	CostUSD       float64 `json:"cost_usd"`
	DailyLimitUSD float64 `json:"daily_limit_usd"`
	RemainingUSD  float64 `json:"remaining_usd"`
}

// GetUsage returns today's spend for one user. Users with no record yet get zeros.
func (s *APIV1Service) GetUsage(c echo.Context) error {
	userID := c.Param("userID")
	date := store.DateOf(s.now())

	rec, err := s.Ledger.GetUserUsage(c.Request().Context(), userID, date)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "usage ledger unavailable", Kind: "ledger"})
	}

	resp := usageResponse{UserID: userID, Date: date, DailyLimitUSD: s.UserDailyLimitUSD}
	if rec != nil {
		resp.Queries = rec.Queries
		resp.Tokens = rec.Tokens
		resp.CostUSD = rec.CostUSD
	}
	resp.RemainingUSD = max(0, s.UserDailyLimitUSD-resp.CostUSD)
	return c.JSON(http.StatusOK, resp)
}
