package v1

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/cache"
	"github.com/francktshibala/bookbridge/internal/version"
	"github.com/francktshibala/bookbridge/store"
)

// QueryService answers learner questions. *query.Service implements it.
type QueryService interface {
	Query(ctx context.Context, text string, opts ai.Options) (*ai.AIResponse, error)
	QueryStream(ctx context.Context, text string, opts ai.Options) (<-chan string, <-chan error)
}

// APIV1Service serves the HTTP API.
type APIV1Service struct {
	Query  QueryService
	Ledger store.UsageLedger
	// UserDailyLimitUSD is reported alongside the usage view.
	UserDailyLimitUSD float64
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// CacheStats is reported by /healthz when set.
	CacheStats func() cache.Stats

	limiter *userLimiter
	now     func() time.Time
}

func NewAPIV1Service(query QueryService, ledger store.UsageLedger, userLimitUSD float64, ratePerMinute int) *APIV1Service {
	return &APIV1Service{
		Query:             query,
		Ledger:            ledger,
		UserDailyLimitUSD: userLimitUSD,
		limiter:           newUserLimiter(ratePerMinute),
		now:               time.Now,
	}
}

// RegisterRoutes mounts the API on the given Echo instance.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", s.Healthz)
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics))
	}

	corsHandler := middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"*"},
	})
	api := e.Group("/api/v1", corsHandler)
	api.POST("/query", s.PostQuery)
	api.POST("/query/stream", s.PostQueryStream)
	api.GET("/usage/:userID", s.GetUsage)
}

type healthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Release bool         `json:"release"`
	Cache   *cache.Stats `json:"cache,omitempty"`
}

func (s *APIV1Service) Healthz(c echo.Context) error {
	resp := healthResponse{
		Status:  "ok",
		Version: version.String(),
		Release: version.IsRelease(version.Version),
	}
	if s.CacheStats != nil {
		stats := s.CacheStats()
		resp.Cache = &stats
	}
	return c.JSON(http.StatusOK, resp)
}
