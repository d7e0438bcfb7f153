// Package server wires the query service and serves the HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/agents/tutor"
	"github.com/francktshibala/bookbridge/ai/cache"
	"github.com/francktshibala/bookbridge/ai/configloader"
	"github.com/francktshibala/bookbridge/ai/metrics"
	"github.com/francktshibala/bookbridge/ai/pricing"
	"github.com/francktshibala/bookbridge/ai/query"
	"github.com/francktshibala/bookbridge/ai/routing"
	"github.com/francktshibala/bookbridge/ai/usage"
	"github.com/francktshibala/bookbridge/internal/profile"
	apiv1 "github.com/francktshibala/bookbridge/server/router/api/v1"
	"github.com/francktshibala/bookbridge/store"
)

const (
	warmupTimeout  = 10 * time.Second
	sweepInterval  = 10 * time.Minute
	shutdownBudget = 10 * time.Second
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store
	Metrics *metrics.PrometheusExporter

	echoServer *echo.Echo
	redis      *cache.RedisStore
	responses  *cache.Tiered
	cancel     context.CancelFunc
}

// NewServer builds the query service from the profile and mounts the API.
func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	bgCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Profile: profile,
		Store:   store,
		Metrics: metrics.NewPrometheusExporter(metrics.DefaultConfig()),
		cancel:  cancel,
	}

	svc, err := s.buildQueryService(ctx, bgCtx)
	if err != nil {
		cancel()
		return nil, err
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: shortuuid.New,
	}))
	echoServer.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("request_id", v.RequestID),
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Int64("latency_ms", v.Latency.Milliseconds()),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelWarn
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	}))
	echoServer.Use(middleware.Recover())
	s.echoServer = echoServer

	api := apiv1.NewAPIV1Service(svc, store, profile.UserDailyLimitUSD, profile.RateLimitPerMinute)
	api.Metrics = s.Metrics.Handler()
	api.CacheStats = s.responses.Stats
	api.RegisterRoutes(echoServer)

	return s, nil
}

// buildQueryService assembles the providers, cache tiers, governor, tracker, selector
// and tutor. Background work (warmup, cache sweeps) runs on bgCtx.
func (s *Server) buildQueryService(ctx, bgCtx context.Context) (*query.Service, error) {
	cfg := ai.NewConfigFromProfile(s.Profile)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid AI configuration")
	}

	loader := configloader.NewLoader(cfg.ConfigDir)
	if err := cfg.ApplyOverrides(loader); err != nil {
		return nil, errors.Wrap(err, "failed to load models.yaml")
	}
	prices, err := pricing.Load(loader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pricing")
	}
	selector, err := routing.LoadSelector(loader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load routing rules")
	}
	prompts, err := tutor.LoadPrompts(loader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load tutor prompts")
	}
	if files := loader.Loaded(); len(files) > 0 {
		slog.Info("loaded config overrides", "dir", cfg.ConfigDir, "files", files)
	}

	client := ai.NewLLMClient(cfg, s.Metrics)
	go func() {
		warmupCtx, warmupCancel := context.WithTimeout(bgCtx, warmupTimeout)
		defer warmupCancel()
		client.Warmup(warmupCtx)
	}()

	orchestrator, err := tutor.NewOrchestrator(client, prompts, prices)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create tutor orchestrator")
	}

	memory := cache.NewMemoryStore(cfg.Cache.Capacity, cfg.Cache.MemoryTTL)
	go memory.Sweep(bgCtx, sweepInterval)

	var remote cache.Store
	if cfg.Cache.RedisURL != "" {
		rs, err := cache.ConnectRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, running with the in-process cache only", "error", err)
		} else {
			s.redis = rs
			remote = rs
		}
	}
	responses := cache.NewTiered(memory, remote, cache.TieredConfig{
		MemoryTTL:         cfg.Cache.MemoryTTL,
		RemoteTTL:         cfg.Cache.RemoteTTL,
		PromoteRemoteHits: cfg.Cache.PromoteRemoteHits,
	}, s.Metrics)
	s.responses = responses

	limits := usage.Limits{UserDailyUSD: cfg.Limits.UserDailyUSD, SystemDailyUSD: cfg.Limits.SystemDailyUSD}
	governor := usage.NewGovernor(s.Store, limits, usage.WithRejectionRecorder(s.Metrics))
	tracker := usage.NewTracker(s.Store, usage.WithSpendRecorder(s.Metrics))

	slog.Info("query service ready",
		"providers", providerNames(cfg),
		"redis", s.redis != nil,
		"routing_rules", selector.Len(),
		"user_limit_usd", limits.UserDailyUSD,
		"system_limit_usd", limits.SystemDailyUSD,
	)

	return query.NewService(query.Deps{
		LLM:      client,
		Cache:    responses,
		Governor: governor,
		Tracker:  tracker,
		Tutor:    orchestrator,
		Selector: selector,
		Prices:   prices,
		Recorder: s.Metrics,
	}), nil
}

func providerNames(cfg *ai.Config) []string {
	var names []string
	if cfg.Anthropic.APIKey != "" {
		names = append(names, "anthropic")
	}
	if cfg.OpenAI.APIKey != "" {
		names = append(names, "openai")
	}
	return names
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(""); err != nil {
			slog.Info("http server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the HTTP server, background work and connections.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownBudget)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shutdown http server", "error", err)
	}
	s.cancel()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			slog.Error("failed to close redis", "error", err)
		}
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server stopped properly")
}
