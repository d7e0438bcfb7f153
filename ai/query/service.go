// Package query is the request path: classify, serve from cache, enforce spend
// ceilings, pick a tier, compose, call the provider or the tutoring pipeline, then
// cache and bill the answer.
package query

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/agents/tutor"
	"github.com/francktshibala/bookbridge/ai/cache"
	"github.com/francktshibala/bookbridge/ai/classifier"
	"github.com/francktshibala/bookbridge/ai/core/llm"
	"github.com/francktshibala/bookbridge/ai/internal/strutil"
	"github.com/francktshibala/bookbridge/ai/pricing"
	"github.com/francktshibala/bookbridge/ai/prompt"
	"github.com/francktshibala/bookbridge/ai/routing"
	"github.com/francktshibala/bookbridge/ai/usage"
)

// Query outcomes reported to the QueryRecorder.
const (
	OutcomeOK        = "ok"
	OutcomeCacheHit  = "cache_hit"
	OutcomeShared    = "shared"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

var errTutorDisabled = errors.New("tutoring mode is not configured")

// LLM is the provider client. *llm.FallbackClient implements it.
type LLM interface {
	Send(ctx context.Context, req *llm.Request) (*llm.Response, error)
	Stream(ctx context.Context, req *llm.Request) (<-chan string, <-chan *llm.Usage, <-chan error)
}

// Cache is the two-tier response cache. *cache.Tiered implements it.
type Cache interface {
	Get(ctx context.Context, key string) (*ai.AIResponse, bool)
	Set(ctx context.Context, key string, resp *ai.AIResponse)
}

// Governor enforces the daily ceilings. *usage.Governor implements it.
type Governor interface {
	CheckLimits(ctx context.Context, userID string) (usage.Decision, error)
}

// Tracker records spend. *usage.Tracker implements it.
type Tracker interface {
	Record(ctx context.Context, userID string, u llm.Usage, tier llm.Tier, cost float64)
}

// Tutor runs the tutoring pipeline. *tutor.Orchestrator implements it.
type Tutor interface {
	Run(ctx context.Context, req tutor.Request) (*tutor.Result, error)
}

// ExcerptSource fetches book text relevant to a question.
type ExcerptSource interface {
	Excerpt(ctx context.Context, bookID, prompt string) (string, error)
}

// KnowledgeProvider supplies learner signals and cross-book connections.
type KnowledgeProvider interface {
	Knowledge(ctx context.Context, userID, bookID, prompt string) (prompt.Knowledge, error)
}

// QueryRecorder observes finished queries. ai/metrics implements it.
type QueryRecorder interface {
	RecordQuery(mode, outcome string, d time.Duration)
}

// Deps are the collaborators of a Service. LLM, Cache, Governor and Tracker are
// required; the rest are optional.
type Deps struct {
	LLM        LLM
	Cache      Cache
	Governor   Governor
	Tracker    Tracker
	Tutor      Tutor
	Classifier *classifier.Classifier
	Selector   *routing.Selector
	Composer   prompt.Composer
	Prices     pricing.Table
	Excerpts   ExcerptSource
	Knowledge  KnowledgeProvider
	Recorder   QueryRecorder
}

// Service answers learner questions.
type Service struct {
	llm        LLM
	cache      Cache
	governor   Governor
	tracker    Tracker
	tutor      Tutor
	classifier *classifier.Classifier
	selector   *routing.Selector
	composer   prompt.Composer
	prices     pricing.Table
	excerpts   ExcerptSource
	knowledge  KnowledgeProvider
	recorder   QueryRecorder

	flight singleflight.Group
}

// NewService wires a Service.
func NewService(d Deps) *Service {
	s := &Service{
		llm:        d.LLM,
		cache:      d.Cache,
		governor:   d.Governor,
		tracker:    d.Tracker,
		tutor:      d.Tutor,
		classifier: d.Classifier,
		selector:   d.Selector,
		composer:   d.Composer,
		prices:     d.Prices,
		excerpts:   d.Excerpts,
		knowledge:  d.Knowledge,
		recorder:   d.Recorder,
	}
	if s.classifier == nil {
		s.classifier = classifier.New()
	}
	if s.prices == nil {
		s.prices = pricing.Default()
	}
	return s
}

// plan is everything decided before the provider call.
type plan struct {
	prompt string
	opts   ai.Options
	intent ai.QueryIntent
	key    string
	tier   llm.Tier
}

func (s *Service) newPlan(text string, opts ai.Options) (*plan, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ai.ErrEmptyPrompt
	}
	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return nil, ai.ErrMissingUser
	}
	opts = opts.Normalize()
	return &plan{
		prompt: text,
		opts:   opts,
		intent: s.classifier.Classify(text, opts.HasConversation),
		key:    cache.Key(text, opts.BookID, opts.CacheMode()),
	}, nil
}

// Query answers one question. A cache hit returns immediately without a provider
// call or a spend check. Concurrent misses for the same cache key share one
// provider call; only the caller that made it is billed.
func (s *Service) Query(ctx context.Context, text string, opts ai.Options) (*ai.AIResponse, error) {
	start := time.Now()
	p, err := s.newPlan(text, opts)
	if err != nil {
		return nil, err
	}

	if hit, ok := s.cache.Get(ctx, p.key); ok {
		hit.Cached = true
		s.observe(p, OutcomeCacheHit, start)
		return hit, nil
	}

	if err := s.checkLimits(ctx, p, start); err != nil {
		return nil, err
	}

	ch := s.flight.DoChan(p.key, func() (any, error) {
		// Detached so that a leader giving up does not fail the followers; the
		// provider call carries its own deadline.
		return s.answer(context.WithoutCancel(ctx), p)
	})

	select {
	case <-ctx.Done():
		s.observe(p, OutcomeCancelled, start)
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			s.observe(p, OutcomeError, start)
			return nil, res.Err
		}
		resp := *res.Val.(*ai.AIResponse)
		outcome := OutcomeOK
		if res.Shared {
			outcome = OutcomeShared
		}
		s.observe(p, outcome, start)
		return &resp, nil
	}
}

// answer performs the provider work for a cache miss, then caches and bills it.
func (s *Service) answer(ctx context.Context, p *plan) (*ai.AIResponse, error) {
	if hit, ok := s.cache.Get(ctx, p.key); ok {
		return hit, nil
	}

	var (
		resp *ai.AIResponse
		err  error
	)
	if p.opts.Tutoring {
		resp, err = s.runTutor(ctx, p)
	} else {
		var req *llm.Request
		if req, err = s.buildRequest(ctx, p); err == nil {
			resp, err = s.send(ctx, req, p.tier)
		}
	}
	if err != nil {
		slog.Error("query: provider call failed",
			"user_id", p.opts.UserID,
			"tier", p.tier,
			"kind", llm.KindOf(err).String(),
			"error", err,
		)
		return nil, err
	}

	s.cache.Set(ctx, p.key, resp)
	s.tracker.Record(ctx, p.opts.UserID, resp.Usage, resp.Tier, resp.Cost)
	return resp, nil
}

func (s *Service) checkLimits(ctx context.Context, p *plan, start time.Time) error {
	decision, err := s.governor.CheckLimits(ctx, p.opts.UserID)
	if err != nil {
		return err
	}
	if !decision.Allowed {
		slog.Info("query: rejected by usage governor",
			"user_id", p.opts.UserID,
			"scope", decision.Scope,
			"reason", decision.Reason,
		)
		s.observe(p, OutcomeRejected, start)
		return decision.Err()
	}
	return nil
}

func (s *Service) selectTier(p *plan) {
	d := s.selector.Decide(p.prompt, p.opts.ResponseMode)
	p.tier = d.Tier
	slog.Debug("query: planned",
		"prompt", strutil.Preview(p.prompt),
		"intent", p.intent.Type,
		"confidence", p.intent.Confidence,
		"mode", p.opts.ResponseMode,
		"tier", d.Tier,
		"tier_reason", d.Reason,
	)
}

// buildRequest gathers excerpt and knowledge, then composes the provider request.
func (s *Service) buildRequest(ctx context.Context, p *plan) (*llm.Request, error) {
	s.selectTier(p)
	composed := s.composer.Compose(prompt.Input{
		Prompt:          p.prompt,
		Intent:          p.intent,
		Mode:            p.opts.ResponseMode,
		HasConversation: p.opts.HasConversation,
		Knowledge:       s.fetchKnowledge(ctx, p),
		Excerpt:         s.fetchExcerpt(ctx, p),
	})
	return composed.Request(p.tier, p.opts.MaxTokens, p.opts.TemperatureOrDefault()), nil
}

func (s *Service) send(ctx context.Context, req *llm.Request, tier llm.Tier) (*ai.AIResponse, error) {
	resp, err := s.llm.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ai.AIResponse{
		Content:  resp.Content,
		Usage:    resp.Usage,
		Model:    resp.Model,
		Tier:     tier,
		Provider: resp.Provider,
		Cost:     s.prices.Cost(resp.Usage, tier),
	}, nil
}

func (s *Service) runTutor(ctx context.Context, p *plan) (*ai.AIResponse, error) {
	s.selectTier(p)
	if s.tutor == nil {
		return nil, &llm.ProviderError{Provider: "tutor", Kind: llm.KindBadRequest, Err: errTutorDisabled}
	}
	res, err := s.tutor.Run(ctx, tutor.Request{
		Query:       p.prompt,
		Excerpt:     s.fetchExcerpt(ctx, p),
		Mode:        p.opts.ResponseMode,
		Tier:        p.tier,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: p.opts.TemperatureOrDefault(),
	})
	if err != nil {
		return nil, err
	}
	return res.AIResponse(), nil
}

func (s *Service) fetchExcerpt(ctx context.Context, p *plan) string {
	if p.opts.BookContext != "" {
		return p.opts.BookContext
	}
	if p.opts.BookID == "" || s.excerpts == nil {
		return ""
	}
	excerpt, err := s.excerpts.Excerpt(ctx, p.opts.BookID, p.prompt)
	if err != nil {
		slog.Warn("query: excerpt lookup failed, answering without it", "book_id", p.opts.BookID, "error", err)
		return ""
	}
	return excerpt
}

func (s *Service) fetchKnowledge(ctx context.Context, p *plan) prompt.Knowledge {
	if s.knowledge == nil {
		return prompt.Knowledge{}
	}
	k, err := s.knowledge.Knowledge(ctx, p.opts.UserID, p.opts.BookID, p.prompt)
	if err != nil {
		slog.Warn("query: knowledge lookup failed, answering without it", "user_id", p.opts.UserID, "error", err)
		return prompt.Knowledge{}
	}
	return k
}

func (s *Service) observe(p *plan, outcome string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordQuery(string(p.opts.ResponseMode), outcome, time.Since(start))
	}
}
