package query

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// QueryStream answers one question incrementally. The fragment channel closes when
// the answer is complete; the error channel receives at most one error and then
// closes.
//
// A cache hit is sent as a single fragment. Tutoring runs the whole pipeline and
// sends the synthesis once. A normal answer forwards provider fragments as they
// arrive and is cached and billed when the stream completes. If the consumer goes
// away mid-stream, the tokens received so far are billed with estimated counts and
// nothing is cached.
func (s *Service) QueryStream(ctx context.Context, text string, opts ai.Options) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(errs)
		defer close(out)

		start := time.Now()
		p, err := s.newPlan(text, opts)
		if err != nil {
			errs <- err
			return
		}

		if hit, ok := s.cache.Get(ctx, p.key); ok {
			s.observe(p, OutcomeCacheHit, start)
			emit(ctx, out, hit.Content)
			return
		}

		if err := s.checkLimits(ctx, p, start); err != nil {
			errs <- err
			return
		}

		if p.opts.Tutoring {
			resp, err := s.answer(context.WithoutCancel(ctx), p)
			if err != nil {
				s.observe(p, OutcomeError, start)
				errs <- err
				return
			}
			s.observe(p, OutcomeOK, start)
			emit(ctx, out, resp.Content)
			return
		}

		outcome, err := s.stream(ctx, p, out)
		s.observe(p, outcome, start)
		if err != nil {
			errs <- err
		}
	}()

	return out, errs
}

func (s *Service) stream(ctx context.Context, p *plan, out chan<- string) (string, error) {
	req, err := s.buildRequest(ctx, p)
	if err != nil {
		return OutcomeError, err
	}

	content, usageCh, errCh := s.llm.Stream(ctx, req)

	var b strings.Builder
	cancelled := false
	for frag := range content {
		b.WriteString(frag)
		if cancelled {
			continue
		}
		select {
		case out <- frag:
		case <-ctx.Done():
			cancelled = true
		}
	}

	var reported *llm.Usage
	if u, ok := <-usageCh; ok {
		reported = u
	}
	streamErr := <-errCh

	if cancelled || ctx.Err() != nil {
		if b.Len() > 0 {
			u := estimateUsage(req, b.String())
			s.tracker.Record(ctx, p.opts.UserID, u, p.tier, s.prices.Cost(u, p.tier))
		}
		slog.Info("query: stream cancelled by consumer",
			"user_id", p.opts.UserID,
			"received_chars", b.Len(),
		)
		return OutcomeCancelled, ctx.Err()
	}
	if streamErr != nil {
		if b.Len() > 0 {
			u := estimateUsage(req, b.String())
			s.tracker.Record(ctx, p.opts.UserID, u, p.tier, s.prices.Cost(u, p.tier))
		}
		slog.Error("query: stream failed",
			"user_id", p.opts.UserID,
			"tier", p.tier,
			"kind", llm.KindOf(streamErr).String(),
			"error", streamErr,
		)
		return OutcomeError, streamErr
	}

	u := estimateUsage(req, b.String())
	if reported != nil {
		u = *reported
	}
	model, provider := u.Model, u.Provider
	u.Model, u.Provider = "", ""
	resp := &ai.AIResponse{
		Content:  b.String(),
		Usage:    u,
		Model:    model,
		Tier:     p.tier,
		Provider: provider,
		Cost:     s.prices.Cost(u, p.tier),
	}
	s.cache.Set(ctx, p.key, resp)
	s.tracker.Record(ctx, p.opts.UserID, resp.Usage, resp.Tier, resp.Cost)
	return OutcomeOK, nil
}

func estimateUsage(req *llm.Request, completion string) llm.Usage {
	prompt := llm.EstimateRequestTokens(req)
	done := llm.EstimateTokens(completion)
	return llm.Usage{PromptTokens: prompt, CompletionTokens: done, TotalTokens: prompt + done, Estimated: true}
}

func emit(ctx context.Context, out chan<- string, content string) {
	select {
	case out <- content:
	case <-ctx.Done():
	}
}
