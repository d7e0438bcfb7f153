package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultCallTimeout bounds each single-shot provider call, and the wait for the
	// first fragment of a stream.
	DefaultCallTimeout = 30 * time.Second
	// DefaultStreamTimeout bounds a whole streamed response once it has started.
	DefaultStreamTimeout = 5 * time.Minute
)

// Recorder receives provider call observations. ai/metrics implements it.
type Recorder interface {
	RecordProviderCall(provider string, tier Tier, outcome string, d time.Duration)
	RecordFallback(from, to string)
}

type nopRecorder struct{}

func (nopRecorder) RecordProviderCall(string, Tier, string, time.Duration) {}
func (nopRecorder) RecordFallback(string, string)                          {}

// FallbackClient sends requests to the primary provider and retries once on the
// secondary when the primary reports capacity exhaustion. No other error triggers
// the fallback.
type FallbackClient struct {
	primary       Provider
	secondary     Provider
	recorder      Recorder
	callTimeout   time.Duration
	streamTimeout time.Duration
}

// FallbackOption configures a FallbackClient.
type FallbackOption func(*FallbackClient)

// WithSecondary sets the provider used on primary capacity exhaustion.
func WithSecondary(p Provider) FallbackOption {
	return func(c *FallbackClient) { c.secondary = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) FallbackOption {
	return func(c *FallbackClient) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithCallTimeout overrides the per-call deadline.
func WithCallTimeout(d time.Duration) FallbackOption {
	return func(c *FallbackClient) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithStreamTimeout overrides the whole-stream deadline.
func WithStreamTimeout(d time.Duration) FallbackOption {
	return func(c *FallbackClient) {
		if d > 0 {
			c.streamTimeout = d
		}
	}
}

// NewFallbackClient creates a client around primary.
func NewFallbackClient(primary Provider, opts ...FallbackOption) *FallbackClient {
	c := &FallbackClient{
		primary:       primary,
		recorder:      nopRecorder{},
		callTimeout:   DefaultCallTimeout,
		streamTimeout: DefaultStreamTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send performs a single-shot completion with the fallback rule applied.
func (c *FallbackClient) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.call(ctx, c.primary, req)
	if err == nil {
		return resp, nil
	}
	if !IsKind(err, KindCapacityExhausted) || c.secondary == nil {
		return nil, err
	}

	slog.Warn("LLM: primary at capacity, falling back",
		"primary", c.primary.Name(),
		"secondary", c.secondary.Name(),
		"tier", req.Tier,
		"error", err,
	)
	c.recorder.RecordFallback(c.primary.Name(), c.secondary.Name())

	resp, err2 := c.call(ctx, c.secondary, req)
	if err2 != nil {
		return nil, c.unavailable(err, err2)
	}
	return resp, nil
}

func (c *FallbackClient) call(ctx context.Context, p Provider, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Complete(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded && !IsKind(err, KindTimeout) {
			err = &ProviderError{Provider: p.Name(), Kind: KindTimeout, Err: err}
		}
		c.recorder.RecordProviderCall(p.Name(), req.Tier, KindOf(err).String(), time.Since(start))
		return nil, err
	}
	c.recorder.RecordProviderCall(p.Name(), req.Tier, "ok", time.Since(start))
	return resp, nil
}

func (c *FallbackClient) unavailable(primaryErr, secondaryErr error) error {
	return &ProviderError{
		Provider: c.secondary.Name(),
		Kind:     KindUnavailable,
		Err:      fmt.Errorf("primary exhausted (%v), secondary failed: %w", primaryErr, secondaryErr),
	}
}

// Stream performs a streaming completion. The fallback applies only when the primary
// fails before emitting its first fragment.
func (c *FallbackClient) Stream(ctx context.Context, req *Request) (<-chan string, <-chan *Usage, <-chan error) {
	out := make(chan string, 10)
	usageOut := make(chan *Usage, 1)
	errOut := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(usageOut)
		defer close(errOut)

		ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)
		defer cancel()

		started, err := c.pipe(ctx, c.primary, req, out, usageOut)
		if err == nil {
			return
		}
		if started || !IsKind(err, KindCapacityExhausted) || c.secondary == nil {
			errOut <- err
			return
		}

		slog.Warn("LLM: primary stream at capacity, falling back",
			"primary", c.primary.Name(),
			"secondary", c.secondary.Name(),
		)
		c.recorder.RecordFallback(c.primary.Name(), c.secondary.Name())
		if _, err2 := c.pipe(ctx, c.secondary, req, out, usageOut); err2 != nil {
			errOut <- c.unavailable(err, err2)
		}
	}()

	return out, usageOut, errOut
}

// pipe forwards one provider stream into out and reports whether any fragment was sent.
// A provider that sends nothing within callTimeout is cancelled and reported as a timeout.
func (c *FallbackClient) pipe(ctx context.Context, p Provider, req *Request, out chan<- string, usageOut chan<- *Usage) (bool, error) {
	start := time.Now()
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var silent atomic.Bool
	firstFragment := time.AfterFunc(c.callTimeout, func() {
		silent.Store(true)
		cancel()
	})
	defer firstFragment.Stop()

	content, usage, errs := p.Stream(streamCtx, req)

	started := false
	for frag := range content {
		if !started {
			firstFragment.Stop()
		}
		select {
		case out <- frag:
			started = true
		case <-ctx.Done():
			c.recorder.RecordProviderCall(p.Name(), req.Tier, "cancelled", time.Since(start))
			return started, ctx.Err()
		}
	}

	err, ok := <-errs
	if !ok {
		err = nil
	}
	if !started && silent.Load() {
		err = &ProviderError{Provider: p.Name(), Kind: KindTimeout, Err: fmt.Errorf("no fragment within %s: %w", c.callTimeout, context.DeadlineExceeded)}
	}
	if err != nil {
		c.recorder.RecordProviderCall(p.Name(), req.Tier, KindOf(err).String(), time.Since(start))
		return started, err
	}
	if u, ok := <-usage; ok && u != nil {
		usageOut <- u
	}
	c.recorder.RecordProviderCall(p.Name(), req.Tier, "ok", time.Since(start))
	return started, nil
}

// Warmer is implemented by providers that can pre-establish their connection.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// Warmup pings every configured provider. Failures are logged only; the first real
// request will simply be slower.
func (c *FallbackClient) Warmup(ctx context.Context) {
	for _, p := range []Provider{c.primary, c.secondary} {
		w, ok := p.(Warmer)
		if !ok {
			continue
		}
		start := time.Now()
		if err := w.Warmup(ctx); err != nil {
			slog.Warn("LLM: warmup ping failed", "provider", p.Name(), "error", err, "duration_ms", time.Since(start).Milliseconds())
			continue
		}
		slog.Info("LLM: connection warmed up", "provider", p.Name(), "duration_ms", time.Since(start).Milliseconds())
	}
}
