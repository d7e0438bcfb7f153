package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/francktshibala/bookbridge/ai"
)

// Tier labels used in metrics and stats.
const (
	TierMemory = "memory"
	TierRemote = "remote"
)

// Recorder receives cache observations. ai/metrics implements it.
type Recorder interface {
	RecordCacheHit(tier string)
	RecordCacheMiss()
}

type nopRecorder struct{}

func (nopRecorder) RecordCacheHit(string) {}
func (nopRecorder) RecordCacheMiss()      {}

// TieredConfig configures a Tiered cache.
type TieredConfig struct {
	MemoryTTL         time.Duration
	RemoteTTL         time.Duration
	PromoteRemoteHits bool
}

// Stats is a snapshot of cache counters.
type Stats struct {
	MemoryHits int64 `json:"memory_hits"`
	RemoteHits int64 `json:"remote_hits"`
	Misses     int64 `json:"misses"`
}

// Tiered consults the in-process tier first, then the distributed one. Writes go to
// both. Distributed-tier failures are logged and treated as misses; they never fail
// the request.
type Tiered struct {
	memory   Store
	remote   Store
	recorder Recorder
	cfg      TieredConfig

	memoryHits atomic.Int64
	remoteHits atomic.Int64
	misses     atomic.Int64
}

// NewTiered creates a two-tier cache. remote may be nil for single-instance deployments.
func NewTiered(memory, remote Store, cfg TieredConfig, rec Recorder) *Tiered {
	if cfg.MemoryTTL <= 0 {
		cfg.MemoryTTL = ai.DefaultMemoryTTL
	}
	if cfg.RemoteTTL <= 0 {
		cfg.RemoteTTL = ai.DefaultRemoteTTL
	}
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Tiered{memory: memory, remote: remote, cfg: cfg, recorder: rec}
}

// Get returns the cached response for key. The returned value is a fresh copy.
func (t *Tiered) Get(ctx context.Context, key string) (*ai.AIResponse, bool) {
	if resp, ok, err := t.memory.Get(ctx, key); err == nil && ok {
		t.memoryHits.Add(1)
		t.recorder.RecordCacheHit(TierMemory)
		return resp, true
	}

	if t.remote != nil {
		resp, ok, err := t.remote.Get(ctx, key)
		switch {
		case err != nil:
			slog.Warn("cache: remote get failed, treating as miss", "key", shortKey(key), "error", err)
		case ok:
			t.remoteHits.Add(1)
			t.recorder.RecordCacheHit(TierRemote)
			if t.cfg.PromoteRemoteHits {
				_ = t.memory.Set(ctx, key, resp, t.cfg.MemoryTTL)
			}
			return resp, true
		}
	}

	t.misses.Add(1)
	t.recorder.RecordCacheMiss()
	return nil, false
}

// Set writes resp through to both tiers.
func (t *Tiered) Set(ctx context.Context, key string, resp *ai.AIResponse) {
	stored := *resp
	stored.Cached = false

	if err := t.memory.Set(ctx, key, &stored, t.cfg.MemoryTTL); err != nil {
		slog.Warn("cache: memory set failed", "error", err)
	}
	if t.remote == nil {
		return
	}
	if err := t.remote.Set(ctx, key, &stored, t.cfg.RemoteTTL); err != nil {
		slog.Warn("cache: remote set failed", "key", shortKey(key), "error", err)
	}
}

// Stats returns the hit/miss counters.
func (t *Tiered) Stats() Stats {
	return Stats{
		MemoryHits: t.memoryHits.Load(),
		RemoteHits: t.remoteHits.Load(),
		Misses:     t.misses.Load(),
	}
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
