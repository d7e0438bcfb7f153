package cache

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// mapStore is an in-memory Store that can be told to fail.
type mapStore struct {
	mu     sync.Mutex
	items  map[string]ai.AIResponse
	ttls   map[string]time.Duration
	getErr error
	setErr error
}

func newMapStore() *mapStore {
	return &mapStore{items: map[string]ai.AIResponse{}, ttls: map[string]time.Duration{}}
}

func (m *mapStore) Get(_ context.Context, key string) (*ai.AIResponse, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (m *mapStore) Set(_ context.Context, key string, resp *ai.AIResponse, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.items[key] = *resp
	m.ttls[key] = ttl
	return nil
}

func sampleResponse() *ai.AIResponse {
	return &ai.AIResponse{
		Content: "Synecdoche names a part to mean the whole.",
		Usage:   llm.Usage{PromptTokens: 40, CompletionTokens: 12, TotalTokens: 52},
		Model:   "claude-3-5-haiku-20241022",
		Tier:    llm.TierEconomy,
		Cost:    0.00008,
	}
}

func TestKey(t *testing.T) {
	base := Key("What is synecdoche?", "book-1", "brief")

	assert.Len(t, base, 64)
	assert.Equal(t, base, Key("  what IS   synecdoche? ", "book-1", "brief"), "case and whitespace are normalized")
	assert.NotEqual(t, base, Key("What is synecdoche?", "book-2", "brief"))
	assert.NotEqual(t, base, Key("What is synecdoche?", "book-1", "detailed"))
	assert.NotEqual(t, base, Key("What is synecdoche?", "", "brief"))
	assert.Equal(t, Key("q", "", "brief"), Key("q", "", "brief"))
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10, time.Hour)
	want := sampleResponse()

	require.NoError(t, s.Set(ctx, "k", want, 0))
	got, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	got.Content = "mutated"
	again, _, _ := s.Get(ctx, "k")
	assert.Equal(t, want.Content, again.Content, "callers get copies")
}

func TestTiered_WriteThroughAndTTLs(t *testing.T) {
	ctx := context.Background()
	mem, remote := newMapStore(), newMapStore()
	c := NewTiered(mem, remote, TieredConfig{}, nil)

	resp := sampleResponse()
	resp.Cached = true
	c.Set(ctx, "k", resp)

	assert.Equal(t, 24*time.Hour, mem.ttls["k"])
	assert.Equal(t, 30*24*time.Hour, remote.ttls["k"])
	assert.False(t, mem.items["k"].Cached)
	assert.False(t, remote.items["k"].Cached)
}

func TestTiered_Lookup(t *testing.T) {
	ctx := context.Background()

	t.Run("memory hit", func(t *testing.T) {
		mem, remote := newMapStore(), newMapStore()
		c := NewTiered(mem, remote, TieredConfig{}, nil)
		c.Set(ctx, "k", sampleResponse())

		got, ok := c.Get(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, sampleResponse().Content, got.Content)
		assert.Equal(t, Stats{MemoryHits: 1}, c.Stats())
	})

	t.Run("remote hit promotes", func(t *testing.T) {
		mem, remote := newMapStore(), newMapStore()
		require.NoError(t, remote.Set(ctx, "k", sampleResponse(), time.Hour))
		c := NewTiered(mem, remote, TieredConfig{PromoteRemoteHits: true}, nil)

		_, ok := c.Get(ctx, "k")
		require.True(t, ok)
		_, promoted := mem.items["k"]
		assert.True(t, promoted)
		assert.Equal(t, Stats{RemoteHits: 1}, c.Stats())
	})

	t.Run("remote hit without promotion", func(t *testing.T) {
		mem, remote := newMapStore(), newMapStore()
		require.NoError(t, remote.Set(ctx, "k", sampleResponse(), time.Hour))
		c := NewTiered(mem, remote, TieredConfig{PromoteRemoteHits: false}, nil)

		_, ok := c.Get(ctx, "k")
		require.True(t, ok)
		_, promoted := mem.items["k"]
		assert.False(t, promoted)
	})

	t.Run("remote errors are misses", func(t *testing.T) {
		mem, remote := newMapStore(), newMapStore()
		remote.getErr = errors.New("connection refused")
		remote.setErr = errors.New("connection refused")
		c := NewTiered(mem, remote, TieredConfig{}, nil)

		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)

		c.Set(ctx, "k", sampleResponse())
		got, ok := c.Get(ctx, "k")
		require.True(t, ok, "memory tier still serves")
		assert.Equal(t, sampleResponse().Content, got.Content)
		assert.Equal(t, int64(1), c.Stats().Misses)
	})

	t.Run("no remote tier", func(t *testing.T) {
		c := NewTiered(newMapStore(), nil, TieredConfig{}, nil)
		_, ok := c.Get(ctx, "k")
		assert.False(t, ok)
		c.Set(ctx, "k", sampleResponse())
		_, ok = c.Get(ctx, "k")
		assert.True(t, ok)
	})
}

// TestRedisStore_RoundTrip runs against a real redis when BOOKBRIDGE_TEST_REDIS_URL is set.
func TestRedisStore_RoundTrip(t *testing.T) {
	url := os.Getenv("BOOKBRIDGE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("BOOKBRIDGE_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	s, err := ConnectRedis(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	key := Key("redis round trip", "", "brief")
	require.NoError(t, s.Set(ctx, key, sampleResponse(), time.Minute))

	got, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sampleResponse(), got)

	_, ok, err = s.Get(ctx, Key("never written", "", "brief"))
	require.NoError(t, err)
	assert.False(t, ok)
}
