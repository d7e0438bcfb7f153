package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/francktshibala/bookbridge/ai"
)

// Key derives the cache key for a prompt. Prompts differing only in case or
// whitespace share a key; the key never depends on time or user identity.
func Key(prompt, bookID, mode string) string {
	if bookID == "" {
		bookID = "-"
	}
	h := sha256.New()
	h.Write([]byte(normalizePrompt(prompt)))
	h.Write([]byte{0})
	h.Write([]byte(bookID))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	return hex.EncodeToString(h.Sum(nil))
}

func normalizePrompt(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Store is one cache tier.
type Store interface {
	Get(ctx context.Context, key string) (*ai.AIResponse, bool, error)
	Set(ctx context.Context, key string, resp *ai.AIResponse, ttl time.Duration) error
}

// MemoryStore is the in-process tier.
type MemoryStore struct {
	lru *LRUCache[string, ai.AIResponse]
}

// NewMemoryStore creates an in-process store bounded to capacity entries.
func NewMemoryStore(capacity int, defaultTTL time.Duration) *MemoryStore {
	return &MemoryStore{lru: NewLRUCache[string, ai.AIResponse](capacity, defaultTTL)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*ai.AIResponse, bool, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, resp *ai.AIResponse, ttl time.Duration) error {
	m.lru.Set(key, *resp, ttl)
	return nil
}

// Len returns the number of in-process entries.
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}

// Sweep drops expired entries until ctx is done.
func (m *MemoryStore) Sweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.lru.CleanupExpired()
		}
	}
}
