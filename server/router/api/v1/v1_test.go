package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/cache"
	"github.com/francktshibala/bookbridge/ai/core/llm"
	"github.com/francktshibala/bookbridge/store"
)

type fakeQuery struct {
	resp      *ai.AIResponse
	err       error
	fragments []string
	streamErr error
	gotOpts   ai.Options
	gotPrompt string
}

func (f *fakeQuery) Query(_ context.Context, text string, opts ai.Options) (*ai.AIResponse, error) {
	f.gotPrompt, f.gotOpts = text, opts
	return f.resp, f.err
}

func (f *fakeQuery) QueryStream(_ context.Context, text string, opts ai.Options) (<-chan string, <-chan error) {
	f.gotPrompt, f.gotOpts = text, opts
	out := make(chan string, len(f.fragments))
	errs := make(chan error, 1)
	for _, frag := range f.fragments {
		out <- frag
	}
	if f.streamErr != nil {
		errs <- f.streamErr
	}
	close(out)
	close(errs)
	return out, errs
}

type fakeLedger struct {
	records map[string]*store.UsageRecord
	err     error
}

func (f *fakeLedger) GetUserUsage(_ context.Context, userID, _ string) (*store.UsageRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[userID], nil
}

func (f *fakeLedger) GetSystemUsage(context.Context, string) (*store.SystemUsageRecord, error) {
	return nil, nil
}

func (f *fakeLedger) IncrementUsage(context.Context, string, string, store.UsageDelta) error {
	return nil
}

func newTestServer(q QueryService, ledger store.UsageLedger, perMinute int) *echo.Echo {
	s := NewAPIV1Service(q, ledger, 10, perMinute)
	s.now = func() time.Time { return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC) }
	e := echo.New()
	s.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPostQuery(t *testing.T) {
	q := &fakeQuery{resp: &ai.AIResponse{Content: "A part for the whole.", Tier: llm.TierEconomy, Cost: 0.0001}}
	e := newTestServer(q, &fakeLedger{}, 0)

	rec := do(e, http.MethodPost, "/api/v1/query",
		`{"prompt":"What is synecdoche?","user_id":"reader-1","book_id":"b1","response_mode":"DETAILED","tutoring":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got ai.AIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "A part for the whole.", got.Content)
	assert.Equal(t, "What is synecdoche?", q.gotPrompt)
	assert.Equal(t, ai.ModeDetailed, q.gotOpts.ResponseMode)
	assert.Equal(t, "b1", q.gotOpts.BookID)
	assert.True(t, q.gotOpts.Tutoring)
	assert.Nil(t, q.gotOpts.Temperature, "absent temperature stays unset")

	rec = do(e, http.MethodPost, "/api/v1/query", `{"prompt":"What is synecdoche?","user_id":"reader-1","temperature":0}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, q.gotOpts.Temperature)
	assert.Equal(t, float32(0), *q.gotOpts.Temperature)
}

func TestPostQuery_BadRequest(t *testing.T) {
	e := newTestServer(&fakeQuery{}, &fakeLedger{}, 0)

	rec := do(e, http.MethodPost, "/api/v1/query", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_id is required")

	rec = do(e, http.MethodPost, "/api/v1/query", `{"prompt":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostQuery_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		contains string
	}{
		{"user limit", &ai.UsageLimitError{Scope: ai.ScopeUser}, http.StatusTooManyRequests, "You have reached"},
		{"system limit", &ai.UsageLimitError{Scope: ai.ScopeSystem}, http.StatusTooManyRequests, "service overall"},
		{"empty prompt", ai.ErrEmptyPrompt, http.StatusBadRequest, "prompt is required"},
		{"missing user", ai.ErrMissingUser, http.StatusBadRequest, "user_id is required"},
		{"unavailable", &llm.ProviderError{Provider: "openai", Kind: llm.KindUnavailable, Err: errors.New("x")}, http.StatusServiceUnavailable, "please try again"},
		{"capacity", &llm.ProviderError{Provider: "anthropic", Kind: llm.KindCapacityExhausted, Err: errors.New("x")}, http.StatusServiceUnavailable, "capacity_exhausted"},
		{"timeout", &llm.ProviderError{Provider: "anthropic", Kind: llm.KindTimeout, Err: errors.New("x")}, http.StatusGatewayTimeout, "timeout"},
		{"auth", &llm.ProviderError{Provider: "anthropic", Kind: llm.KindAuth, Err: errors.New("x")}, http.StatusBadGateway, `"kind":"auth"`},
		{"untyped", errors.New("boom"), http.StatusBadGateway, `"kind":"server"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(&fakeQuery{err: tt.err}, &fakeLedger{}, 0)
			rec := do(e, http.MethodPost, "/api/v1/query", `{"prompt":"q","user_id":"u"}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}

func TestPostQuery_RateLimit(t *testing.T) {
	e := newTestServer(&fakeQuery{resp: &ai.AIResponse{Content: "ok"}}, &fakeLedger{}, 2)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/v1/query", `{"prompt":"q","user_id":"u"}`).Code)
	}
	rec := do(e, http.MethodPost, "/api/v1/query", `{"prompt":"q","user_id":"u"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limited")

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/api/v1/query", `{"prompt":"q","user_id":"other"}`).Code,
		"limits are per user")
}

func TestPostQueryStream(t *testing.T) {
	q := &fakeQuery{fragments: []string{"Irony ", "is\nlayered."}}
	e := newTestServer(q, &fakeLedger{}, 0)

	rec := do(e, http.MethodPost, "/api/v1/query/stream", `{"prompt":"What is irony?","user_id":"u"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "data: Irony \n\ndata: is\ndata: layered.\n\nevent: done\ndata: {}\n\n", rec.Body.String())
}

func TestPostQueryStream_Errors(t *testing.T) {
	t.Run("before first fragment", func(t *testing.T) {
		e := newTestServer(&fakeQuery{streamErr: &ai.UsageLimitError{Scope: ai.ScopeUser}}, &fakeLedger{}, 0)
		rec := do(e, http.MethodPost, "/api/v1/query/stream", `{"prompt":"q","user_id":"u"}`)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "You have reached")
	})

	t.Run("mid stream", func(t *testing.T) {
		q := &fakeQuery{
			fragments: []string{"partial"},
			streamErr: &llm.ProviderError{Provider: "anthropic", Kind: llm.KindTimeout, Err: errors.New("slow")},
		}
		e := newTestServer(q, &fakeLedger{}, 0)
		rec := do(e, http.MethodPost, "/api/v1/query/stream", `{"prompt":"q","user_id":"u"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.True(t, strings.HasPrefix(body, "data: partial\n\n"))
		assert.Contains(t, body, "event: error\n")
		assert.Contains(t, body, `"kind":"timeout"`)
		assert.NotContains(t, body, "event: done")
	})
}

func TestGetUsage(t *testing.T) {
	ledger := &fakeLedger{records: map[string]*store.UsageRecord{
		"reader-1": {UserID: "reader-1", Date: "2026-03-14", Queries: 4, Tokens: 900, CostUSD: 2.5},
	}}
	e := newTestServer(&fakeQuery{}, ledger, 0)

	rec := do(e, http.MethodGet, "/api/v1/usage/reader-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got usageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, usageResponse{
		UserID: "reader-1", Date: "2026-03-14", Queries: 4, Tokens: 900,
		CostUSD: 2.5, DailyLimitUSD: 10, RemainingUSD: 7.5,
	}, got)

	rec = do(e, http.MethodGet, "/api/v1/usage/newcomer", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, int64(0), got.Queries)
	assert.Equal(t, 10.0, got.RemainingUSD)

	ledger.err = errors.New("db down")
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/api/v1/usage/reader-1", "").Code)
}

func TestHealthz(t *testing.T) {
	e := newTestServer(&fakeQuery{}, &fakeLedger{}, 0)
	rec := do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"release":false`, "test builds carry the dev version")
	assert.NotContains(t, rec.Body.String(), `"cache"`)
}

func TestHealthz_CacheStats(t *testing.T) {
	s := NewAPIV1Service(&fakeQuery{}, &fakeLedger{}, 10, 0)
	s.CacheStats = func() cache.Stats { return cache.Stats{MemoryHits: 3, RemoteHits: 1, Misses: 2} }
	e := echo.New()
	s.RegisterRoutes(e)

	rec := do(e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Cache)
	assert.Equal(t, cache.Stats{MemoryHits: 3, RemoteHits: 1, Misses: 2}, *body.Cache)
}
