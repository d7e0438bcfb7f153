package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicServer(t *testing.T, status int, body string) (*httptest.Server, *map[string]any) {
	t.Helper()
	captured := map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &captured
}

func TestAnthropicProvider_Complete(t *testing.T) {
	srv, captured := newAnthropicServer(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-5-haiku-20241022",
		"content": [{"type": "text", "text": "Synecdoche is a part standing for the whole."}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 42, "output_tokens": 11}
	}`)

	p := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})
	resp, err := p.Complete(context.Background(), &Request{
		System:      "You are a reading tutor.",
		Messages:    []Message{UserMessage("What is synecdoche?")},
		Tier:        TierEconomy,
		MaxTokens:   300,
		Temperature: 0.7,
	})
	require.NoError(t, err)

	assert.Equal(t, "Synecdoche is a part standing for the whole.", resp.Content)
	assert.Equal(t, Usage{PromptTokens: 42, CompletionTokens: 11, TotalTokens: 53}, resp.Usage)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "claude-3-5-haiku-20241022", resp.Model)
	assert.Equal(t, "claude-3-5-haiku-20241022", (*captured)["model"])
}

func TestAnthropicProvider_ErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`, KindCapacityExhausted},
		{"rate limited", 429, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, KindCapacityExhausted},
		{"auth", 401, `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`, KindAuth},
		{"bad request", 400, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens"}}`, KindBadRequest},
		{"server", 500, `{"type":"error","error":{"type":"api_error","message":"internal"}}`, KindServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newAnthropicServer(t, tt.status, tt.body)
			p := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: srv.URL})

			_, err := p.Complete(context.Background(), &Request{Messages: []Message{UserMessage("hi")}, MaxTokens: 10})
			require.Error(t, err)

			var pe *ProviderError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.want, pe.Kind)
			assert.Equal(t, tt.status, pe.StatusCode)
		})
	}
}

func TestOpenAIProvider_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "gpt-4o", body["model"])
		temperature, ok := body["temperature"].(float64)
		assert.True(t, ok, "a zero temperature is still sent")
		assert.InDelta(t, 0, temperature, 1e-6)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "An unreliable narrator..."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 0, "completion_tokens": 6, "total_tokens": 6}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	req := &Request{
		System:    "You are a reading tutor.",
		Messages:  []Message{UserMessage("Compare unreliable narration across two novels.")},
		Tier:      TierPremium,
		MaxTokens: 1500,
	}
	resp, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "An unreliable narrator...", resp.Content)
	assert.True(t, resp.Usage.Estimated, "missing prompt tokens are estimated")
	assert.Equal(t, EstimateRequestTokens(req), resp.Usage.PromptTokens)
	assert.Equal(t, 6, resp.Usage.CompletionTokens)
	assert.Equal(t, resp.Usage.PromptTokens+6, resp.Usage.TotalTokens)
}

func TestOpenAIProvider_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests", "code": "rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), &Request{Messages: []Message{UserMessage("hi")}})
	require.Error(t, err)
	assert.Equal(t, KindCapacityExhausted, KindOf(err))
}

func TestTierModels_Resolve(t *testing.T) {
	assert.Equal(t, "claude-3-5-haiku-20241022", DefaultAnthropicModels.Resolve(TierEconomy))
	assert.Equal(t, "claude-3-5-sonnet-20241022", DefaultAnthropicModels.Resolve(TierPremium))
	assert.Equal(t, "gpt-4o", TierModels{TierPremium: "gpt-4o"}.Resolve(TierEconomy))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, KindTimeout, classify("x", 0, context.DeadlineExceeded).Kind)
	assert.Equal(t, KindCapacityExhausted, classify("x", 503, errors.New("unavailable")).Kind)
	assert.Equal(t, KindCapacityExhausted, classify("x", 0, errors.New("Overloaded")).Kind)
	assert.Equal(t, KindAuth, classify("x", 403, errors.New("forbidden")).Kind)
	assert.Equal(t, KindServer, classify("x", 502, errors.New("bad gateway")).Kind)
	assert.Equal(t, KindServer, classify("x", 0, errors.New("connection reset")).Kind)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))

	u := fillUsage(Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, &Request{}, "ignored")
	assert.False(t, u.Estimated)
	assert.Equal(t, 15, u.TotalTokens)
}

func TestUsageAdd(t *testing.T) {
	a := Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}
	b := Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30, Estimated: true}
	assert.Equal(t, Usage{PromptTokens: 11, CompletionTokens: 22, TotalTokens: 33, Estimated: true}, a.Add(b))
}
