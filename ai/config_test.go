package ai

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/francktshibala/bookbridge/ai/configloader"
	"github.com/francktshibala/bookbridge/ai/core/llm"
	"github.com/francktshibala/bookbridge/internal/profile"
)

func testProfile() *profile.Profile {
	return &profile.Profile{
		AnthropicAPIKey:     "sk-ant",
		OpenAIAPIKey:        "sk-oai",
		OpenAIBaseURL:       "https://api.openai.com/v1",
		LLMTimeout:          30,
		CacheCapacity:       100,
		PromoteRemoteHits:   true,
		UserDailyLimitUSD:   10,
		SystemDailyLimitUSD: 150,
	}
}

func TestNewConfigFromProfile(t *testing.T) {
	cfg := NewConfigFromProfile(testProfile())

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 30*time.Second, cfg.CallTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Cache.MemoryTTL)
	assert.Equal(t, 30*24*time.Hour, cfg.Cache.RemoteTTL)
	assert.Equal(t, 10.0, cfg.Limits.UserDailyUSD)
	assert.Equal(t, 150.0, cfg.Limits.SystemDailyUSD)
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Anthropic.Models[llm.TierEconomy])
	require.NoError(t, cfg.Validate())
}

func TestConfig_ApplyOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "models.yaml"), []byte(
		"anthropic:\n  premium: claude-sonnet-4-20250514\nopenai:\n  economy: gpt-4.1-mini\n"), 0o600))

	cfg := NewConfigFromProfile(testProfile())
	require.NoError(t, cfg.ApplyOverrides(configloader.NewLoader(dir)))

	assert.Equal(t, "claude-sonnet-4-20250514", cfg.Anthropic.Models[llm.TierPremium])
	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Anthropic.Models[llm.TierEconomy])
	assert.Equal(t, "gpt-4.1-mini", cfg.OpenAI.Models[llm.TierEconomy])
	assert.Equal(t, "claude-3-5-sonnet-20241022", llm.DefaultAnthropicModels[llm.TierPremium], "defaults are not mutated")
}

func TestConfig_Validate(t *testing.T) {
	p := testProfile()
	p.AnthropicAPIKey, p.OpenAIAPIKey = "", ""
	assert.Error(t, NewConfigFromProfile(p).Validate())

	cfg := NewConfigFromProfile(testProfile())
	cfg.Anthropic.Models["ultra"] = "x"
	assert.Error(t, cfg.Validate())
}

func TestNewLLMClient(t *testing.T) {
	cfg := NewConfigFromProfile(testProfile())
	assert.NotNil(t, NewLLMClient(cfg, nil))

	p := testProfile()
	p.AnthropicAPIKey = ""
	assert.NotNil(t, NewLLMClient(NewConfigFromProfile(p), nil))
}

func TestOptions_Normalize(t *testing.T) {
	o := Options{}.Normalize()
	assert.Equal(t, ModeBrief, o.ResponseMode)
	assert.Equal(t, DefaultBriefMaxTokens, o.MaxTokens)
	require.NotNil(t, o.Temperature)
	assert.Equal(t, DefaultTemperature, *o.Temperature)
	assert.Equal(t, DefaultTemperature, Options{}.TemperatureOrDefault())

	zero := float32(0)
	z := Options{Temperature: &zero}.Normalize()
	assert.Equal(t, float32(0), z.TemperatureOrDefault(), "an explicit zero is kept")

	d := Options{ResponseMode: ModeDetailed, Tutoring: true}.Normalize()
	assert.Equal(t, DefaultDetailedMaxTokens, d.MaxTokens)
	assert.Equal(t, "detailed+tutor", d.CacheMode())

	assert.Equal(t, "brief", Options{ResponseMode: "weird"}.Normalize().CacheMode())
}

func TestParseResponseMode(t *testing.T) {
	assert.Equal(t, ModeDetailed, ParseResponseMode(" Detailed "))
	assert.Equal(t, ModeBrief, ParseResponseMode(""))
}

func TestUsageLimitError(t *testing.T) {
	err := error(&UsageLimitError{Scope: ScopeSystem, Reason: "system daily limit reached"})
	assert.True(t, errors.Is(err, ErrUsageLimitExceeded))

	var ule *UsageLimitError
	require.True(t, errors.As(err, &ule))
	assert.Equal(t, ScopeSystem, ule.Scope)
}
