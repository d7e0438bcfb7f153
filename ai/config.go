package ai

import (
	"errors"
	"time"

	"github.com/francktshibala/bookbridge/ai/configloader"
	"github.com/francktshibala/bookbridge/ai/core/llm"
	"github.com/francktshibala/bookbridge/internal/profile"
)

const (
	// DefaultMemoryTTL bounds in-process cache entries.
	DefaultMemoryTTL = 24 * time.Hour
	// DefaultRemoteTTL bounds distributed cache entries.
	DefaultRemoteTTL = 30 * 24 * time.Hour
)

// Config represents AI configuration.
type Config struct {
	Anthropic   llm.AnthropicConfig
	OpenAI      llm.OpenAIConfig
	CallTimeout time.Duration
	Cache       CacheConfig
	Limits      LimitsConfig
	// ConfigDir holds optional YAML overrides; empty means built-in defaults only.
	ConfigDir string
	Enabled   bool
}

// CacheConfig represents the two-tier response cache configuration.
type CacheConfig struct {
	RedisURL          string
	Capacity          int
	MemoryTTL         time.Duration
	RemoteTTL         time.Duration
	PromoteRemoteHits bool
}

// LimitsConfig represents the daily spend ceilings in USD.
type LimitsConfig struct {
	UserDailyUSD   float64
	SystemDailyUSD float64
}

// modelsFile is the shape of models.yaml.
type modelsFile struct {
	Anthropic map[llm.Tier]string `yaml:"anthropic"`
	OpenAI    map[llm.Tier]string `yaml:"openai"`
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsAIEnabled(),
		Anthropic: llm.AnthropicConfig{
			APIKey:  p.AnthropicAPIKey,
			BaseURL: p.AnthropicBaseURL,
			Models:  copyModels(llm.DefaultAnthropicModels),
		},
		OpenAI: llm.OpenAIConfig{
			APIKey:  p.OpenAIAPIKey,
			BaseURL: p.OpenAIBaseURL,
			Models:  copyModels(llm.DefaultOpenAIModels),
		},
		CallTimeout: time.Duration(p.LLMTimeout) * time.Second,
		Cache: CacheConfig{
			RedisURL:          p.RedisURL,
			Capacity:          p.CacheCapacity,
			MemoryTTL:         DefaultMemoryTTL,
			RemoteTTL:         DefaultRemoteTTL,
			PromoteRemoteHits: p.PromoteRemoteHits,
		},
		Limits: LimitsConfig{
			UserDailyUSD:   p.UserDailyLimitUSD,
			SystemDailyUSD: p.SystemDailyLimitUSD,
		},
		ConfigDir: p.ConfigDir,
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = llm.DefaultCallTimeout
	}
	return cfg
}

// ApplyOverrides merges models.yaml from the config directory, if present.
func (c *Config) ApplyOverrides(loader *configloader.Loader) error {
	var mf modelsFile
	found, err := loader.LoadOptional("models.yaml", &mf)
	if err != nil || !found {
		return err
	}
	for tier, name := range mf.Anthropic {
		c.Anthropic.Models[tier] = name
	}
	for tier, name := range mf.OpenAI {
		c.OpenAI.Models[tier] = name
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return errors.New("no LLM provider API key configured")
	}
	for tier := range c.Anthropic.Models {
		if !tier.Valid() {
			return errors.New("unknown tier in anthropic models: " + string(tier))
		}
	}
	for tier := range c.OpenAI.Models {
		if !tier.Valid() {
			return errors.New("unknown tier in openai models: " + string(tier))
		}
	}
	if c.Limits.UserDailyUSD <= 0 || c.Limits.SystemDailyUSD <= 0 {
		return errors.New("daily limits must be positive")
	}
	return nil
}

func copyModels(m llm.TierModels) llm.TierModels {
	out := make(llm.TierModels, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
