package ai

import (
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// NewLLMClient builds the fallback client from the configured providers. Anthropic is
// primary when its key is set, with the OpenAI-compatible provider as secondary;
// otherwise the OpenAI-compatible provider serves alone.
func NewLLMClient(cfg *Config, rec llm.Recorder) *llm.FallbackClient {
	opts := []llm.FallbackOption{
		llm.WithCallTimeout(cfg.CallTimeout),
		llm.WithRecorder(rec),
	}

	var primary llm.Provider
	switch {
	case cfg.Anthropic.APIKey != "":
		primary = llm.NewAnthropicProvider(cfg.Anthropic)
		if cfg.OpenAI.APIKey != "" {
			opts = append(opts, llm.WithSecondary(llm.NewOpenAIProvider(cfg.OpenAI)))
		}
	default:
		primary = llm.NewOpenAIProvider(cfg.OpenAI)
	}

	return llm.NewFallbackClient(primary, opts...)
}
