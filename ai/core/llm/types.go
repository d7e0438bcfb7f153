package llm

import (
	"context"
	"time"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

// Tier is a provider-agnostic capability/cost class.
type Tier string

const (
	// TierEconomy is the low-cost model class used for brief answers.
	TierEconomy Tier = "economy"
	// TierPremium is the high-capability model class used for detailed and complex answers.
	TierPremium Tier = "premium"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierEconomy || t == TierPremium
}

// Usage is the token accounting reported by a provider for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	// Estimated is set when any figure was estimated locally instead of reported by the provider.
	Estimated bool `json:"estimated,omitempty"`

	// Model and Provider identify who served a stream; only the final usage of a
	// stream carries them.
	Model    string `json:"-"`
	Provider string `json:"-"`
}

// Add returns the field-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
		Estimated:        u.Estimated || o.Estimated,
	}
}

// Request is one completion call. System and Messages are sent as-is.
type Request struct {
	System      string
	Messages    []Message
	Tier        Tier
	MaxTokens   int
	Temperature float32
}

// Response is the result of a completed call.
type Response struct {
	Content  string
	Provider string
	Model    string
	Tier     Tier
	Usage    Usage
	Latency  time.Duration
}

// Provider is one LLM vendor behind the generic completion contract.
type Provider interface {
	// Name identifies the provider in logs, metrics and errors.
	Name() string

	// Complete performs a synchronous completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream performs a streaming completion. The content channel is closed when the
	// stream ends; the usage channel receives the final usage (if any) before closing;
	// the error channel receives at most one error.
	Stream(ctx context.Context, req *Request) (<-chan string, <-chan *Usage, <-chan error)
}

// TierModels maps each tier to a concrete model name for one provider.
type TierModels map[Tier]string

// Resolve returns the model for tier, falling back to the premium model.
func (m TierModels) Resolve(tier Tier) string {
	if name, ok := m[tier]; ok && name != "" {
		return name
	}
	return m[TierPremium]
}

// DefaultAnthropicModels are the primary provider's tier models.
var DefaultAnthropicModels = TierModels{
	TierPremium: "claude-3-5-sonnet-20241022",
	TierEconomy: "claude-3-5-haiku-20241022",
}

// DefaultOpenAIModels are the secondary provider's tier models.
var DefaultOpenAIModels = TierModels{
	TierPremium: "gpt-4o",
	TierEconomy: "gpt-4o-mini",
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: "system", Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}
