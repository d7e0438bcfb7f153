// Package ai holds the domain types shared by the query orchestration packages.
package ai

import (
	"strings"

	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// ResponseMode selects answer length and model tier.
type ResponseMode string

const (
	ModeBrief    ResponseMode = "brief"
	ModeDetailed ResponseMode = "detailed"
)

// ParseResponseMode maps free-form input to a mode, defaulting to brief.
func ParseResponseMode(s string) ResponseMode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeDetailed)) {
		return ModeDetailed
	}
	return ModeBrief
}

const (
	DefaultBriefMaxTokens    = 500
	DefaultDetailedMaxTokens = 1500
	DefaultTemperature       = float32(0.7)
)

// Options carries every knob a query accepts.
type Options struct {
	ResponseMode ResponseMode `json:"response_mode"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  *float32     `json:"temperature,omitempty"`
	UserID       string       `json:"user_id"`
	BookID       string       `json:"book_id,omitempty"`
	BookContext  string       `json:"book_context,omitempty"`
	// Tutoring runs the four-stage tutoring pipeline instead of a single call.
	Tutoring bool `json:"tutoring,omitempty"`
	// HasConversation is set when the learner already had a prior turn.
	HasConversation bool `json:"has_conversation,omitempty"`
}

// Normalize fills defaults.
func (o Options) Normalize() Options {
	if o.ResponseMode != ModeDetailed {
		o.ResponseMode = ModeBrief
	}
	if o.MaxTokens <= 0 {
		if o.ResponseMode == ModeDetailed {
			o.MaxTokens = DefaultDetailedMaxTokens
		} else {
			o.MaxTokens = DefaultBriefMaxTokens
		}
	}
	if o.Temperature == nil {
		t := DefaultTemperature
		o.Temperature = &t
	}
	return o
}

// TemperatureOrDefault returns the requested temperature, or DefaultTemperature when
// unset. An explicit zero is kept.
func (o Options) TemperatureOrDefault() float32 {
	if o.Temperature == nil {
		return DefaultTemperature
	}
	return *o.Temperature
}

// CacheMode is the response-mode component of a cache key. Tutoring answers are
// cached separately from single-shot answers.
func (o Options) CacheMode() string {
	if o.Tutoring {
		return string(o.ResponseMode) + "+tutor"
	}
	return string(o.ResponseMode)
}

// IntentType is the category of a learner question.
type IntentType string

const (
	IntentDefinition     IntentType = "definition"
	IntentExplanation    IntentType = "explanation"
	IntentAnalysis       IntentType = "analysis"
	IntentComparison     IntentType = "comparison"
	IntentClarification  IntentType = "clarification"
	IntentFollowUp       IntentType = "follow_up"
	IntentSimplification IntentType = "simplification"
)

// ExpectedLength is the answer length an intent calls for.
type ExpectedLength string

const (
	LengthBrief      ExpectedLength = "brief"
	LengthModerate   ExpectedLength = "moderate"
	LengthDetailed   ExpectedLength = "detailed"
	LengthSimplified ExpectedLength = "simplified"
)

// Complexity is the estimated difficulty of a question.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// QueryIntent is the classifier's verdict on a prompt.
type QueryIntent struct {
	Type           IntentType     `json:"type"`
	ExpectedLength ExpectedLength `json:"expected_length"`
	Complexity     Complexity     `json:"complexity"`
	Confidence     float64        `json:"confidence"`
	Reasoning      string         `json:"reasoning"`
	// TargetAge and CEFRLevel are set for simplification requests only.
	TargetAge int    `json:"target_age,omitempty"`
	CEFRLevel string `json:"cefr_level,omitempty"`
}

// AIResponse is the answer returned to callers and stored in the cache.
type AIResponse struct {
	Content  string    `json:"content"`
	Usage    llm.Usage `json:"usage"`
	Model    string    `json:"model"`
	Tier     llm.Tier  `json:"tier"`
	Provider string    `json:"provider,omitempty"`
	Cost     float64   `json:"cost"`
	// Cached is set on copies served from the cache; stored entries never carry it.
	Cached bool `json:"cached,omitempty"`
}
