// Package tutor runs the four-stage tutoring pipeline: context, insight, Socratic
// questions and adaptive synthesis. Stages run strictly in order; each one reads the
// text of the stages before it.
package tutor

import (
	"context"
	"errors"
	"fmt"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
)

// Stage names one pipeline step.
type Stage string

const (
	StageContext   Stage = "context"
	StageInsight   Stage = "insight"
	StageSocratic  Stage = "socratic"
	StageSynthesis Stage = "synthesis"
)

// Pipeline is the fixed stage order.
var Pipeline = []Stage{StageContext, StageInsight, StageSocratic, StageSynthesis}

// Event types passed to EventCallback.
const (
	EventStageStart    = "stage_start"
	EventStageComplete = "stage_complete"
)

// EventCallback receives pipeline progress. eventData is the stage name.
type EventCallback func(eventType string, eventData string)

// Sender is the provider client used by every stage. *llm.FallbackClient implements it.
type Sender interface {
	Send(ctx context.Context, req *llm.Request) (*llm.Response, error)
}

// ErrResponseParse is wrapped by ResponseParseError.
var ErrResponseParse = errors.New("agent response is not a valid JSON envelope")

// ResponseParseError reports a stage reply that could not be decoded. The pipeline
// recovers from it by using the raw text.
type ResponseParseError struct {
	Stage Stage
	Err   error
}

func (e *ResponseParseError) Error() string {
	return fmt.Sprintf("%s stage: %v: %v", e.Stage, ErrResponseParse, e.Err)
}

func (e *ResponseParseError) Unwrap() error { return ErrResponseParse }

// AgentResponse is the output of one stage.
type AgentResponse struct {
	Stage      Stage     `json:"stage"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Sources    []string  `json:"sources,omitempty"`
	Usage      llm.Usage `json:"usage"`
	Model      string    `json:"model"`
	Provider   string    `json:"provider"`
	// Parsed is false when the reply was not a JSON envelope and Content is the raw text.
	Parsed bool `json:"parsed"`
}

// Request is one tutoring run.
type Request struct {
	Query       string
	Excerpt     string
	Mode        ai.ResponseMode
	Tier        llm.Tier
	MaxTokens   int
	Temperature float32
	Callback    EventCallback
}

// Result aggregates the four stages.
type Result struct {
	TraceID  string           `json:"trace_id"`
	Content  string           `json:"content"`
	Stages   []*AgentResponse `json:"stages"`
	Usage    llm.Usage        `json:"usage"`
	Tier     llm.Tier         `json:"tier"`
	Model    string           `json:"model"`
	Provider string           `json:"provider"`
	Cost     float64          `json:"cost"`
}

// AIResponse converts the result into the shape returned to callers and cached.
func (r *Result) AIResponse() *ai.AIResponse {
	return &ai.AIResponse{
		Content:  r.Content,
		Usage:    r.Usage,
		Model:    r.Model,
		Tier:     r.Tier,
		Provider: r.Provider,
		Cost:     r.Cost,
	}
}
