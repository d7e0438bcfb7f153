package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/francktshibala/bookbridge/ai"
	"github.com/francktshibala/bookbridge/ai/core/llm"
	"github.com/francktshibala/bookbridge/ai/pricing"
)

// rawConfidence is assigned to stage replies that were not valid JSON.
const rawConfidence = 0.5

// Orchestrator runs the tutoring pipeline.
type Orchestrator struct {
	llm     Sender
	prompts *PromptConfig
	prices  pricing.Table
}

// NewOrchestrator creates an orchestrator. A nil prompts uses the embedded defaults.
func NewOrchestrator(sender Sender, prompts *PromptConfig, prices pricing.Table) (*Orchestrator, error) {
	if prompts == nil {
		var err error
		if prompts, err = DefaultPrompts(); err != nil {
			return nil, err
		}
	}
	if prices == nil {
		prices = pricing.Default()
	}
	return &Orchestrator{llm: sender, prompts: prompts, prices: prices}, nil
}

// Run executes the four stages in order. Any stage error other than a malformed
// reply aborts the run; no partial result is returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	traceID := uuid.New().String()
	startTime := time.Now()

	if req.Mode == "" {
		req.Mode = ai.ModeBrief
	}
	if req.Tier == "" {
		req.Tier = llm.TierPremium
	}

	slog.Info("tutor: start run",
		"trace_id", traceID,
		"mode", req.Mode,
		"tier", req.Tier,
		"has_excerpt", req.Excerpt != "",
	)

	data := templateData{Query: req.Query, Excerpt: req.Excerpt, Mode: string(req.Mode)}
	result := &Result{TraceID: traceID, Stages: make([]*AgentResponse, 0, len(Pipeline))}

	for _, stage := range Pipeline {
		notify(req.Callback, EventStageStart, stage)

		resp, err := o.runStage(ctx, stage, req, data, traceID)
		if err != nil {
			slog.Error("tutor: stage failed, aborting run",
				"trace_id", traceID,
				"stage", stage,
				"error", err,
			)
			return nil, fmt.Errorf("tutor %s stage: %w", stage, err)
		}

		result.Stages = append(result.Stages, resp)
		result.Usage = result.Usage.Add(resp.Usage)

		switch stage {
		case StageContext:
			data.Context = resp.Content
		case StageInsight:
			data.Insight = resp.Content
		case StageSocratic:
			data.Socratic = resp.Content
		case StageSynthesis:
			result.Content = resp.Content
			result.Model = resp.Model
			result.Provider = resp.Provider
		}

		notify(req.Callback, EventStageComplete, stage)
	}

	result.Tier = o.stageTier(StageSynthesis, req)
	result.Cost = o.prices.Cost(result.Usage, result.Tier)

	slog.Info("tutor: run complete",
		"trace_id", traceID,
		"total_tokens", result.Usage.TotalTokens,
		"cost_usd", result.Cost,
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return result, nil
}

func (o *Orchestrator) runStage(ctx context.Context, stage Stage, req Request, data templateData, traceID string) (*AgentResponse, error) {
	system, user, err := o.prompts.render(stage, data)
	if err != nil {
		return nil, err
	}

	maxTokens := o.prompts.Stages[stage].MaxTokens
	if maxTokens <= 0 || (stage == StageSynthesis && req.MaxTokens > 0) {
		maxTokens = req.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = ai.Options{ResponseMode: req.Mode}.Normalize().MaxTokens
	}

	resp, err := o.llm.Send(ctx, &llm.Request{
		System:      system,
		Messages:    []llm.Message{llm.UserMessage(user)},
		Tier:        o.stageTier(stage, req),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}

	out := &AgentResponse{
		Stage:    stage,
		Usage:    resp.Usage,
		Model:    resp.Model,
		Provider: resp.Provider,
	}
	env, err := parseEnvelope(stage, resp.Content)
	if err != nil {
		var perr *ResponseParseError
		if !errors.As(err, &perr) {
			return nil, err
		}
		slog.Warn("tutor: malformed stage reply, using raw text",
			"trace_id", traceID,
			"stage", stage,
			"error", err,
			"response_length", len(resp.Content),
		)
		out.Content = strings.TrimSpace(resp.Content)
		out.Confidence = rawConfidence
		return out, nil
	}

	out.Content = env.Content
	out.Confidence = env.Confidence
	out.Sources = env.Sources
	out.Parsed = true

	slog.Debug("tutor: stage complete",
		"trace_id", traceID,
		"stage", stage,
		"confidence", out.Confidence,
		"tokens", resp.Usage.TotalTokens,
	)
	return out, nil
}

func (o *Orchestrator) stageTier(stage Stage, req Request) llm.Tier {
	if t := o.prompts.Stages[stage].Tier; t != "" {
		return t
	}
	return req.Tier
}

type envelope struct {
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence"`
	Sources    []string `json:"sources"`
}

type parsedEnvelope struct {
	Content    string
	Confidence float64
	Sources    []string
}

// parseEnvelope decodes a stage reply. Markdown code fences and text around the
// outermost object are tolerated.
func parseEnvelope(stage Stage, raw string) (*parsedEnvelope, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return nil, &ResponseParseError{Stage: stage, Err: err}
	}
	if strings.TrimSpace(env.Content) == "" {
		return nil, &ResponseParseError{Stage: stage, Err: errors.New("empty content")}
	}

	out := &parsedEnvelope{Content: strings.TrimSpace(env.Content), Confidence: rawConfidence, Sources: env.Sources}
	if env.Confidence != nil {
		out.Confidence = min(max(*env.Confidence, 0), 1)
	}
	return out, nil
}

func notify(cb EventCallback, eventType string, stage Stage) {
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("tutor: event callback panicked", "event", eventType, "stage", stage, "panic", r)
		}
	}()
	cb(eventType, string(stage))
}
