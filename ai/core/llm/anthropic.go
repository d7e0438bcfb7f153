package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the primary provider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string
	Models  TierModels
}

// AnthropicProvider is the primary provider, speaking the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	models TierModels
}

// NewAnthropicProvider creates the primary provider. SDK retries are disabled so that
// capacity errors surface immediately and the fallback client decides what happens next.
func NewAnthropicProvider(cfg AnthropicConfig) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(newHTTPClient()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	models := cfg.Models
	if len(models) == 0 {
		models = DefaultAnthropicModels
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		models: models,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) params(req *Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.models.Resolve(req.Tier)),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(float64(req.Temperature)),
	}

	var system []string
	if req.System != "" {
		system = append(system, req.System)
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, m.Content)
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := p.params(req)

	slog.Debug("LLM: anthropic request",
		"model", params.Model,
		"messages_count", len(params.Messages),
		"max_tokens", req.MaxTokens,
	)

	startTime := time.Now()
	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err)
	}

	content := messageText(message)
	if content == "" {
		return nil, &ProviderError{Provider: p.Name(), Kind: KindServer, Err: errors.New("empty response")}
	}

	usage := Usage{
		PromptTokens:     int(message.Usage.InputTokens),
		CompletionTokens: int(message.Usage.OutputTokens),
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	latency := time.Since(startTime)
	slog.Debug("LLM: anthropic response received",
		"content_length", len(content),
		"total_tokens", usage.TotalTokens,
		"stop_reason", message.StopReason,
		"duration_ms", latency.Milliseconds(),
	)

	return &Response{
		Content:  content,
		Provider: p.Name(),
		Model:    string(params.Model),
		Tier:     req.Tier,
		Usage:    usage,
		Latency:  latency,
	}, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan string, <-chan *Usage, <-chan error) {
	contentChan := make(chan string, 10)
	usageChan := make(chan *Usage, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(usageChan)
		defer close(errChan)

		stream := p.client.Messages.NewStreaming(ctx, p.params(req))
		defer func() { _ = stream.Close() }() //nolint:errcheck // cleanup

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				errChan <- &ProviderError{Provider: p.Name(), Kind: KindServer, Err: fmt.Errorf("accumulate stream: %w", err)}
				return
			}

			ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
			if !ok || delta.Text == "" {
				continue
			}
			select {
			case contentChan <- delta.Text:
			case <-ctx.Done():
				errChan <- p.wrapError(ctx.Err())
				return
			}
		}
		if err := stream.Err(); err != nil {
			slog.Error("LLM: anthropic stream error", "error", err)
			errChan <- p.wrapError(err)
			return
		}

		usage := Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		usage.Model, usage.Provider = p.models.Resolve(req.Tier), p.Name()
		usageChan <- &usage
	}()

	return contentChan, usageChan, errChan
}

// Warmup sends a one-token ping to establish the connection.
func (p *AnthropicProvider) Warmup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.models.Resolve(TierEconomy)),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("Hi"))},
	})
	if err != nil {
		return p.wrapError(err)
	}
	return nil
}

func (p *AnthropicProvider) wrapError(err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return classify(p.Name(), status, fmt.Errorf("messages: %w", err))
}

func messageText(m *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range m.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
