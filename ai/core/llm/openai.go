package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default: https://api.openai.com/v1
	Models  TierModels
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
// It serves as the secondary provider on capacity fallback.
type OpenAIProvider struct {
	client *openai.Client
	models TierModels
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	models := cfg.Models
	if len(models) == 0 {
		models = DefaultOpenAIModels
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		models: models,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := p.models.Resolve(req.Tier)

	slog.Debug("LLM: openai request",
		"model", model,
		"messages_count", len(req.Messages),
		"max_tokens", req.MaxTokens,
	)

	startTime := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: openAITemperature(req.Temperature),
		Messages:    convertMessages(req),
	})
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Kind: KindServer, Err: errors.New("empty response")}
	}

	content := resp.Choices[0].Message.Content
	usage := fillUsage(Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, req, content)

	latency := time.Since(startTime)
	slog.Debug("LLM: openai response received",
		"content_length", len(content),
		"total_tokens", usage.TotalTokens,
		"estimated", usage.Estimated,
		"duration_ms", latency.Milliseconds(),
	)

	return &Response{
		Content:  content,
		Provider: p.Name(),
		Model:    model,
		Tier:     req.Tier,
		Usage:    usage,
		Latency:  latency,
	}, nil
}

func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan string, <-chan *Usage, <-chan error) {
	contentChan := make(chan string, 10)
	usageChan := make(chan *Usage, 1)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(usageChan)
		defer close(errChan)

		model := p.models.Resolve(req.Tier)
		stream, err := p.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:         model,
			MaxTokens:     req.MaxTokens,
			Temperature:   openAITemperature(req.Temperature),
			Messages:      convertMessages(req),
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		})
		if err != nil {
			slog.Error("LLM: openai stream failed to create", "error", err)
			errChan <- p.wrapError(err)
			return
		}
		defer func() { _ = stream.Close() }() //nolint:errcheck // cleanup

		var (
			received []byte
			reported Usage
		)
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				usage := fillUsage(reported, req, string(received))
				usage.Model, usage.Provider = model, p.Name()
				usageChan <- &usage
				return
			}
			if err != nil {
				slog.Error("LLM: openai stream receive error", "error", err, "bytes_so_far", len(received))
				errChan <- p.wrapError(err)
				return
			}

			if chunk.Usage != nil && chunk.Usage.TotalTokens > 0 {
				reported = Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}

			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			received = append(received, delta...)
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				slog.Warn("LLM: openai stream context cancelled during send", "bytes", len(received))
				errChan <- p.wrapError(ctx.Err())
				return
			}
		}
	}()

	return contentChan, usageChan, errChan
}

// Warmup sends a one-token ping to establish the connection.
func (p *OpenAIProvider) Warmup(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.models.Resolve(TierEconomy),
		MaxTokens: 1,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "Hi"}},
	})
	if err != nil {
		return p.wrapError(err)
	}
	return nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return classify(p.Name(), status, fmt.Errorf("chat completion: %w", err))
}

func convertMessages(req *Request) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

// newHTTPClient has no overall timeout; deadlines come from the request context.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// openAITemperature keeps an explicit zero on the wire; go-openai omits a zero
// temperature and the server then applies its own default.
func openAITemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
