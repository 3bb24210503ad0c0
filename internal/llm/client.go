// Package llm wraps an OpenAI-compatible chat completion endpoint behind a
// small Generator interface so the rest of the engine can swap in fakes.
package llm

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2000
	DefaultTopP        = 0.95
	DefaultTimeout     = 120 * time.Second
)

// Image is an inline image attached to a request, already encoded as a
// data URL.
type Image struct {
	DataURL string
}

// Request is one generation request.
type Request struct {
	System string
	Prompt string
	Images []Image
}

// Generator produces completions for prompts.
type Generator interface {
	// Generate returns the full completion for req.
	Generate(ctx context.Context, req Request) (string, error)

	// GenerateStream streams completion deltas through onDelta and returns
	// the aggregated text.
	GenerateStream(ctx context.Context, req Request, onDelta func(string)) (string, error)

	// ModelName returns the model identifier.
	ModelName() string
}

// Options configures the chat client.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64       // 0 uses DefaultTemperature
	MaxTokens   int           // 0 uses DefaultMaxTokens
	TopP        float64       // 0 uses DefaultTopP
	Timeout     time.Duration // 0 uses DefaultTimeout
}

// Client calls an OpenAI-compatible chat completion endpoint. Transient
// failures retry with backoff; a circuit breaker fails fast when the
// endpoint is down.
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	topP        float64
	timeout     time.Duration

	retryCfg kberrors.RetryConfig
	breaker  *kberrors.CircuitBreaker
}

// NewClient creates a chat client from opts.
func NewClient(opts Options) (*Client, error) {
	if opts.Model == "" {
		return nil, kberrors.ValidationError("llm model is required", nil).
			WithSuggestion("set llm.model in the config file")
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.TopP == 0 {
		opts.TopP = DefaultTopP
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}

	clientOpts := []option.RequestOption{}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	return &Client{
		client:      openai.NewClient(clientOpts...),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		topP:        opts.TopP,
		timeout:     opts.Timeout,
		retryCfg:    kberrors.DefaultRetryConfig(),
		breaker:     kberrors.NewCircuitBreaker("llm"),
	}, nil
}

func (c *Client) params(req Request) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	if len(req.Images) == 0 {
		messages = append(messages, openai.UserMessage(req.Prompt))
	} else {
		parts := []openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.Prompt),
		}
		for _, img := range req.Images {
			parts = append(parts, openai.ImageContentPart(
				openai.ChatCompletionContentPartImageImageURLParam{URL: img.DataURL}))
		}
		messages = append(messages, openai.UserMessage(parts))
	}

	return openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    messages,
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
		TopP:        openai.Float(c.topP),
	}
}

// Generate returns the full completion for req.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	return c.execute(ctx, func(ctx context.Context) (string, error) {
		resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", kberrors.New(kberrors.ErrCodeGenerationFailed,
				"model returned no choices", nil)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// GenerateStream streams the completion, invoking onDelta for every
// content fragment, and returns the aggregated text.
func (c *Client) GenerateStream(ctx context.Context, req Request, onDelta func(string)) (string, error) {
	return c.execute(ctx, func(ctx context.Context) (string, error) {
		stream := c.client.Chat.Completions.NewStreaming(ctx, c.params(req))
		defer stream.Close()

		var sb strings.Builder
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			sb.WriteString(delta)
			if onDelta != nil {
				onDelta(delta)
			}
		}
		if err := stream.Err(); err != nil {
			return "", err
		}
		return sb.String(), nil
	})
}

func (c *Client) execute(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	text, err := kberrors.CircuitExecuteWithResult(c.breaker, func() (string, error) {
		return kberrors.RetryWithResult(ctx, c.retryCfg, func() (string, error) {
			reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			text, err := fn(reqCtx)
			if err != nil {
				if reqCtx.Err() == context.DeadlineExceeded {
					return "", kberrors.New(kberrors.ErrCodeNetworkTimeout,
						"llm request timed out", err).
						WithDetail("timeout", c.timeout.String())
				}
				if kberrors.GetCode(err) != "" {
					return "", err
				}
				return "", kberrors.New(kberrors.ErrCodeLLMUnavailable,
					"llm request failed", err).
					WithDetail("model", c.model)
			}
			return text, nil
		})
	}, func() (string, error) {
		return "", kberrors.New(kberrors.ErrCodeLLMUnavailable,
			"llm provider circuit open", nil).
			WithSuggestion("check the llm endpoint and retry shortly")
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// ModelName returns the model identifier.
func (c *Client) ModelName() string {
	return c.model
}
