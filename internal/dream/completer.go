// Package dream implements the dream processing pipeline: interpretation,
// cinematic prompt distillation, video generation, and archival.
package dream

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Message is one chat turn handed to a [Completer].
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompleteOptions tunes a single completion request. Zero values mean the
// provider's defaults.
type CompleteOptions struct {
	Temperature float64
	MaxTokens   int
}

// Completer produces one chat completion. Implementations must be safe for
// concurrent use.
type Completer interface {
	Complete(ctx context.Context, msgs []Message, opts CompleteOptions) (string, error)
}

// OpenAICompleter is a [Completer] backed by the OpenAI chat completions API.
type OpenAICompleter struct {
	client openai.Client
	model  openai.ChatModel
}

var _ Completer = (*OpenAICompleter)(nil)

// CompleterOption configures an [OpenAICompleter].
type CompleterOption func(*completerSettings)

type completerSettings struct {
	model   string
	baseURL string
}

// WithCompleterModel overrides the default chat model (gpt-4o-mini).
func WithCompleterModel(model string) CompleterOption {
	return func(s *completerSettings) { s.model = model }
}

// WithCompleterBaseURL overrides the API endpoint, mainly for tests.
func WithCompleterBaseURL(baseURL string) CompleterOption {
	return func(s *completerSettings) { s.baseURL = baseURL }
}

// NewOpenAICompleter creates a completer authenticated with apiKey.
func NewOpenAICompleter(apiKey string, opts ...CompleterOption) *OpenAICompleter {
	settings := completerSettings{model: openai.ChatModelGPT4oMini}
	for _, opt := range opts {
		opt(&settings)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if settings.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(settings.baseURL))
	}

	return &OpenAICompleter{
		client: openai.NewClient(reqOpts...),
		model:  openai.ChatModel(settings.model),
	}
}

// Complete sends one chat completion request and returns the first choice.
func (c *OpenAICompleter) Complete(ctx context.Context, msgs []Message, opts CompleteOptions) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("dream: no messages to complete")
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)),
	}
	for _, m := range msgs {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("dream: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("dream: chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
