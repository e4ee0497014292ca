package responder

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/jmichaelis/parley/internal/dialogue"
)

// OpenAIBackend implements [Backend] against the OpenAI chat completions API.
type OpenAIBackend struct {
	client      oai.Client
	model       string
	temperature float64
	maxTokens   int
}

type openaiConfig struct {
	baseURL     string
	timeout     time.Duration
	temperature float64
	maxTokens   int
}

// OpenAIOption is a functional option for [OpenAIBackend].
type OpenAIOption func(*openaiConfig)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openaiConfig) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *openaiConfig) {
		c.timeout = d
	}
}

// WithTemperature sets the sampling temperature, range [0.0, 2.0].
func WithTemperature(t float64) OpenAIOption {
	return func(c *openaiConfig) {
		c.temperature = t
	}
}

// WithMaxTokens caps completion length. Zero uses the model default.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *openaiConfig) {
		c.maxTokens = n
	}
}

// NewOpenAIBackend constructs an [OpenAIBackend].
func NewOpenAIBackend(apiKey, model string, opts ...OpenAIOption) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("responder: openai apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("responder: openai model must not be empty")
	}

	cfg := &openaiConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &OpenAIBackend{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
	}, nil
}

// Generate implements [Backend].
func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (*Reply, error) {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(b.model),
		Messages: b.buildMessages(req),
	}
	if b.temperature > 0 {
		params.Temperature = param.NewOpt(b.temperature)
	}
	if b.maxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(b.maxTokens))
	}

	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("responder: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("responder: empty choices in response")
	}

	return &Reply{
		Text:             resp.Choices[0].Message.Content,
		ModelUsed:        b.model,
		TokenConsumption: int(resp.Usage.TotalTokens),
	}, nil
}

// buildMessages maps the dialogue history onto chat roles. Operator turns
// become user messages, agent turns assistant messages.
func (b *OpenAIBackend) buildMessages(req Request) []oai.ChatCompletionMessageParamUnion {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.Instructions != "" {
		msgs = append(msgs, oai.SystemMessage(req.Instructions))
	}
	for _, v := range req.History {
		switch v.Origin {
		case dialogue.OriginAgent:
			msgs = append(msgs, oai.AssistantMessage(v.Payload))
		default:
			msgs = append(msgs, oai.UserMessage(v.Payload))
		}
	}
	msgs = append(msgs, oai.UserMessage(req.Prompt))
	return msgs
}

var _ Backend = (*OpenAIBackend)(nil)
