// Package openai provides a gateway backend for any OpenAI-compatible chat
// completions endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/voxbridge/pkg/gateway"
)

var _ gateway.Backend = (*Backend)(nil)

// Backend implements gateway.Backend using the OpenAI chat completions API.
type Backend struct {
	client    oai.Client
	model     string
	maxTokens int64
}

// config holds optional configuration for the backend.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxTokens    int64
	maxRetries   int
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithMaxTokens caps the reply length. Spoken replies should stay short.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = int64(n) }
}

// WithMaxRetries sets how often the SDK retries failed requests. Defaults
// to 0: failover is handled above the backend.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New constructs a Backend for model.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Backend{
		client:    oai.NewClient(reqOpts...),
		model:     model,
		maxTokens: cfg.maxTokens,
	}, nil
}

// Name implements gateway.Backend.
func (b *Backend) Name() string { return "openai:" + b.model }

// Complete implements gateway.Backend.
func (b *Backend) Complete(ctx context.Context, messages []gateway.Message) (string, error) {
	params, err := b.buildParams(messages)
	if err != nil {
		return "", fmt.Errorf("openai: build params: %w", err)
	}
	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (b *Backend) buildParams(messages []gateway.Message) (oai.ChatCompletionNewParams, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		out = append(out, msg)
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(b.model),
		Messages: out,
	}
	if b.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(b.maxTokens)
	}
	return params, nil
}

// convertMessage converts a gateway.Message to an OpenAI SDK message param.
func convertMessage(m gateway.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case gateway.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case gateway.RoleUser:
		return oai.UserMessage(m.Content), nil
	case gateway.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(m.Content)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unknown message role %q", m.Role)
	}
}
