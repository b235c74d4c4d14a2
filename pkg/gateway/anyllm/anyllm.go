// Package anyllm provides a gateway backend backed by
// github.com/mozilla-ai/any-llm-go, so that a single configuration entry can
// target OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq or a local
// llama.cpp/llamafile server.
//
// Usage:
//
//	b, err := anyllm.New("ollama", "llama3.2", anyllmlib.WithBaseURL("http://localhost:11434"))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/voxbridge/pkg/gateway"
)

var _ gateway.Backend = (*Backend)(nil)

// Backend implements gateway.Backend by wrapping an any-llm-go provider.
type Backend struct {
	provider  string
	backend   anyllmlib.Provider
	model     string
	maxTokens int
}

// New creates a Backend for the named provider.
//
// providerName is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile". Without an API key option the
// provider falls back to its usual environment variable.
func New(providerName, model string, opts ...anyllmlib.Option) (*Backend, error) {
	if providerName == "" {
		return nil, errors.New("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, errors.New("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Backend{provider: strings.ToLower(providerName), backend: backend, model: model}, nil
}

// SetMaxTokens caps the reply length. Zero leaves it to the provider.
func (b *Backend) SetMaxTokens(n int) { b.maxTokens = n }

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", providerName)
	}
}

// Name implements gateway.Backend.
func (b *Backend) Name() string { return b.provider + ":" + b.model }

// Complete implements gateway.Backend.
func (b *Backend) Complete(ctx context.Context, messages []gateway.Message) (string, error) {
	params := anyllmlib.CompletionParams{
		Model:    b.model,
		Messages: convertMessages(messages),
	}
	if b.maxTokens > 0 {
		mt := b.maxTokens
		params.MaxTokens = &mt
	}
	resp, err := b.backend.Completion(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("anyllm: empty choices in response")
	}
	return resp.Choices[0].Message.ContentString(), nil
}

func convertMessages(in []gateway.Message) []anyllmlib.Message {
	out := make([]anyllmlib.Message, 0, len(in))
	for _, m := range in {
		out = append(out, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
