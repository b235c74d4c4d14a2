// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// Audio is requested as raw PCM, which OpenAI delivers as 24 kHz mono
// 16-bit little-endian samples, and streamed to the caller while the HTTP
// response body is still being received.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/voxbridge/pkg/audio"
	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

const (
	// SampleRate is the fixed rate of OpenAI's PCM output.
	SampleRate = 24000

	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"

	// chunkBytes is 100 ms of 24 kHz 16-bit audio.
	chunkBytes = 4800
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI audio API.
type Provider struct {
	client oai.Client
	model  string
	voice  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	voice   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithVoice sets the voice name (e.g., "alloy", "nova").
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  cfg.voice,
	}, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int { return SampleRate }

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text string) (<-chan []int16, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: request speech: %w", err)
	}

	ch := make(chan []int16, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		buf := make([]byte, chunkBytes)
		var carry []byte
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := append(carry, buf[:n]...)
				even := len(data) &^ 1
				carry = append([]byte(nil), data[even:]...)
				if even > 0 {
					select {
					case ch <- audio.BytesToSamples(data[:even]):
					case <-ctx.Done():
						return
					}
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					slog.Warn("openai tts: read speech body", "error", err)
				}
				return
			}
		}
	}()
	return ch, nil
}
