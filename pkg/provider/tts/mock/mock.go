// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio chunks to consumers and to verify
// which texts were sent for synthesis.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks: [][]int16{make([]int16, 320), make([]int16, 320)},
//	    Rate:   16000,
//	}
//	ch, _ := p.SynthesizeStream(ctx, "hello")
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Chunks is emitted, in order, by every SynthesizeStream call.
	Chunks [][]int16

	// ChunkDelay, if positive, is waited before each chunk is sent.
	ChunkDelay time.Duration

	// Rate is returned by SampleRate. Defaults to 16000 when zero.
	Rate int

	// Err, if non-nil, is returned by SynthesizeStream.
	Err error

	// Texts records the text of every SynthesizeStream call in order.
	Texts []string

	// Cancelled counts streams that ended because ctx was cancelled before
	// every chunk was sent.
	Cancelled int
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream records text and streams Chunks on a new channel.
func (p *Provider) SynthesizeStream(ctx context.Context, text string) (<-chan []int16, error) {
	p.mu.Lock()
	p.Texts = append(p.Texts, text)
	err := p.Err
	chunks := slices.Clone(p.Chunks)
	delay := p.ChunkDelay
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	ch := make(chan []int16)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					p.cancelled()
					return
				}
			}
			select {
			case ch <- slices.Clone(c):
			case <-ctx.Done():
				p.cancelled()
				return
			}
		}
	}()
	return ch, nil
}

// SampleRate implements tts.Provider.
func (p *Provider) SampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Rate == 0 {
		return 16000
	}
	return p.Rate
}

// Calls returns a copy of the recorded texts. Thread-safe.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Texts)
}

// CancelCount returns the number of cancelled streams. Thread-safe.
func (p *Provider) CancelCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Cancelled
}

func (p *Provider) cancelled() {
	p.mu.Lock()
	p.Cancelled++
	p.mu.Unlock()
}
