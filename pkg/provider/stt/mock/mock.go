// Package mock provides a test double for the stt package interfaces.
//
// Use Provider to script transcripts and inspect which utterances were
// submitted.
//
// Example:
//
//	p := &mock.Provider{Results: []stt.Transcript{{Text: "hello"}}}
//	tr, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe, with Samples copied.
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results is a script of transcripts returned by successive calls. Once
	// exhausted, Result is returned.
	Results []stt.Transcript

	// Result is returned once Results is exhausted.
	Result stt.Transcript

	// Err, if non-nil, is returned by every call.
	Err error

	// Delay, if positive, makes Transcribe wait before answering. The wait is
	// cut short by context cancellation.
	Delay time.Duration

	// TranscribeCalls records every call in order.
	TranscribeCalls []TranscribeCall
}

var _ stt.Provider = (*Provider)(nil)

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	req.Samples = slices.Clone(req.Samples)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Req: req})
	delay := p.Delay
	err := p.Err
	var res stt.Transcript
	if len(p.Results) > 0 {
		res = p.Results[0]
		p.Results = p.Results[1:]
	} else {
		res = p.Result
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return stt.Transcript{}, err
	}
	return res, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.TranscribeCalls)
}
