// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed controlled Transcript values and inspect which audio
// segments were delivered.
//
// Example:
//
//	p := &mock.Provider{
//	    Transcripts: []types.Transcript{{Text: "hello world"}},
//	}
//	transcript, _ := p.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/stt"
	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Samples is a copy of the audio segment passed to Transcribe.
	Samples []float32
	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
}

// Provider is a mock implementation of stt.Provider. Successive Transcribe
// calls return successive entries of Transcripts; once exhausted, the last
// entry repeats. A zero-value Provider returns an empty transcript.
type Provider struct {
	mu sync.Mutex

	// Transcripts is the script of results replayed by Transcribe.
	Transcripts []types.Transcript

	// Err, if non-nil, is returned by every Transcribe call.
	Err error

	// Calls records every invocation of Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and replays the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (*types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := make([]float32, len(samples))
	copy(cp, samples)
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Samples: cp, SampleRate: sampleRate})

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Transcripts) == 0 {
		return &types.Transcript{}, nil
	}
	idx := len(p.Calls) - 1
	if idx >= len(p.Transcripts) {
		idx = len(p.Transcripts) - 1
	}
	t := p.Transcripts[idx]
	return &t, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
