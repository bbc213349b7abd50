// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled Segment values to consumers and to verify
// which text and voice were passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Segments: []tts.Segment{{Samples: []float32{0.1}, SampleRate: 24000}},
//	    VoiceList: []tts.Voice{{ID: "af_heart"}},
//	}
//	segment, _ := p.Synthesize(ctx, "Hello.", "af_heart")
package mock

import (
	"context"
	"sync"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Provider.Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice ID passed to Synthesize.
	Voice string
}

// Provider is a mock implementation of tts.Provider. Successive Synthesize
// calls return successive entries of Segments; once exhausted, the last entry
// repeats. A zero-value Provider echoes the input text in an empty Segment.
type Provider struct {
	mu sync.Mutex

	// Segments is the script of results replayed by Synthesize. The Text
	// field of each returned Segment is overwritten with the actual input.
	Segments []tts.Segment

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// VoiceList is returned by Voices.
	VoiceList []tts.Voice

	// VoicesErr, if non-nil, is returned as the error from Voices.
	VoicesErr error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall

	// VoicesCallCount is the number of times Voices was called.
	VoicesCallCount int
}

// Synthesize records the call and replays the next scripted segment.
func (p *Provider) Synthesize(ctx context.Context, text string, voice string) (*tts.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})

	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}
	if len(p.Segments) == 0 {
		return &tts.Segment{Text: text}, nil
	}
	idx := len(p.Calls) - 1
	if idx >= len(p.Segments) {
		idx = len(p.Segments) - 1
	}
	seg := p.Segments[idx]
	seg.Text = text
	return &seg, nil
}

// Voices records the call and returns VoiceList, VoicesErr.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VoicesCallCount++
	return p.VoiceList, p.VoicesErr
}

// CallCount returns the number of Synthesize calls. Thread-safe.
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
	p.VoicesCallCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
