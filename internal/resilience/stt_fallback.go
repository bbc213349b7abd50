package resilience

import (
	"context"
	"errors"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/stt"
	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

// STTFallback implements [stt.Provider] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the segment through the first healthy provider. A
// too-short segment is a property of the audio, not the backend: it does
// not trigger failover or count against the circuit breaker, and
// [stt.ErrAudioTooShort] surfaces unwrapped for the session to discard.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (*types.Transcript, error) {
	var tooShort bool
	result, err := ExecuteWithResult(f.group, func(p stt.Provider) (*types.Transcript, error) {
		tr, trErr := p.Transcribe(ctx, samples, sampleRate)
		if trErr != nil && errors.Is(trErr, stt.ErrAudioTooShort) {
			tooShort = true
			return nil, nil
		}
		return tr, trErr
	})
	if tooShort {
		return nil, stt.ErrAudioTooShort
	}
	return result, err
}
