package resilience

import (
	"context"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across
// multiple TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders one sentence through the first healthy provider. The
// requested voice may not exist on a fallback backend; backends substitute
// their default voice rather than fail.
func (f *TTSFallback) Synthesize(ctx context.Context, text, voice string) (*tts.Segment, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Segment, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// Voices returns the voice catalogue of the first healthy provider.
func (f *TTSFallback) Voices(ctx context.Context) ([]tts.Voice, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.Voice, error) {
		return p.Voices(ctx)
	})
}
