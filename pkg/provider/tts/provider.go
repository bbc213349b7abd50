// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis engine (e.g., a local Kokoro
// server) behind a uniform batch interface. The voice pipeline feeds one
// sentence per Synthesize call as the sentencizer emits them, which keeps
// time-to-first-audio low without the provider needing its own streaming
// protocol.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"time"
)

// Segment is one synthesised utterance.
type Segment struct {
	// Samples is mono float32 PCM normalised to [-1.0, 1.0].
	Samples []float32

	// SampleRate is the rate of Samples in Hz.
	SampleRate int

	// Text is the input text this segment was synthesised from.
	Text string

	// Duration is the playback length of Samples.
	Duration time.Duration
}

// Voice describes one selectable voice.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g., "af_heart").
	ID string

	// Description is a human-readable label for voice pickers.
	Description string
}

// Provider is the abstraction over any TTS backend.
//
// Synthesize converts one sentence into audio using the given voice. An
// empty or whitespace-only text returns an empty Segment rather than an
// error. Voices returns the provider's current catalogue.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice string) (*Segment, error)
	Voices(ctx context.Context) ([]Voice, error)
}
