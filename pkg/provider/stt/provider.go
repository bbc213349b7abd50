// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription engine (a local whisper.cpp
// model or a whisper-server instance) behind a uniform interface. The voice
// pipeline segments speech upstream, so providers receive one complete
// utterance per call and return a single authoritative transcript for it.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

// ErrAudioTooShort is returned when the supplied segment is shorter than the
// provider's minimum usable duration.
var ErrAudioTooShort = errors.New("audio segment too short to transcribe")

// Provider is the abstraction over any STT backend.
//
// Transcribe converts one complete speech segment into text. samples is mono
// float32 PCM normalised to [-1.0, 1.0] at the given sample rate; providers
// resample internally when the engine requires a fixed rate. The returned
// Transcript carries the recognised text plus language and duration metadata;
// Confidence is zero when the backend does not report one.
type Provider interface {
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (*types.Transcript, error)
}
