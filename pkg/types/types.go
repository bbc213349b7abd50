// Package types defines the shared types used across the voice pipeline.
//
// These form the lingua franca between providers, the session layer, and the
// interfaces. Each package defines its own domain types; cross-cutting data
// structures live here to avoid circular imports.
package types

import "time"

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// Transcript represents a speech-to-text result for one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or configured language code (e.g. "en").
	Language string

	// Confidence is the overall confidence score (0.0 to 1.0). May be zero
	// if the provider does not report confidence.
	Confidence float64

	// Duration is the length of the utterance audio.
	Duration time.Duration
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}
