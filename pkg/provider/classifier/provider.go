// Package classifier defines the Scorer interface for frame-level speech
// probability models.
//
// A Scorer wraps a per-frame speech classifier (e.g. Silero VAD or an
// energy heuristic) behind a synchronous scoring call. The voice activity
// detector batches incoming audio to the scorer's native frame size and calls
// Score once per full frame.
//
// Scorers keep recurrent model state between calls; a Scorer instance belongs
// to a single audio stream and must not be shared across goroutines.
package classifier

import "errors"

// ErrFrameSize is returned when Score receives a sample count that does not
// match FrameSize.
var ErrFrameSize = errors.New("classifier: frame size mismatch")

// Scorer produces a speech probability for a single fixed-size audio frame.
type Scorer interface {
	// Score returns the probability in [0.0, 1.0] that the frame contains
	// speech. The slice must hold exactly FrameSize() normalized mono samples
	// at the given rate. Called synchronously in the audio loop; it must not
	// block on I/O.
	Score(samples []float32, sampleRate int) (float32, error)

	// FrameSize reports the number of samples the model consumes per call.
	FrameSize() int

	// ResetState clears recurrent model state. Call between utterance streams
	// so a previous segment cannot bias the next one.
	ResetState()
}
