// Package wakemodel defines the Classifier interface for wake-phrase
// detection models.
//
// A Classifier consumes fixed-size frames of 16-bit PCM and returns a
// confidence per trained phrase. Models can load slowly (first-run downloads,
// ONNX session creation), so readiness is explicit: the audio loop checks
// Ready and drops frames instead of blocking while a model warms up.
package wakemodel

import "errors"

// ErrNotReady is returned by Predict while the model is still loading.
var ErrNotReady = errors.New("wakemodel: model not ready")

// Classifier scores audio frames against one or more wake phrases.
// A Classifier belongs to a single audio stream; Predict carries rolling
// context between calls and must not be shared across goroutines.
type Classifier interface {
	// Predict scores a single frame of FrameSize int16 samples and returns
	// a confidence in [0.0, 1.0] per phrase label. Returns ErrNotReady while
	// the model is loading.
	Predict(frame []int16) (map[string]float32, error)

	// FrameSize reports the number of samples the model consumes per call.
	FrameSize() int

	// Ready reports whether the model is loaded and Predict may be called.
	// It never blocks.
	Ready() bool

	// Reset clears rolling audio context between utterance streams.
	Reset()
}
