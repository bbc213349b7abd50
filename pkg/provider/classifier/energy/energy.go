// Package energy provides an RMS-energy speech scorer used when no ONNX model
// is available. It is far less accurate than a trained model but has no
// external dependencies and works at any sample rate.
package energy

import (
	"fmt"
	"math"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier"
)

// DefaultFrameSize matches the Silero frame size at 16 kHz so the detector's
// batching behaves identically with either scorer.
const DefaultFrameSize = 512

// Scorer maps frame RMS energy to a pseudo speech probability.
type Scorer struct {
	frameSize int
	// floor is the RMS level treated as certain silence; ceil as certain speech.
	floor float64
	ceil  float64
}

var _ classifier.Scorer = (*Scorer)(nil)

// New creates an energy scorer with the given frame size. A frameSize of 0
// uses DefaultFrameSize.
func New(frameSize int) *Scorer {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Scorer{frameSize: frameSize, floor: 0.005, ceil: 0.12}
}

// FrameSize returns the configured frame size in samples.
func (s *Scorer) FrameSize() int { return s.frameSize }

// Score computes the RMS energy of the frame and maps it linearly onto
// [0.0, 1.0] between the silence floor and the speech ceiling.
func (s *Scorer) Score(samples []float32, sampleRate int) (float32, error) {
	if len(samples) != s.frameSize {
		return 0, fmt.Errorf("%w: got %d samples, want %d", classifier.ErrFrameSize, len(samples), s.frameSize)
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	if rms <= s.floor {
		return 0, nil
	}
	if rms >= s.ceil {
		return 1, nil
	}
	return float32((rms - s.floor) / (s.ceil - s.floor)), nil
}

// ResetState is a no-op; the scorer is stateless.
func (s *Scorer) ResetState() {}
