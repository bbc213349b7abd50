// Package mock provides a scripted frame scorer for tests.
package mock

import (
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier"
)

// Scorer replays a fixed sequence of probabilities, one per Score call.
// When the script runs out it keeps returning the last value (or 0 if empty).
type Scorer struct {
	Frame  int
	Scores []float32
	Err    error

	Calls  int
	Resets int
}

var _ classifier.Scorer = (*Scorer)(nil)

func (m *Scorer) FrameSize() int {
	if m.Frame <= 0 {
		return 512
	}
	return m.Frame
}

func (m *Scorer) Score(samples []float32, sampleRate int) (float32, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	idx := m.Calls
	m.Calls++
	if len(m.Scores) == 0 {
		return 0, nil
	}
	if idx >= len(m.Scores) {
		idx = len(m.Scores) - 1
	}
	return m.Scores[idx], nil
}

func (m *Scorer) ResetState() { m.Resets++ }
