// Package mock provides a scripted wake classifier for tests.
package mock

import (
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/wakemodel"
)

// Classifier replays a fixed sequence of score maps, one per Predict call.
// When the script runs out it keeps returning the last entry.
type Classifier struct {
	Frame       int
	Predictions []map[string]float32
	Err         error
	NotReady    bool

	Calls  int
	Resets int
}

var _ wakemodel.Classifier = (*Classifier)(nil)

func (m *Classifier) FrameSize() int {
	if m.Frame <= 0 {
		return 1280
	}
	return m.Frame
}

func (m *Classifier) Ready() bool { return !m.NotReady }

func (m *Classifier) Predict(frame []int16) (map[string]float32, error) {
	if m.NotReady {
		return nil, wakemodel.ErrNotReady
	}
	if m.Err != nil {
		return nil, m.Err
	}
	idx := m.Calls
	m.Calls++
	if len(m.Predictions) == 0 {
		return map[string]float32{}, nil
	}
	if idx >= len(m.Predictions) {
		idx = len(m.Predictions) - 1
	}
	return m.Predictions[idx], nil
}

func (m *Classifier) Reset() { m.Resets++ }
