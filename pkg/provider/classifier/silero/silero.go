// Package silero scores audio frames with the Silero VAD ONNX model.
//
// The model is recurrent: each Score call feeds the previous hidden state back
// in, so one Scorer tracks one audio stream. The ONNX session is created
// lazily on first use to keep process startup cheap when voice input is
// disabled.
package silero

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/onnxrt"
)

const (
	// frameSamples16k is the model's native frame size at 16 kHz.
	frameSamples16k = 512
	frameSamples8k  = 256

	// stateSize is the flattened recurrent state: shape [2, 1, 128].
	stateSize = 2 * 128
)

// Scorer runs Silero VAD inference over fixed-size frames.
type Scorer struct {
	modelPath  string
	sampleRate int
	frameSize  int

	mu          sync.Mutex
	sessionOnce sync.Once
	session     *ort.DynamicAdvancedSession
	sessionErr  error
	state       []float32
}

var _ classifier.Scorer = (*Scorer)(nil)

// New creates a Silero scorer for the given model file and sample rate.
// Only 8000 and 16000 Hz are supported by the model.
func New(modelPath string, sampleRate int) (*Scorer, error) {
	frameSize := 0
	switch sampleRate {
	case 16000:
		frameSize = frameSamples16k
	case 8000:
		frameSize = frameSamples8k
	default:
		return nil, fmt.Errorf("silero: unsupported sample rate %d (want 8000 or 16000)", sampleRate)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("silero: model file: %w", err)
	}
	return &Scorer{
		modelPath:  modelPath,
		sampleRate: sampleRate,
		frameSize:  frameSize,
		state:      make([]float32, stateSize),
	}, nil
}

// FrameSize returns the model's native frame size in samples.
func (s *Scorer) FrameSize() int { return s.frameSize }

// Score runs one inference step and returns the speech probability.
func (s *Scorer) Score(samples []float32, sampleRate int) (float32, error) {
	if len(samples) != s.frameSize {
		return 0, fmt.Errorf("%w: got %d samples, want %d", classifier.ErrFrameSize, len(samples), s.frameSize)
	}
	if sampleRate != s.sampleRate {
		return 0, fmt.Errorf("silero: sample rate %d does not match configured %d", sampleRate, s.sampleRate)
	}
	if err := s.loadSession(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	input, err := ort.NewTensor(ort.NewShape(1, int64(s.frameSize)), samples)
	if err != nil {
		return 0, fmt.Errorf("silero: input tensor: %w", err)
	}
	defer input.Destroy()

	stateIn, err := ort.NewTensor(ort.NewShape(2, 1, 128), s.state)
	if err != nil {
		return 0, fmt.Errorf("silero: state tensor: %w", err)
	}
	defer stateIn.Destroy()

	sr, err := ort.NewTensor(ort.NewShape(1), []int64{int64(s.sampleRate)})
	if err != nil {
		return 0, fmt.Errorf("silero: sample rate tensor: %w", err)
	}
	defer sr.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("silero: output tensor: %w", err)
	}
	defer output.Destroy()

	stateOut, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		return 0, fmt.Errorf("silero: state output tensor: %w", err)
	}
	defer stateOut.Destroy()

	err = s.session.Run(
		[]ort.Value{input, stateIn, sr},
		[]ort.Value{output, stateOut},
	)
	if err != nil {
		return 0, fmt.Errorf("silero: inference: %w", err)
	}

	copy(s.state, stateOut.GetData())

	prob := output.GetData()[0]
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}
	return prob, nil
}

// ResetState zeroes the recurrent state between utterance streams.
func (s *Scorer) ResetState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.state)
}

// Close releases the ONNX session.
func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		return err
	}
	return nil
}

func (s *Scorer) loadSession() error {
	s.sessionOnce.Do(func() {
		if err := onnxrt.EnsureEnvironment(); err != nil {
			s.sessionErr = fmt.Errorf("silero: onnx runtime: %w", err)
			return
		}

		options, err := ort.NewSessionOptions()
		if err != nil {
			s.sessionErr = fmt.Errorf("silero: session options: %w", err)
			return
		}
		defer options.Destroy()

		if err := options.SetIntraOpNumThreads(1); err != nil {
			s.sessionErr = fmt.Errorf("silero: intra-op threads: %w", err)
			return
		}
		if err := options.SetInterOpNumThreads(1); err != nil {
			s.sessionErr = fmt.Errorf("silero: inter-op threads: %w", err)
			return
		}

		s.session, s.sessionErr = ort.NewDynamicAdvancedSession(
			s.modelPath,
			[]string{"input", "state", "sr"},
			[]string{"output", "stateN"},
			options,
		)
		if s.sessionErr != nil {
			s.sessionErr = fmt.Errorf("silero: create session: %w", s.sessionErr)
		}
	})
	return s.sessionErr
}
