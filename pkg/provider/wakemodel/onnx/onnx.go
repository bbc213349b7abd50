// Package onnx runs wake-phrase detection with an ONNX classifier model.
//
// The model scores a rolling window of recent audio; each Predict call shifts
// one frame of new samples into the window and runs inference over the whole
// window. Loading happens on a background goroutine so the audio loop can keep
// draining its channel while the session warms up.
package onnx

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/onnxrt"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/wakemodel"
)

const (
	// frameSamples is 80 ms at 16 kHz, the step size the models are trained on.
	frameSamples = 1280

	// windowFrames is the rolling context fed to the model per prediction.
	windowFrames = 16
)

// Config holds the parameters for an ONNX wake classifier.
type Config struct {
	// ModelPath is the .onnx file to load.
	ModelPath string

	// Labels names the model's output phrases in output-column order. When
	// empty, the model file stem (e.g. "hey_jarvis") is used as the single
	// label.
	Labels []string
}

// Classifier is the ONNX-backed wake-phrase detector.
type Classifier struct {
	cfg    Config
	labels []string

	ready   atomic.Bool
	loadErr atomic.Pointer[error]

	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	window  []float32
}

var _ wakemodel.Classifier = (*Classifier)(nil)

// New creates the classifier and starts loading the model in the background.
// Construction fails fast only on config problems; load failures surface from
// Predict once loading settles.
func New(cfg Config) (*Classifier, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx wake classifier: model path is required")
	}
	labels := cfg.Labels
	if len(labels) == 0 {
		stem := strings.TrimSuffix(filepath.Base(cfg.ModelPath), filepath.Ext(cfg.ModelPath))
		labels = []string{stem}
	}

	c := &Classifier{
		cfg:    cfg,
		labels: labels,
		window: make([]float32, frameSamples*windowFrames),
	}
	go c.load()
	return c, nil
}

func (c *Classifier) load() {
	fail := func(err error) {
		slog.Error("wake model load failed", "model", c.cfg.ModelPath, "error", err)
		c.loadErr.Store(&err)
	}

	if _, err := os.Stat(c.cfg.ModelPath); err != nil {
		fail(fmt.Errorf("model file: %w", err))
		return
	}
	if err := onnxrt.EnsureEnvironment(); err != nil {
		fail(fmt.Errorf("onnx runtime: %w", err))
		return
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		fail(fmt.Errorf("session options: %w", err))
		return
	}
	defer options.Destroy()

	if err := options.SetIntraOpNumThreads(1); err != nil {
		fail(fmt.Errorf("intra-op threads: %w", err))
		return
	}

	session, err := ort.NewDynamicAdvancedSession(
		c.cfg.ModelPath,
		[]string{"input"},
		[]string{"output"},
		options,
	)
	if err != nil {
		fail(fmt.Errorf("create session: %w", err))
		return
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	c.ready.Store(true)
	slog.Info("wake model ready", "model", c.cfg.ModelPath, "labels", c.labels)
}

// Ready reports whether the background load has completed successfully.
func (c *Classifier) Ready() bool { return c.ready.Load() }

// FrameSize returns the per-call sample count (80 ms at 16 kHz).
func (c *Classifier) FrameSize() int { return frameSamples }

// Predict shifts the frame into the rolling window and scores it.
func (c *Classifier) Predict(frame []int16) (map[string]float32, error) {
	if len(frame) != frameSamples {
		return nil, fmt.Errorf("onnx wake classifier: got %d samples, want %d", len(frame), frameSamples)
	}
	if !c.ready.Load() {
		if errp := c.loadErr.Load(); errp != nil {
			return nil, fmt.Errorf("onnx wake classifier: %w", *errp)
		}
		return nil, wakemodel.ErrNotReady
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	copy(c.window, c.window[frameSamples:])
	tail := c.window[len(c.window)-frameSamples:]
	for i, s := range frame {
		tail[i] = float32(s) / 32768.0
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(c.window))), c.window)
	if err != nil {
		return nil, fmt.Errorf("onnx wake classifier: input tensor: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(c.labels))))
	if err != nil {
		return nil, fmt.Errorf("onnx wake classifier: output tensor: %w", err)
	}
	defer output.Destroy()

	if err := c.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("onnx wake classifier: inference: %w", err)
	}

	scores := output.GetData()
	out := make(map[string]float32, len(c.labels))
	for i, label := range c.labels {
		v := scores[i]
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		out[label] = v
	}
	return out, nil
}

// Reset clears the rolling audio window.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.window)
}

// Close releases the ONNX session. Predict returns ErrNotReady afterwards.
func (c *Classifier) Close() error {
	c.ready.Store(false)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		err := c.session.Destroy()
		c.session = nil
		return err
	}
	return nil
}
