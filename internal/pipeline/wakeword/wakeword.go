// Package wakeword implements the gate that decides when microphone audio is
// forwarded to voice activity detection.
//
// The gate sits in front of the VAD: while Listening it scores frames against
// a wake-phrase classifier, and only after a detection (or a manual
// activation) does downstream processing see audio. An Active gate falls back
// to Listening after a timeout of conversational inactivity.
//
// Two cross-cutting flags couple the gate to the rest of a turn: the speaking
// mute suppresses detection while synthesized audio is playing so the
// assistant cannot wake itself, and the processing lock freezes the timeout
// while a response is being produced. Both are set from the turn task while
// Process runs on the audio loop, so all state is mutex-guarded.
package wakeword

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rg1989/local-ai-voice-chat/pkg/audio"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/wakemodel"
)

// State describes the gate's position in its lifecycle.
type State int

const (
	// Disabled: wake-word gating is off; audio flows to the VAD unchecked.
	Disabled State = iota
	// Listening: scoring frames, waiting for the wake phrase.
	Listening
	// Active: wake phrase heard; audio flows to the VAD until timeout.
	Active
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Listening:
		return "listening"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of one Process call.
type Result struct {
	State State

	// Detected is true only on the call that transitioned the gate to
	// Active via the classifier.
	Detected bool

	// Confidence is the highest score the cached phrase key produced this
	// call.
	Confidence float32

	// Phrase is the configured wake phrase name.
	Phrase string
}

// Settings holds the gate's runtime-adjustable parameters.
type Settings struct {
	// Enabled turns gating on. When false the gate reports Disabled and
	// callers should forward audio unconditionally.
	Enabled bool

	// Phrase is the wake phrase model name, e.g. "hey_jarvis".
	Phrase string

	// Threshold is the score at or above which a frame counts as a
	// detection.
	Threshold float32

	// Timeout is how long the gate stays Active without a timeout reset
	// before falling back to Listening.
	Timeout time.Duration

	// Debounce is the minimum interval between two detections; scores
	// inside the window are ignored so one utterance of the phrase cannot
	// trigger twice.
	Debounce time.Duration
}

// LoadFunc constructs a classifier for a wake phrase. Construction must be
// cheap; slow model loading belongs inside the classifier, surfaced through
// its Ready method.
type LoadFunc func(phrase string) (wakemodel.Classifier, error)

// Gate is the wake-word state machine for a single audio stream.
// Safe for concurrent use: the speaking and processing flags are set from the
// turn task while Process runs on the audio loop.
type Gate struct {
	load LoadFunc
	now  func() time.Time

	mu       sync.Mutex
	settings Settings
	state    State

	speaking   bool
	processing bool

	lastDetection time.Time
	activeStart   time.Time

	model         wakemodel.Classifier
	modelErr      error
	matchedKey    string
	keyWarned     bool
	predictWarned bool
	pending       []int16

	onWake    func()
	onTimeout func()
}

// New creates a gate with the given settings. The classifier is loaded
// lazily on the first Process call that needs it.
func New(load LoadFunc, settings Settings) *Gate {
	g := &Gate{
		load: load,
		now:  time.Now,
	}
	g.applySettings(settings)
	return g
}

// OnWake registers a callback invoked when the classifier detects the phrase.
func (g *Gate) OnWake(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onWake = fn
}

// OnTimeout registers a callback invoked when an Active gate times out back
// to Listening.
func (g *Gate) OnTimeout(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTimeout = fn
}

// Process consumes a chunk of normalized mono audio and returns the gate's
// state. Frames are dropped rather than queued whenever scoring is not
// possible: while muted, while Active, and while the classifier is loading.
func (g *Gate) Process(samples []float32) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.settings.Enabled {
		return g.result(false, 0)
	}

	// Echo mute: synthesized audio is playing, the phrase in it must not
	// retrigger the gate.
	if g.speaking {
		return g.result(false, 0)
	}

	if g.state == Active && !g.processing {
		if g.now().Sub(g.activeStart) >= g.settings.Timeout {
			g.state = Listening
			if g.onTimeout != nil {
				fn := g.onTimeout
				g.mu.Unlock()
				fn()
				g.mu.Lock()
			}
		}
	}

	if g.state == Active {
		return g.result(false, 0)
	}

	if !g.ensureModel() {
		return g.result(false, 0)
	}

	g.pending = append(g.pending, audio.Float32ToInt16(samples)...)

	frameSize := g.model.FrameSize()
	var confidence float32
	for len(g.pending) >= frameSize {
		frame := g.pending[:frameSize]
		g.pending = g.pending[frameSize:]

		scores, err := g.model.Predict(frame)
		if err != nil {
			if err == wakemodel.ErrNotReady {
				// Model still warming up; drop the remaining audio
				// rather than letting it go stale in the buffer.
				g.pending = nil
				return g.result(false, 0)
			}
			// A broken model fails on every frame batch; log the first
			// failure of the episode, not all of them.
			if !g.predictWarned {
				g.predictWarned = true
				slog.Error("wake word prediction failed", "phrase", g.settings.Phrase, "error", err)
			}
			return g.result(false, 0)
		}
		g.predictWarned = false
		if c := g.matchScore(scores); c > confidence {
			confidence = c
		}
	}

	now := g.now()
	if confidence >= g.settings.Threshold && now.Sub(g.lastDetection) >= g.settings.Debounce {
		g.lastDetection = now
		g.activeStart = now
		g.state = Active
		if g.onWake != nil {
			fn := g.onWake
			g.mu.Unlock()
			fn()
			g.mu.Lock()
		}
		res := g.result(true, confidence)
		return res
	}

	return g.result(false, confidence)
}

func (g *Gate) result(detected bool, confidence float32) Result {
	return Result{
		State:      g.state,
		Detected:   detected,
		Confidence: confidence,
		Phrase:     g.settings.Phrase,
	}
}

// ensureModel lazily constructs the classifier and reports whether it is
// ready to score. Load failures are logged once and retried only after a
// settings change swaps the phrase.
func (g *Gate) ensureModel() bool {
	if g.model == nil && g.modelErr == nil {
		g.model, g.modelErr = g.load(g.settings.Phrase)
		if g.modelErr != nil {
			slog.Error("wake word model load failed", "phrase", g.settings.Phrase, "error", g.modelErr)
		}
	}
	return g.model != nil && g.model.Ready()
}

// matchScore resolves the configured phrase against the classifier's label
// set. The resolved key is cached until the phrase or model changes. Matching
// is best-effort: exact normalized match first, then substring containment in
// either direction, then the first label with a warning.
func (g *Gate) matchScore(scores map[string]float32) float32 {
	if g.matchedKey != "" {
		if c, ok := scores[g.matchedKey]; ok {
			return c
		}
	}

	want := normalizeKey(g.settings.Phrase)
	keys := make([]string, 0, len(scores))
	for k := range scores {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if normalizeKey(key) == want {
			g.matchedKey = key
			return scores[key]
		}
	}
	for _, key := range keys {
		norm := normalizeKey(key)
		if strings.Contains(norm, want) || strings.Contains(want, norm) {
			g.matchedKey = key
			return scores[key]
		}
	}
	if len(keys) > 0 {
		g.matchedKey = keys[0]
		if !g.keyWarned {
			g.keyWarned = true
			slog.Warn("wake phrase has no matching classifier label, using first",
				"phrase", g.settings.Phrase, "label", keys[0])
		}
		return scores[keys[0]]
	}
	return 0
}

func normalizeKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "-", "_")
}

// SetActive forces the gate Active, e.g. when speech starts through a
// non-wake path. No-op while disabled.
func (g *Gate) SetActive() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.settings.Enabled {
		return
	}
	g.state = Active
	g.activeStart = g.now()
}

// SetListening returns the gate to Listening. No-op while disabled.
func (g *Gate) SetListening() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.settings.Enabled {
		return
	}
	g.state = Listening
}

// ResetTimeout restarts the Active window, e.g. while the user is still
// speaking.
func (g *Gate) ResetTimeout() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.activeStart = g.now()
}

// SetSpeaking sets the echo mute. True while synthesized audio is playing.
func (g *Gate) SetSpeaking(speaking bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speaking = speaking
}

// SetProcessing sets the processing lock. While held, the Active timeout is
// frozen; setting it also refreshes the timeout so the window restarts when
// the lock is released.
func (g *Gate) SetProcessing(processing bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.processing = processing
	if processing {
		g.activeStart = g.now()
	}
}

// UpdateSettings applies new settings at runtime. Toggling Enabled moves the
// gate between Disabled and Listening; changing the phrase drops the loaded
// classifier and cached label so the next Process reloads.
func (g *Gate) UpdateSettings(settings Settings) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.applySettings(settings)
}

func (g *Gate) applySettings(settings Settings) {
	phraseChanged := settings.Phrase != g.settings.Phrase
	g.settings = settings

	if settings.Enabled {
		if g.state == Disabled {
			g.state = Listening
		}
	} else {
		g.state = Disabled
	}

	if phraseChanged {
		g.model = nil
		g.modelErr = nil
		g.matchedKey = ""
		g.keyWarned = false
		g.predictWarned = false
		g.pending = nil
	}
}

// Settings returns a copy of the current settings.
func (g *Gate) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// State returns the gate's current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Active reports whether audio is currently forwarded to the VAD.
func (g *Gate) Active() bool {
	return g.State() == Active
}

// Ready reports whether the gate can score audio. A disabled gate is always
// ready.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.settings.Enabled {
		return true
	}
	return g.model != nil && g.model.Ready()
}

// Reset returns the gate to its initial state for the current settings,
// clearing flags, timers and the cached label. The classifier instance is
// kept but its rolling context is cleared.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.settings.Enabled {
		g.state = Listening
	} else {
		g.state = Disabled
	}
	g.speaking = false
	g.processing = false
	g.lastDetection = time.Time{}
	g.activeStart = time.Time{}
	g.matchedKey = ""
	g.keyWarned = false
	g.predictWarned = false
	g.pending = nil
	if g.model != nil {
		g.model.Reset()
	}
}
