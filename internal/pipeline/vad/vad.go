// Package vad implements voice activity detection over a frame-scored audio
// stream.
//
// The detector batches arbitrary-size input to the scorer's native frame
// size, applies hysteresis on both edges (minimum speech duration before a
// segment starts, minimum silence duration before it ends) and accumulates the
// segment's audio, splicing a short pre-roll in front so plosive onsets are
// not clipped.
//
// Process runs synchronously on the audio loop and must stay off network and
// disk; the scorer is expected to complete well under one frame period.
package vad

import (
	"fmt"
	"time"

	"github.com/rg1989/local-ai-voice-chat/pkg/audio"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier"
)

// State describes the detector's position in the speech/silence cycle after a
// Process call.
type State int

const (
	// Silence: no active speech segment.
	Silence State = iota
	// SpeechStart: this call crossed the minimum speech duration and opened
	// a segment.
	SpeechStart
	// Speaking: inside an active segment.
	Speaking
	// SpeechEnd: this call crossed the minimum silence duration and closed
	// the segment; the utterance is ready via TakeSpeech.
	SpeechEnd
)

func (s State) String() string {
	switch s {
	case Silence:
		return "silence"
	case SpeechStart:
		return "speech_start"
	case Speaking:
		return "speaking"
	case SpeechEnd:
		return "speech_end"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of one Process call.
type Result struct {
	State State

	// Confidence is the speech probability of the last scored frame. Zero
	// when no full frame was available this call.
	Confidence float32

	// Processed holds the samples actually scored this call. Input still
	// waiting in the batch buffer is not included.
	Processed []float32
}

// Config holds the detection parameters.
type Config struct {
	// SampleRate of the incoming audio in Hz.
	SampleRate int

	// Threshold is the probability at or above which a frame counts as
	// speech.
	Threshold float32

	// MinSpeechDuration of consecutive speech frames required before a
	// segment opens.
	MinSpeechDuration time.Duration

	// MinSilenceDuration of accumulated silence required before an open
	// segment closes.
	MinSilenceDuration time.Duration

	// SpeechPad is the amount of pre-roll audio spliced in front of a
	// segment from frames scored just before it opened.
	SpeechPad time.Duration
}

// preRollFrames bounds the pre-roll ring; at 512-sample frames this covers
// about 1.6 s of lookback, far more than any sane SpeechPad.
const preRollFrames = 50

// Detector is the VAD state machine for a single audio stream.
// Not safe for concurrent use.
type Detector struct {
	scorer classifier.Scorer
	cfg    Config

	speaking       bool
	speechSamples  int
	silenceSamples int

	pending []float32
	preRoll *audio.FrameRing
	speech  []float32
	final   []float32

	onSpeechStart func()
	onSpeechEnd   func(samples []float32)
}

// New creates a detector driven by the given scorer.
func New(scorer classifier.Scorer, cfg Config) *Detector {
	return &Detector{
		scorer:  scorer,
		cfg:     cfg,
		preRoll: audio.NewFrameRing(preRollFrames),
	}
}

// OnSpeechStart registers a callback invoked when a segment opens.
func (d *Detector) OnSpeechStart(fn func()) { d.onSpeechStart = fn }

// OnSpeechEnd registers a callback invoked with the full utterance (pre-roll
// plus speech plus trailing silence) when a segment closes.
func (d *Detector) OnSpeechEnd(fn func(samples []float32)) { d.onSpeechEnd = fn }

// Speaking reports whether a segment is currently open.
func (d *Detector) Speaking() bool { return d.speaking }

// Process consumes a chunk of audio of any size. Input is batched to the
// scorer's frame size and every full frame available is scored before
// returning, so a large chunk cannot build a backlog. When a segment closes
// mid-chunk, the remaining frames stay buffered for the next call.
func (d *Detector) Process(samples []float32) (Result, error) {
	d.pending = append(d.pending, samples...)

	frameSize := d.scorer.FrameSize()
	if len(d.pending) < frameSize {
		return Result{State: Silence}, nil
	}

	res := Result{State: Silence}
	for len(d.pending) >= frameSize {
		frame := make([]float32, frameSize)
		copy(frame, d.pending[:frameSize])
		d.pending = d.pending[frameSize:]
		res.Processed = append(res.Processed, frame...)

		prob, err := d.scorer.Score(frame, d.cfg.SampleRate)
		if err != nil {
			return res, fmt.Errorf("vad: score frame: %w", err)
		}
		res.Confidence = prob

		d.preRoll.Push(audio.Frame{Samples: frame, SampleRate: d.cfg.SampleRate})

		if prob >= d.cfg.Threshold {
			d.silenceSamples = 0
			d.speechSamples += frameSize
			d.speech = append(d.speech, frame...)

			if !d.speaking {
				if audio.SamplesToDuration(d.speechSamples, d.cfg.SampleRate) >= d.cfg.MinSpeechDuration {
					d.speaking = true
					res.State = SpeechStart
					d.splicePreRoll()
					if d.onSpeechStart != nil {
						d.onSpeechStart()
					}
				}
			} else {
				res.State = Speaking
			}
			continue
		}

		d.silenceSamples += frameSize

		if d.speaking {
			// Trailing silence is kept inside the utterance so the
			// transcriber sees natural cadence.
			d.speech = append(d.speech, frame...)
			res.State = Speaking

			if audio.SamplesToDuration(d.silenceSamples, d.cfg.SampleRate) >= d.cfg.MinSilenceDuration {
				d.speaking = false
				res.State = SpeechEnd
				d.final = d.speech
				d.speech = nil
				d.speechSamples = 0
				if d.onSpeechEnd != nil {
					d.onSpeechEnd(d.final)
				}
				break
			}
			continue
		}

		// Silence outside a segment discards any sub-threshold speech run.
		d.speechSamples = 0
		d.speech = nil
	}

	return res, nil
}

// splicePreRoll prepends up to SpeechPad of audio from frames scored before
// the segment opened. The newest ring frame is excluded: it is the frame that
// crossed the threshold and is already in the speech buffer.
func (d *Detector) splicePreRoll() {
	padSamples := audio.DurationToSamples(d.cfg.SpeechPad, d.cfg.SampleRate)
	if padSamples <= 0 {
		return
	}
	frames := d.preRoll.Tail(d.preRoll.Len(), 1)
	if len(frames) == 0 {
		return
	}
	var pre []float32
	for _, f := range frames {
		pre = append(pre, f.Samples...)
	}
	if len(pre) > padSamples {
		pre = pre[len(pre)-padSamples:]
	}
	d.speech = append(pre, d.speech...)
}

// TakeSpeech returns the completed utterance captured at the last SpeechEnd
// and clears it. Returns nil when no utterance is waiting.
func (d *Detector) TakeSpeech() []float32 {
	out := d.final
	d.final = nil
	return out
}

// Reset clears all detection state, including the scorer's recurrent state.
// Use when the audio stream is interrupted so a stale segment cannot leak
// into the next one.
func (d *Detector) Reset() {
	d.speaking = false
	d.speechSamples = 0
	d.silenceSamples = 0
	d.pending = nil
	d.speech = nil
	d.final = nil
	d.preRoll.Reset()
	d.scorer.ResetState()
}
