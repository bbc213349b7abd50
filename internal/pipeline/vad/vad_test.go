package vad

import (
	"errors"
	"testing"
	"time"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier/mock"
)

const frameSize = 512

func testConfig() Config {
	return Config{
		SampleRate:         16000,
		Threshold:          0.5,
		MinSpeechDuration:  250 * time.Millisecond,
		MinSilenceDuration: 500 * time.Millisecond,
		SpeechPad:          30 * time.Millisecond,
	}
}

// frame returns one scorer-sized frame filled with v.
func frame(v float32) []float32 {
	out := make([]float32, frameSize)
	for i := range out {
		out[i] = v
	}
	return out
}

func repeat(scores []float32, score float32, n int) []float32 {
	for range n {
		scores = append(scores, score)
	}
	return scores
}

func TestDetectorBatchesToFrameSize(t *testing.T) {
	scorer := &mock.Scorer{Scores: []float32{0.1}}
	d := New(scorer, testConfig())

	res, err := d.Process(frame(0)[:256])
	if err != nil {
		t.Fatal(err)
	}
	if scorer.Calls != 0 {
		t.Errorf("scored %d frames with a partial frame buffered, want 0", scorer.Calls)
	}
	if res.State != Silence || res.Processed != nil {
		t.Errorf("partial frame returned state %v processed %d", res.State, len(res.Processed))
	}

	if _, err := d.Process(frame(0)[:256]); err != nil {
		t.Fatal(err)
	}
	if scorer.Calls != 1 {
		t.Errorf("scored %d frames after completing one, want 1", scorer.Calls)
	}

	// A large chunk is fully drained in one call.
	res, err = d.Process(make([]float32, frameSize*3))
	if err != nil {
		t.Fatal(err)
	}
	if scorer.Calls != 4 {
		t.Errorf("scored %d frames total, want 4", scorer.Calls)
	}
	if len(res.Processed) != frameSize*3 {
		t.Errorf("processed %d samples, want %d", len(res.Processed), frameSize*3)
	}
}

func TestDetectorSpeechStartHysteresis(t *testing.T) {
	// 250ms at 16kHz is 4000 samples; the 8th 512-sample frame crosses it.
	scorer := &mock.Scorer{Scores: repeat(nil, 0.9, 8)}
	d := New(scorer, testConfig())

	var started bool
	d.OnSpeechStart(func() { started = true })

	for i := range 7 {
		res, err := d.Process(frame(0.5))
		if err != nil {
			t.Fatal(err)
		}
		if res.State != Silence {
			t.Fatalf("frame %d: state %v before min speech duration, want silence", i, res.State)
		}
	}
	if started {
		t.Fatal("speech start fired before min speech duration")
	}

	res, err := d.Process(frame(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != SpeechStart {
		t.Errorf("state %v at min speech duration, want speech_start", res.State)
	}
	if !started {
		t.Error("speech start callback did not fire")
	}
	if !d.Speaking() {
		t.Error("detector not speaking after segment opened")
	}
}

func TestDetectorShortBurstDiscarded(t *testing.T) {
	scores := repeat(nil, 0.9, 7)
	scores = append(scores, 0.1)
	scores = repeat(scores, 0.9, 7)
	scorer := &mock.Scorer{Scores: scores}
	d := New(scorer, testConfig())

	for range 7 {
		if _, err := d.Process(frame(0.5)); err != nil {
			t.Fatal(err)
		}
	}
	// One silent frame resets the run; seven more speech frames must not
	// open a segment.
	for range 8 {
		res, err := d.Process(frame(0.5))
		if err != nil {
			t.Fatal(err)
		}
		if res.State != Silence {
			t.Fatalf("state %v, want silence throughout", res.State)
		}
	}
	if d.Speaking() {
		t.Error("segment opened from two sub-threshold bursts")
	}
}

func TestDetectorSpeechEndAndUtterance(t *testing.T) {
	cfg := testConfig()
	// One speech frame is enough to open a segment.
	cfg.MinSpeechDuration = 30 * time.Millisecond

	scores := []float32{0.1, 0.1, 0.9}
	scores = repeat(scores, 0.1, 16)
	scorer := &mock.Scorer{Scores: scores}
	d := New(scorer, cfg)

	var ended []float32
	d.OnSpeechEnd(func(samples []float32) { ended = samples })

	// Two silence frames to fill the pre-roll ring, tagged so the splice is
	// observable.
	if _, err := d.Process(frame(0.01)); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Process(frame(0.02)); err != nil {
		t.Fatal(err)
	}
	res, err := d.Process(frame(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != SpeechStart {
		t.Fatalf("state %v, want speech_start", res.State)
	}

	// 500ms at 16kHz is 8000 samples; the 16th silence frame crosses it.
	for i := range 15 {
		res, err = d.Process(frame(0.03))
		if err != nil {
			t.Fatal(err)
		}
		if res.State != Speaking {
			t.Fatalf("silence frame %d: state %v, want speaking", i, res.State)
		}
	}
	res, err = d.Process(frame(0.03))
	if err != nil {
		t.Fatal(err)
	}
	if res.State != SpeechEnd {
		t.Fatalf("state %v, want speech_end", res.State)
	}
	if d.Speaking() {
		t.Error("detector still speaking after segment closed")
	}

	// 30ms pad (480 samples) + 1 speech frame + 16 silence frames.
	wantLen := 480 + frameSize + 16*frameSize
	if len(ended) != wantLen {
		t.Fatalf("utterance has %d samples, want %d", len(ended), wantLen)
	}
	// Pre-roll comes from the frame before the trigger frame.
	if ended[0] != 0.02 {
		t.Errorf("pre-roll sample = %f, want 0.02", ended[0])
	}
	if ended[480] != 0.5 {
		t.Errorf("first speech sample = %f, want 0.5", ended[480])
	}
	// Trailing silence is retained.
	if ended[len(ended)-1] != 0.03 {
		t.Errorf("last sample = %f, want trailing silence 0.03", ended[len(ended)-1])
	}

	got := d.TakeSpeech()
	if len(got) != wantLen {
		t.Errorf("TakeSpeech returned %d samples, want %d", len(got), wantLen)
	}
	if d.TakeSpeech() != nil {
		t.Error("second TakeSpeech returned audio, want nil")
	}
}

func TestDetectorScorerError(t *testing.T) {
	wantErr := errors.New("model exploded")
	scorer := &mock.Scorer{Err: wantErr}
	d := New(scorer, testConfig())

	_, err := d.Process(frame(0.5))
	if !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want wrapped scorer error", err)
	}
}

func TestDetectorReset(t *testing.T) {
	cfg := testConfig()
	cfg.MinSpeechDuration = 30 * time.Millisecond
	scorer := &mock.Scorer{Scores: []float32{0.9}}
	d := New(scorer, cfg)

	if _, err := d.Process(frame(0.5)); err != nil {
		t.Fatal(err)
	}
	if !d.Speaking() {
		t.Fatal("segment did not open")
	}

	d.Reset()
	if d.Speaking() {
		t.Error("still speaking after reset")
	}
	if d.TakeSpeech() != nil {
		t.Error("reset left a pending utterance")
	}
	if scorer.Resets != 1 {
		t.Errorf("scorer reset %d times, want 1", scorer.Resets)
	}
}
