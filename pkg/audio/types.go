package audio

import "time"

// Frame represents a single chunk of mono audio flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from an input
// stream, scored by the voice activity detector, accumulated into utterances
// and handed to speech recognition.
type Frame struct {
	// Samples holds normalized mono PCM in [-1.0, 1.0].
	Samples []float32

	// SampleRate in Hz (16000 for the recognition pipeline).
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return SamplesToDuration(len(f.Samples), f.SampleRate)
}

// SamplesToDuration converts a sample count at the given rate to a duration.
func SamplesToDuration(samples, sampleRate int) time.Duration {
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// DurationToSamples converts a duration at the given rate to a sample count.
func DurationToSamples(d time.Duration, sampleRate int) int {
	return int(int64(d) * int64(sampleRate) / int64(time.Second))
}
