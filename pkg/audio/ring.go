package audio

// FrameRing is a fixed-capacity ring of recent frames. The voice activity
// detector keeps one to splice pre-roll audio in front of a detected
// utterance. Appending beyond capacity evicts the oldest frame.
// Not safe for concurrent use.
type FrameRing struct {
	frames []Frame
	cap    int
}

// NewFrameRing creates a ring holding at most capacity frames.
// A capacity below 1 is treated as 1.
func NewFrameRing(capacity int) *FrameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameRing{cap: capacity}
}

// Push appends a frame, evicting the oldest when the ring is full.
func (r *FrameRing) Push(f Frame) {
	if len(r.frames) == r.cap {
		copy(r.frames, r.frames[1:])
		r.frames[len(r.frames)-1] = f
		return
	}
	r.frames = append(r.frames, f)
}

// Len reports the number of buffered frames.
func (r *FrameRing) Len() int { return len(r.frames) }

// Tail returns up to n of the most recent frames, oldest first, excluding the
// last skip frames. Used to collect pre-roll without duplicating the frame
// that triggered speech.
func (r *FrameRing) Tail(n, skip int) []Frame {
	avail := len(r.frames) - skip
	if avail <= 0 || n <= 0 {
		return nil
	}
	if n > avail {
		n = avail
	}
	out := make([]Frame, n)
	copy(out, r.frames[avail-n:avail])
	return out
}

// Reset discards all buffered frames.
func (r *FrameRing) Reset() {
	r.frames = r.frames[:0]
}
