// Package sentencizer turns an incremental LLM token stream into
// speech-sized text chunks.
//
// Synthesis can start on the first complete sentence instead of waiting for
// the whole response, which is most of the perceived latency win in a voice
// pipeline. Boundaries are found with descending confidence: sentence
// punctuation first, clause punctuation when the buffer has grown long, and a
// forced split at the last whitespace when the buffer exceeds its cap.
package sentencizer

import (
	"strings"
	"unicode"
)

// Kind classifies how a chunk's boundary was found.
type Kind int

const (
	// Sentence: ended at sentence punctuation.
	Sentence Kind = iota
	// Clause: ended at clause punctuation to start synthesis earlier on a
	// long run-on.
	Clause
	// Forced: split at whitespace because the buffer exceeded its cap.
	Forced
)

func (k Kind) String() string {
	switch k {
	case Sentence:
		return "sentence"
	case Clause:
		return "clause"
	case Forced:
		return "forced"
	default:
		return "unknown"
	}
}

// Chunk is a span of text ready for synthesis.
type Chunk struct {
	Text string
	Kind Kind

	// Final marks the flush chunk at end of stream.
	Final bool
}

// Config holds the chunking thresholds, all in characters.
type Config struct {
	// MinSentenceLen is the minimum boundary position for a sentence chunk.
	// Default 10.
	MinSentenceLen int

	// MinClauseLen is the minimum buffer and boundary position for a clause
	// chunk. Default 30.
	MinClauseLen int

	// MaxBufferLen forces a whitespace split when exceeded. Default 500.
	MaxBufferLen int
}

var sentenceEndings = map[rune]bool{'.': true, '!': true, '?': true}

var clauseEndings = map[rune]bool{',': true, ':': true, ';': true, '—': true, '–': true}

// abbreviations that end with a period but do not end a sentence.
var abbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "prof.", "sr.", "jr.",
	"vs.", "etc.", "e.g.", "i.e.", "no.", "nos.",
	"st.", "ave.", "blvd.", "rd.", "apt.", "dept.",
	"inc.", "ltd.", "corp.", "co.",
	"a.m.", "p.m.", "a.d.", "b.c.",
	"ph.d.", "m.d.", "b.a.", "m.a.",
	"u.s.", "u.k.", "u.n.",
}

// Sentencizer buffers streamed tokens and emits chunks at boundaries.
// Not safe for concurrent use; one instance belongs to one response stream.
type Sentencizer struct {
	cfg Config
	buf []rune
}

// New creates a sentencizer. Zero config fields take their defaults.
func New(cfg Config) *Sentencizer {
	if cfg.MinSentenceLen <= 0 {
		cfg.MinSentenceLen = 10
	}
	if cfg.MinClauseLen <= 0 {
		cfg.MinClauseLen = 30
	}
	if cfg.MaxBufferLen <= 0 {
		cfg.MaxBufferLen = 500
	}
	return &Sentencizer{cfg: cfg}
}

// AddToken appends a token to the buffer and returns a chunk when a boundary
// is ready. At most one chunk is emitted per call; leftover text stays
// buffered for the next token.
func (s *Sentencizer) AddToken(token string) (Chunk, bool) {
	s.buf = append(s.buf, []rune(token)...)

	if b := s.lastSentenceBoundary(); b >= s.cfg.MinSentenceLen {
		if text, ok := s.cut(b); ok {
			return Chunk{Text: text, Kind: Sentence}, true
		}
	}

	if len(s.buf) >= s.cfg.MinClauseLen {
		if b := s.lastClauseBoundary(); b >= s.cfg.MinClauseLen {
			if text, ok := s.cut(b); ok {
				return Chunk{Text: text, Kind: Clause}, true
			}
		}
	}

	if len(s.buf) > s.cfg.MaxBufferLen {
		if b := s.lastSpaceBefore(s.cfg.MaxBufferLen); b > s.cfg.MinSentenceLen {
			if text, ok := s.cut(b); ok {
				return Chunk{Text: text, Kind: Forced}, true
			}
		}
	}

	return Chunk{}, false
}

// Flush returns whatever remains in the buffer as the final chunk.
func (s *Sentencizer) Flush() (Chunk, bool) {
	text := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	if text == "" {
		return Chunk{}, false
	}
	return Chunk{Text: text, Kind: Sentence, Final: true}, true
}

// Reset discards buffered text, e.g. when a turn is cancelled mid-stream.
func (s *Sentencizer) Reset() {
	s.buf = s.buf[:0]
}

// Buffer returns the current buffered text.
func (s *Sentencizer) Buffer() string { return string(s.buf) }

// cut removes buf[:b], trims it, and left-trims the remainder.
func (s *Sentencizer) cut(b int) (string, bool) {
	text := strings.TrimSpace(string(s.buf[:b]))
	rest := s.buf[b:]
	for len(rest) > 0 && unicode.IsSpace(rest[0]) {
		rest = rest[1:]
	}
	s.buf = append(s.buf[:0], rest...)
	return text, text != ""
}

// lastSentenceBoundary returns the position after the last sentence-ending
// rune, or -1. Abbreviations and decimal points do not count as endings.
func (s *Sentencizer) lastSentenceBoundary() int {
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.isSentenceEnd(i) {
			return i + 1
		}
	}
	return -1
}

func (s *Sentencizer) isSentenceEnd(i int) bool {
	c := s.buf[i]
	if !sentenceEndings[c] {
		return false
	}
	if isAbbreviation(s.buf[:i+1]) {
		return false
	}
	// A period right after a digit is a decimal point, not an ending.
	if c == '.' && i > 0 && unicode.IsDigit(s.buf[i-1]) {
		return false
	}
	return true
}

// lastClauseBoundary returns the position after the last clause-ending rune
// that is followed by a space or sits at the end of the buffer, or -1.
func (s *Sentencizer) lastClauseBoundary() int {
	for i := len(s.buf) - 1; i >= 0; i-- {
		if !clauseEndings[s.buf[i]] {
			continue
		}
		if i+1 == len(s.buf) || s.buf[i+1] == ' ' {
			return i + 1
		}
	}
	return -1
}

// lastSpaceBefore returns the index of the last ' ' before limit, or -1.
func (s *Sentencizer) lastSpaceBefore(limit int) int {
	if limit > len(s.buf) {
		limit = len(s.buf)
	}
	for i := limit - 1; i >= 0; i-- {
		if s.buf[i] == ' ' {
			return i
		}
	}
	return -1
}

func isAbbreviation(text []rune) bool {
	lower := strings.ToLower(strings.TrimSpace(string(text)))
	for _, abbrev := range abbreviations {
		if strings.HasSuffix(lower, abbrev) {
			return true
		}
	}
	return false
}
