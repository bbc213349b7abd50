// Package transcript defines the transcript correction pipeline that fixes
// speech-to-text errors in user-configured vocabulary.
//
// Raw speech-to-text output is rarely perfect for uncommon proper nouns:
// contact names, product names, technical terms, and other words the user
// cares about are frequently misheard. The [Pipeline] applies a two-stage
// correction strategy:
//
//  1. Phonetic matching ([PhoneticMatcher]): fast, dictionary-free alignment
//     based on pronunciation similarity. Runs in-process with no network
//     calls, so it is cheap enough for every utterance.
//
//  2. LLM-assisted correction: a language model resolves misspellings the
//     phonetic stage could not, using the full vocabulary list as context.
//     This stage only runs when the transcript confidence is low or unknown.
//
// Each [Correction] records which method produced the substitution and its
// confidence, so callers can audit, display, or selectively roll back changes.
//
// Implementations of both interfaces must be safe for concurrent use.
package transcript

import (
	"context"

	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

// Correction captures a single word-level substitution made by the pipeline.
type Correction struct {
	// Original is the word as produced by the STT provider.
	Original string

	// Corrected is the replacement selected by the pipeline.
	Corrected string

	// Confidence is the pipeline's confidence in this substitution (0.0–1.0).
	// Values above 0.9 are considered high-confidence; values below 0.5
	// indicate the correction is speculative.
	Confidence float64

	// Method describes which correction stage produced this substitution.
	// Well-known values:
	//   "phonetic" — produced by a [PhoneticMatcher].
	//   "llm"      — produced by a language-model correction pass.
	Method string
}

// CorrectedTranscript is the output of a [Pipeline.Correct] call.
// It pairs the original [types.Transcript] with the fully corrected text and
// an itemised record of every substitution that was applied.
type CorrectedTranscript struct {
	// Original is the raw [types.Transcript] as received from the STT provider.
	Original types.Transcript

	// Corrected is the full corrected transcript text with all substitutions
	// applied. Suitable for downstream processing (LLM context, memory storage).
	Corrected string

	// Corrections is the ordered list of word-level substitutions applied to
	// produce Corrected. An empty (non-nil) slice means no corrections were
	// necessary.
	Corrections []Correction
}

// Pipeline applies multi-stage corrections to a raw [types.Transcript],
// resolving STT errors in user-configured vocabulary.
//
// Implementations must be safe for concurrent use.
type Pipeline interface {
	// Correct processes transcript using the provided vocabulary and returns
	// a [CorrectedTranscript] containing the corrected text and an itemised
	// record of every substitution made.
	//
	// terms is the list of vocabulary terms the pipeline should recognise
	// within the transcript text. Typical entries are contact names, place
	// names, and domain-specific jargon the STT model tends to mishear.
	//
	// Returns a non-nil *CorrectedTranscript on success.
	// When no corrections are needed, Corrected equals transcript.Text and
	// Corrections is an empty (non-nil) slice.
	Correct(ctx context.Context, transcript types.Transcript, terms []string) (*CorrectedTranscript, error)
}

// PhoneticMatcher resolves a single word to a known vocabulary term based on
// pronunciation similarity. It is the first stage of the correction pipeline
// and is designed to be fast enough for real-time use: no network calls,
// no LLM round-trips.
//
// Implementations must be safe for concurrent use.
type PhoneticMatcher interface {
	// Match attempts to find the term from terms that is most phonetically
	// similar to word.
	//
	// Return values:
	//   corrected  — the best-matching term from terms.
	//   confidence — similarity score in [0.0, 1.0] where 1.0 is a perfect match.
	//   matched    — true when a sufficiently similar term was found.
	//
	// When matched is false, corrected must equal word unchanged and confidence
	// must be 0. Implementations define their own similarity threshold for
	// deciding when a match is "sufficient".
	Match(word string, terms []string) (corrected string, confidence float64, matched bool)
}
