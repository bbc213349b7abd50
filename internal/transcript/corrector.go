package transcript

import (
	"context"
	"strings"

	"github.com/rg1989/local-ai-voice-chat/internal/transcript/llmcorrect"
	"github.com/rg1989/local-ai-voice-chat/internal/transcript/phonetic"
	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

const (
	defaultLLMConfidenceThreshold = 0.5
)

// PipelineOption is a functional option for configuring a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithPhoneticMatcher attaches a [PhoneticMatcher] as the first correction
// stage. When nil (the default), the phonetic stage is skipped entirely.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.phonetic = m
	}
}

// WithLLMCorrector attaches an [llmcorrect.Corrector] as the second correction
// stage. When nil (the default), the LLM stage is skipped entirely.
func WithLLMCorrector(c *llmcorrect.Corrector) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.llmCorrector = c
	}
}

// WithLLMBelowConfidence sets the transcript-confidence threshold below which
// the LLM corrector (when one is configured) is invoked. Default: 0.5.
//
// Transcripts whose [types.Transcript.Confidence] is zero (the provider did
// not report one) are always submitted when the LLM corrector is configured.
func WithLLMBelowConfidence(threshold float64) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.llmThreshold = threshold
	}
}

// CorrectionPipeline is the two-stage transcript correction implementation of
// [Pipeline]. Stages are optional and are applied in order:
//
//  1. [PhoneticMatcher] — fast, in-process phonetic vocabulary alignment.
//  2. [llmcorrect.Corrector] — LLM-assisted correction for low-confidence
//     transcripts.
//
// CorrectionPipeline is safe for concurrent use.
type CorrectionPipeline struct {
	phonetic     PhoneticMatcher
	llmCorrector *llmcorrect.Corrector
	llmThreshold float64
}

var _ Pipeline = (*CorrectionPipeline)(nil)

// NewPipeline constructs a [CorrectionPipeline] with the supplied options.
// By default both stages are disabled (nil); use [WithPhoneticMatcher] and
// [WithLLMCorrector] to activate them.
func NewPipeline(opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{
		llmThreshold: defaultLLMConfidenceThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct applies the configured correction stages to transcript and returns a
// [CorrectedTranscript].
//
// Pipeline flow:
//  1. The transcript text is tokenised into whitespace-separated word tokens.
//  2. When a [PhoneticMatcher] is configured, every single-word token is tested
//     against the vocabulary. Additionally, n-gram windows (up to the maximum
//     term word count) are tested to match multi-word terms.
//  3. When an [llmcorrect.Corrector] is configured and the transcript
//     confidence is below the threshold (or unreported), the LLM corrector is
//     invoked on the phonetic-corrected text.
//  4. Phonetic and LLM corrections are merged into the final
//     [CorrectedTranscript].
//
// Context cancellation is respected: if ctx is Done before the LLM stage
// completes, an error is returned.
func (p *CorrectionPipeline) Correct(
	ctx context.Context,
	t types.Transcript,
	terms []string,
) (*CorrectedTranscript, error) {
	result := &CorrectedTranscript{
		Original:    t,
		Corrections: []Correction{},
	}

	// --- Stage 1: phonetic matching ---
	workingText := t.Text
	var phoneticCorrections []Correction

	if p.phonetic != nil && len(terms) > 0 {
		workingText, phoneticCorrections = p.applyPhonetic(t.Text, terms)
	}

	// --- Stage 2: LLM correction ---
	var llmCorrections []Correction

	if p.llmCorrector != nil && len(terms) > 0 && p.needsLLMReview(t) {
		correctedText, rawCorrections, err := p.llmCorrector.Correct(ctx, workingText, terms)
		if err != nil {
			return nil, err
		}
		workingText = correctedText
		for _, rc := range rawCorrections {
			llmCorrections = append(llmCorrections, Correction{
				Original:   rc.Original,
				Corrected:  rc.Corrected,
				Confidence: rc.Confidence,
				Method:     "llm",
			})
		}
	}

	// --- Merge results ---
	result.Corrected = workingText
	result.Corrections = append(result.Corrections, phoneticCorrections...)
	result.Corrections = append(result.Corrections, llmCorrections...)

	return result, nil
}

// needsLLMReview reports whether the transcript's confidence warrants the LLM
// stage. A zero confidence means the STT provider reported none, in which
// case the LLM always reviews.
func (p *CorrectionPipeline) needsLLMReview(t types.Transcript) bool {
	return t.Confidence == 0 || t.Confidence < p.llmThreshold
}

// applyPhonetic runs the phonetic matching stage over the transcript text.
// It returns the corrected text and the list of corrections applied.
//
// The algorithm:
//  1. Tokenise the text into words.
//  2. Determine the maximum number of words in any vocabulary term.
//  3. At each token position, try n-gram windows from maxTermWords down to 1.
//     Accept the longest n-gram match so that multi-word terms take
//     precedence over partial single-word matches.
//  4. Append matched (or unmatched) tokens to the output and advance the
//     cursor by the number of tokens consumed.
func (p *CorrectionPipeline) applyPhonetic(text string, terms []string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	// When the matcher supports precomputation, prepare the vocabulary once
	// and use the fast path for all window comparisons.
	var matchFn func(string) (string, float64, bool)
	var maxTermWords int

	if pm, ok := p.phonetic.(*phonetic.Matcher); ok {
		ts := phonetic.PrepareTerms(terms)
		maxTermWords = ts.MaxWords()
		matchFn = func(word string) (string, float64, bool) {
			return pm.MatchPrepared(word, ts)
		}
	} else {
		maxTermWords = maxWordCount(terms)
		matchFn = func(word string) (string, float64, bool) {
			return p.phonetic.Match(word, terms)
		}
	}

	if maxTermWords == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		// Clamp window size to remaining tokens.
		maxN := maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := matchFn(window)
			if !ok {
				continue
			}

			// Emit the term tokens and record the correction.
			termTokens := strings.Fields(term)
			output = append(output, termTokens...)
			corrections = append(corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
				Method:     "phonetic",
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	return strings.Join(output, " "), corrections
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any term. Returns 1 when terms is empty.
func maxWordCount(terms []string) int {
	max := 1
	for _, t := range terms {
		n := len(strings.Fields(t))
		if n > max {
			max = n
		}
	}
	return max
}
