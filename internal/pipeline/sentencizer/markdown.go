package sentencizer

import (
	"regexp"
	"strings"
)

// MarkdownFilter strips markdown from sentence chunks so synthesized speech
// sounds natural. It is stateful: fenced code blocks and mermaid diagrams can
// span many chunks, and the filter suppresses their content while announcing
// them once. One instance belongs to one response stream.
type MarkdownFilter struct {
	inCodeBlock bool
	inMermaid   bool
	announced   bool

	// pendingBackticks buffers a partial fence split across chunks.
	pendingBackticks string
}

var (
	codeFenceRe = regexp.MustCompile("```(\\w*)")

	imageRe         = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	linkRe          = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	inlineCodeRe    = regexp.MustCompile("`([^`]+)`")
	boldStarRe      = regexp.MustCompile(`\*\*([^*]+)\*\*`)
	boldUnderRe     = regexp.MustCompile(`__([^_]+)__`)
	italicStarRe    = regexp.MustCompile(`\*([^*]+)\*`)
	italicUnderRe   = regexp.MustCompile(`(^|\s)_([^_]+)_($|\s|[.,!?;:])`)
	strikethroughRe = regexp.MustCompile(`~~([^~]+)~~`)
	headingRe       = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletRe        = regexp.MustCompile(`(?m)^[-*+]\s+`)
	numberedRe      = regexp.MustCompile(`(?m)^\d+\.\s+`)
	blockquoteRe    = regexp.MustCompile(`(?m)^>\s*`)
	horizontalRe    = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
)

// NewMarkdownFilter creates a filter in its initial state.
func NewMarkdownFilter() *MarkdownFilter {
	return &MarkdownFilter{}
}

// Reset clears block state for a new response.
func (f *MarkdownFilter) Reset() {
	f.inCodeBlock = false
	f.inMermaid = false
	f.announced = false
	f.pendingBackticks = ""
}

// Filter processes one chunk and returns the text to speak. The second
// return is false when the chunk should be skipped entirely, e.g. code block
// content.
func (f *MarkdownFilter) Filter(text string) (string, bool) {
	if text == "" {
		return "", false
	}

	if f.pendingBackticks != "" {
		text = f.pendingBackticks + text
		f.pendingBackticks = ""
	}

	text, ok := f.handleCodeBlocks(text)
	if !ok {
		return "", false
	}

	text = filterInline(text)
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

// handleCodeBlocks tracks fence boundaries across chunks, drops fenced
// content, and produces the one-time announcement when a block opens.
func (f *MarkdownFilter) handleCodeBlocks(text string) (string, bool) {
	wasInCodeBlock := f.inCodeBlock

	// One or two trailing backticks may be the start of a fence split by
	// the chunk boundary; hold them for the next chunk.
	if strings.HasSuffix(text, "`") && !strings.HasSuffix(text, "```") {
		trailing := len(text) - len(strings.TrimRight(text, "`"))
		if trailing < 3 {
			f.pendingBackticks = text[len(text)-trailing:]
			text = text[:len(text)-trailing]
		}
	}

	matches := codeFenceRe.FindAllStringSubmatchIndex(text, -1)

	var parts []string
	var announcement string
	lastEnd := 0

	for _, m := range matches {
		fenceStart, fenceEnd := m[0], m[1]
		language := strings.ToLower(text[m[2]:m[3]])

		if !f.inCodeBlock {
			if !wasInCodeBlock {
				if before := strings.TrimSpace(text[lastEnd:fenceStart]); before != "" {
					parts = append(parts, before)
				}
			}
			f.inCodeBlock = true
			f.inMermaid = language == "mermaid"
			if !f.announced {
				if f.inMermaid {
					announcement = "Here's a diagram."
				} else {
					announcement = "Here's a code snippet."
				}
				f.announced = true
			}
		} else {
			f.inCodeBlock = false
			f.inMermaid = false
			f.announced = false
		}
		lastEnd = fenceEnd
	}

	if lastEnd < len(text) && !f.inCodeBlock {
		if remaining := strings.TrimSpace(text[lastEnd:]); remaining != "" {
			parts = append(parts, remaining)
		}
	}

	if wasInCodeBlock && len(matches) == 0 {
		return "", false
	}
	if wasInCodeBlock && len(matches) > 0 && len(parts) == 0 && announcement == "" {
		return "", false
	}
	if announcement != "" && len(parts) == 0 {
		return announcement, true
	}
	if len(parts) > 0 {
		joined := strings.Join(parts, " ")
		if announcement != "" {
			return announcement + " " + joined, true
		}
		return joined, true
	}
	if f.inCodeBlock {
		return "", false
	}
	return text, true
}

func filterInline(text string) string {
	text = imageRe.ReplaceAllString(text, "Here is an image: $1.")
	text = linkRe.ReplaceAllString(text, "$1")
	text = inlineCodeRe.ReplaceAllString(text, "$1")
	text = boldStarRe.ReplaceAllString(text, "$1")
	text = boldUnderRe.ReplaceAllString(text, "$1")
	text = italicStarRe.ReplaceAllString(text, "$1")
	text = italicUnderRe.ReplaceAllString(text, "$1$2$3")
	text = strikethroughRe.ReplaceAllString(text, "$1")
	text = headingRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "")
	text = numberedRe.ReplaceAllString(text, "")
	text = blockquoteRe.ReplaceAllString(text, "")
	text = horizontalRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
