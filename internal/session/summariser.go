// Package session manages the lifecycle of a voice conversation.
//
// It includes the per-session turn pipeline ([Session]), context window
// management ([ContextManager]), conversation summarisation ([Summariser],
// [LLMSummariser], [TopicSummariser]), and shared provider wiring
// ([Manager]).
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/rg1989/local-ai-voice-chat/internal/resilience"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/llm"
	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

// summariserSystemPrompt frames the summarisation request.
const summariserSystemPrompt = "You are a helpful assistant that summarizes conversations concisely."

// summarisationPromptTemplate is the user prompt sent to the LLM when
// summarising conversation segments. The %s placeholder receives the
// formatted transcript.
const summarisationPromptTemplate = `Summarize this conversation excerpt concisely. Capture:
- Key topics discussed
- Important facts, names, or numbers mentioned
- Any decisions or conclusions reached
- Context needed to continue the conversation naturally

Keep the summary brief (2-4 sentences) but informative.

Conversation:
%s

Summary:`

const (
	summaryTemperature = 0.3
	summaryMaxTokens   = 256
)

// Summariser produces a concise summary of a conversation segment.
type Summariser interface {
	// Summarise takes a slice of messages and returns a condensed summary
	// string. An empty summary with a nil error means there was nothing
	// worth summarising.
	Summarise(ctx context.Context, messages []types.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm llm.Provider
}

var _ Summariser = (*LLMSummariser)(nil)

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise sends the messages to the LLM with a focused summarisation
// prompt and returns the summary text.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", strings.ToUpper(m.Role), m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summariserSystemPrompt,
		Messages: []types.Message{
			{
				Role:    "user",
				Content: fmt.Sprintf(summarisationPromptTemplate, strings.TrimRight(sb.String(), "\n")),
			},
		},
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}

// TopicSummariser is a degraded-mode fallback that lists conversation topics
// without calling an LLM. It extracts the leading clause of the first few
// user messages.
type TopicSummariser struct{}

var _ Summariser = (*TopicSummariser)(nil)

// Summarise returns "Previous topics discussed: ..." built from the first
// five user messages, or "" if there are none. It never fails.
func (TopicSummariser) Summarise(_ context.Context, messages []types.Message) (string, error) {
	var topics []string
	seen := 0
	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		seen++
		if seen > 5 {
			break
		}
		topic, _, _ := strings.Cut(m.Content, ".")
		if len(topic) > 50 {
			topic = topic[:50]
		}
		topic = strings.TrimSpace(topic)
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	if len(topics) == 0 {
		return "", nil
	}
	return fmt.Sprintf("Previous topics discussed: %s.", strings.Join(topics, "; ")), nil
}

// fallbackSummariser adapts a [resilience.FallbackGroup] of Summarisers to
// the Summariser interface.
type fallbackSummariser struct {
	group *resilience.FallbackGroup[Summariser]
}

// NewFallbackSummariser builds a Summariser that tries the LLM first and
// degrades to [TopicSummariser] when the LLM is failing or its circuit
// breaker is open.
func NewFallbackSummariser(provider llm.Provider, cfg resilience.FallbackConfig) Summariser {
	group := resilience.NewFallbackGroup[Summariser](NewLLMSummariser(provider), "llm", cfg)
	group.AddFallback("topics", TopicSummariser{})
	return &fallbackSummariser{group: group}
}

func (f *fallbackSummariser) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	return resilience.ExecuteWithResult(f.group, func(s Summariser) (string, error) {
		return s.Summarise(ctx, messages)
	})
}
