package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

// charsPerToken is the heuristic ratio used for token estimation.
// English text averages roughly 4 characters per token across common
// LLM tokenizers. This avoids pulling in a tokenizer dependency.
const charsPerToken = 4

const (
	// responseBuffer is the number of tokens reserved for the system prompt
	// and response generation when computing available context.
	responseBuffer = 512

	// messageOverheadTokens accounts for role markers per message.
	messageOverheadTokens = 4

	// summaryOverheadTokens accounts for the summary wrapper text.
	summaryOverheadTokens = 10

	// maxCombinedSummaryLen is the character length above which a merged
	// summary gets re-summarised.
	maxCombinedSummaryLen = 1000
)

// summaryPrefix wraps the compressed summary when it is injected into the
// conversation as a system message.
const summaryPrefix = "[Previous conversation summary]: "

// MemoryUsage reports context-window consumption for a conversation.
type MemoryUsage struct {
	// UsedTokens is the token count of the last prompt, either reported by
	// the backend or estimated from the history.
	UsedTokens int

	// MaxTokens is the usable context window after reserving the response
	// buffer.
	MaxTokens int

	// Percentage is UsedTokens as a share of MaxTokens, capped at 100.
	Percentage int

	// NearLimit is true when Percentage exceeds 80.
	NearLimit bool

	// Compressed is true when earlier history has been folded into a summary.
	Compressed bool
}

// ContextManagerConfig configures a [ContextManager].
type ContextManagerConfig struct {
	// ContextWindow is the model's context window size in tokens.
	ContextWindow int

	// MaxMessages caps the retained history length. Older messages are
	// dropped on append. Defaults to 20 if zero or negative.
	MaxMessages int

	// CompressThresholdPercent triggers compression when usage exceeds this
	// percentage of the available window. Defaults to 70.
	CompressThresholdPercent int

	// KeepRecent is the number of recent messages kept verbatim during
	// compression. Defaults to 8 (roughly four exchanges).
	KeepRecent int

	// Summariser compresses older messages. Must not be nil if
	// CompressIfNeeded is used.
	Summariser Summariser
}

// ContextManager tracks token usage in a conversation and folds older
// messages into a running summary when the context window fills up.
//
// It maintains an ordered list of [types.Message] values plus a single
// accumulated summary string. When the estimated prompt size exceeds the
// compression threshold, messages older than the KeepRecent window are
// summarised and replaced by the summary, which [ContextManager.Messages]
// prepends as a system message. Token counts come from the backend's usage
// report when available and fall back to the chars/4 heuristic otherwise.
//
// All methods are safe for concurrent use.
type ContextManager struct {
	contextWindow    int
	maxMessages      int
	thresholdPercent int
	keepRecent       int
	summariser       Summariser

	mu               sync.Mutex
	systemPrompt     string
	messages         []types.Message
	summary          string
	lastPromptTokens int
}

// NewContextManager creates a new [ContextManager] with the given
// configuration. Zero-value config fields are replaced with defaults.
func NewContextManager(cfg ContextManagerConfig) *ContextManager {
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 2048
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.CompressThresholdPercent <= 0 {
		cfg.CompressThresholdPercent = 70
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 8
	}
	return &ContextManager{
		contextWindow:    cfg.ContextWindow,
		maxMessages:      cfg.MaxMessages,
		thresholdPercent: cfg.CompressThresholdPercent,
		keepRecent:       cfg.KeepRecent,
		summariser:       cfg.Summariser,
		messages:         make([]types.Message, 0),
	}
}

// SetSystemPrompt replaces the system prompt used for token estimation.
// The prompt itself travels in the completion request, not in Messages.
func (cm *ContextManager) SetSystemPrompt(prompt string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.systemPrompt = prompt
}

// SystemPrompt returns the current system prompt.
func (cm *ContextManager) SystemPrompt() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.systemPrompt
}

// SetContextWindow updates the model context window, e.g. after the backend
// reports the actual value for the loaded model.
func (cm *ContextManager) SetContextWindow(tokens int) {
	if tokens <= 0 {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.contextWindow = tokens
}

// AddUserMessage appends a user message and trims history to MaxMessages.
func (cm *ContextManager) AddUserMessage(content string) {
	cm.addMessage(types.Message{Role: "user", Content: content})
}

// AddAssistantMessage appends an assistant message and trims history to
// MaxMessages.
func (cm *ContextManager) AddAssistantMessage(content string) {
	cm.addMessage(types.Message{Role: "assistant", Content: content})
}

func (cm *ContextManager) addMessage(m types.Message) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = append(cm.messages, m)
	if len(cm.messages) > cm.maxMessages {
		cm.messages = cm.messages[len(cm.messages)-cm.maxMessages:]
	}
}

// Messages returns the conversation history ready to pass to the LLM.
// If a summary exists it is prepended as a system message.
func (cm *ContextManager) Messages() []types.Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	result := make([]types.Message, 0, len(cm.messages)+1)
	if cm.summary != "" {
		result = append(result, types.Message{
			Role:    "system",
			Content: summaryPrefix + cm.summary,
		})
	}
	result = append(result, cm.messages...)
	return result
}

// Summary returns the accumulated summary, or "" if history has not been
// compressed.
func (cm *ContextManager) Summary() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.summary
}

// Restore replaces history and summary, e.g. when resuming a persisted
// conversation, and refreshes the token estimate.
func (cm *ContextManager) Restore(messages []types.Message, summary string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = append(cm.messages[:0], messages...)
	cm.summary = summary
	cm.lastPromptTokens = cm.estimateHistoryTokens()
}

// Clear drops all messages, the summary, and the token estimate.
func (cm *ContextManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = cm.messages[:0]
	cm.summary = ""
	cm.lastPromptTokens = 0
}

// RecordPromptTokens stores the prompt token count reported by the backend.
// Non-positive values are ignored.
func (cm *ContextManager) RecordPromptTokens(tokens int) {
	if tokens <= 0 {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastPromptTokens = tokens
}

// SyncEstimate recomputes the token estimate from the current history.
// Call it after restoring history or when the backend reports no usage.
func (cm *ContextManager) SyncEstimate() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.lastPromptTokens = cm.estimateHistoryTokens()
}

// Usage returns current memory usage stats.
func (cm *ContextManager) Usage() MemoryUsage {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.usageLocked()
}

func (cm *ContextManager) usageLocked() MemoryUsage {
	available := cm.contextWindow - responseBuffer
	if available < 1 {
		available = 1
	}
	percentage := cm.lastPromptTokens * 100 / available
	if percentage > 100 {
		percentage = 100
	}
	return MemoryUsage{
		UsedTokens: cm.lastPromptTokens,
		MaxTokens:  available,
		Percentage: percentage,
		NearLimit:  percentage > 80,
		Compressed: cm.summary != "",
	}
}

// CompressIfNeeded checks context usage and compresses older history when it
// exceeds the configured threshold. Messages outside the KeepRecent window
// are summarised and merged into the running summary; an oversized merged
// summary is re-summarised. Returns true if compression was performed.
func (cm *ContextManager) CompressIfNeeded(ctx context.Context) (bool, error) {
	cm.mu.Lock()

	usage := cm.usageLocked()
	if usage.Percentage < cm.thresholdPercent {
		cm.mu.Unlock()
		return false, nil
	}
	if len(cm.messages) <= cm.keepRecent {
		cm.mu.Unlock()
		slog.Debug("context above threshold but not enough messages to compress",
			"percentage", usage.Percentage, "messages", len(cm.messages))
		return false, nil
	}
	if cm.summariser == nil {
		cm.mu.Unlock()
		return false, fmt.Errorf("context manager: no summariser configured")
	}

	split := len(cm.messages) - cm.keepRecent
	older := make([]types.Message, split)
	copy(older, cm.messages[:split])
	existing := cm.summary

	slog.Info("compressing conversation context",
		"percentage", usage.Percentage,
		"summarising", len(older), "keeping", cm.keepRecent)

	// Release the lock for the (potentially slow) LLM calls.
	cm.mu.Unlock()

	newSummary, err := cm.summariser.Summarise(ctx, older)
	if err != nil {
		return false, fmt.Errorf("context manager: summarise: %w", err)
	}
	if newSummary == "" {
		slog.Warn("summariser produced empty summary, skipping compression")
		return false, nil
	}

	combined := newSummary
	if existing != "" {
		combined = existing + "\n\nLater: " + newSummary
		if len(combined) > maxCombinedSummaryLen {
			resummarised, err := cm.summariser.Summarise(ctx, []types.Message{
				{Role: "assistant", Content: combined},
			})
			if err == nil && resummarised != "" {
				combined = resummarised
			} else if err != nil {
				slog.Warn("re-summarising merged summary failed, keeping long form", "error", err)
			}
		}
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// History may have grown while unlocked; drop exactly the messages that
	// were summarised.
	if split <= len(cm.messages) {
		cm.messages = append(cm.messages[:0], cm.messages[split:]...)
	}
	cm.summary = combined
	cm.lastPromptTokens = cm.estimateHistoryTokens()

	slog.Info("context compression complete",
		"percentage", cm.usageLocked().Percentage)
	return true, nil
}

// estimateHistoryTokens estimates the full prompt size including system
// prompt and summary. Must be called with cm.mu held.
func (cm *ContextManager) estimateHistoryTokens() int {
	total := estimateTextTokens(cm.systemPrompt)
	if cm.summary != "" {
		total += estimateTextTokens(cm.summary) + summaryOverheadTokens
	}
	for _, m := range cm.messages {
		total += estimateTextTokens(m.Content) + messageOverheadTokens
	}
	return total
}

// estimateTextTokens returns a rough token count for text using the
// 1-token-per-4-characters heuristic.
func estimateTextTokens(text string) int {
	return len(text)/charsPerToken + 1
}
