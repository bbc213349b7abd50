// Package storage defines persistence for conversations and user memories.
//
// A [ConversationStore] holds chat transcripts: role-tagged messages, the
// auto-generated title, and the running compression summary so a reloaded
// conversation resumes with its compacted context instead of the full history.
// A [MemoryStore] holds facts the user asked the assistant to remember; they
// persist across all conversations and are injected into the system prompt.
//
// Two implementations exist: [MemStore] keeps everything in process memory
// (tests and storage-less runs), and the postgres subpackage persists to
// PostgreSQL with pgvector-backed similarity recall for memories.
package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a conversation, message, or memory with the
// requested ID does not exist.
var ErrNotFound = errors.New("storage: not found")

// DefaultTitle is the placeholder title a conversation carries until its
// first user message arrives.
const DefaultTitle = "New Conversation"

// titleMaxLen caps auto-generated conversation titles, in characters.
const titleMaxLen = 50

// Message is one stored chat message.
type Message struct {
	ID        string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}

// Conversation is a stored chat with its messages.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Summary is the compression summary produced by the context tracker.
	// Empty until the conversation has been compressed at least once.
	Summary string

	Messages []Message
}

// ConversationInfo is a listing entry without the message bodies.
type ConversationInfo struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	MessageCount int

	// LastRole and LastPreview describe the most recent message, when any.
	// LastPreview is truncated to 100 characters.
	LastRole    string
	LastPreview string
}

// Memory is one persistent user memory.
type Memory struct {
	ID      string
	Content string

	// SourceConversationID records which chat the memory came from, when known.
	SourceConversationID string

	Tags      []string
	CreatedAt time.Time
}

// ConversationStore persists conversations and their messages.
//
// Implementations must be safe for concurrent use.
type ConversationStore interface {
	// CreateConversation creates an empty conversation. An empty title gets
	// [DefaultTitle], which the first user message later replaces.
	CreateConversation(ctx context.Context, title string) (*Conversation, error)

	// GetConversation returns the conversation with all its messages.
	// Returns [ErrNotFound] when the ID is unknown.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns all conversations newest-updated first,
	// without message bodies.
	ListConversations(ctx context.Context) ([]ConversationInfo, error)

	// DeleteConversation removes the conversation and its messages.
	// Returns [ErrNotFound] when the ID is unknown.
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage adds a role-tagged message and bumps the conversation's
	// UpdatedAt. The first non-blank user message of a conversation still
	// titled [DefaultTitle] sets the title to its first 50 characters (plus
	// an ellipsis when truncated).
	AppendMessage(ctx context.Context, conversationID, role, content string) (*Message, error)

	// ClearMessages removes every message and the summary but keeps the
	// conversation itself.
	ClearMessages(ctx context.Context, conversationID string) error

	// SetSummary persists the compression summary for the conversation.
	SetSummary(ctx context.Context, conversationID, summary string) error
}

// MemoryStore persists user memories shared across conversations.
//
// Implementations must be safe for concurrent use.
type MemoryStore interface {
	// AddMemory stores a new memory. sourceConversationID may be empty.
	AddMemory(ctx context.Context, content, sourceConversationID string, tags []string) (*Memory, error)

	// ListMemories returns all memories, newest first.
	ListMemories(ctx context.Context) ([]Memory, error)

	// SearchMemories returns up to limit memories relevant to query, most
	// relevant first. A blank query returns the newest memories.
	SearchMemories(ctx context.Context, query string, limit int) ([]Memory, error)

	// DeleteMemory removes a memory. Returns [ErrNotFound] when the ID is
	// unknown.
	DeleteMemory(ctx context.Context, id string) error
}

// MemoryContext formats memories for inclusion in an LLM system prompt, at
// most max entries, one bullet per memory with its tags in brackets. Returns
// "" when memories is empty.
func MemoryContext(memories []Memory, max int) string {
	if len(memories) == 0 {
		return ""
	}
	if max > 0 && len(memories) > max {
		memories = memories[:max]
	}
	var sb strings.Builder
	for i, m := range memories {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(m.Content)
		if len(m.Tags) > 0 {
			sb.WriteString(" [")
			sb.WriteString(strings.Join(m.Tags, ", "))
			sb.WriteString("]")
		}
	}
	return sb.String()
}

// AutoTitle derives a conversation title from the first user message: the
// trimmed content capped at 50 characters with an ellipsis when truncated.
// Returns "" for blank content.
func AutoTitle(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ""
	}
	runes := []rune(trimmed)
	if len(runes) <= titleMaxLen {
		return trimmed
	}
	return string(runes[:titleMaxLen]) + "..."
}

// Preview truncates content to 100 characters for listing entries.
func Preview(content string) string {
	const max = 100
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "..."
}

// NewID produces a random 16-byte hex string using crypto/rand.
func NewID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
