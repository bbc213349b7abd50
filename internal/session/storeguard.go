package session

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/rg1989/local-ai-voice-chat/internal/storage"
)

// StoreGuard wraps a [storage.ConversationStore] and makes all operations
// non-fatal. If the underlying store fails, operations return defaults and
// log warnings instead of propagating errors.
//
// This keeps the voice loop responsive when the storage backend is
// temporarily unavailable (database restart, network partition): the
// conversation continues in memory and only persistence is lost. The
// IsDegraded method reports whether the store is currently failing.
//
// All methods are safe for concurrent use.
type StoreGuard struct {
	store    storage.ConversationStore
	degraded atomic.Bool
}

// NewStoreGuard creates a new [StoreGuard] wrapping the given store.
func NewStoreGuard(store storage.ConversationStore) *StoreGuard {
	return &StoreGuard{store: store}
}

func (sg *StoreGuard) observe(op string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err)
		// One warning per degradation episode; repeats drop to debug so a
		// long database outage does not flood the log.
		if sg.degraded.CompareAndSwap(false, true) {
			slog.Warn("store guard: "+op+" failed, continuing without persistence", args...)
		} else {
			slog.Debug("store guard: "+op+" failed while degraded", args...)
		}
		return
	}
	sg.degraded.Store(false)
}

// CreateConversation attempts to create a conversation. On failure the error
// is logged and swallowed; nil is returned and the session runs unpersisted.
func (sg *StoreGuard) CreateConversation(ctx context.Context, title string) *storage.Conversation {
	conv, err := sg.store.CreateConversation(ctx, title)
	sg.observe("CreateConversation", err)
	if err != nil {
		return nil
	}
	return conv
}

// AppendMessage attempts to persist a message. Failures are logged and
// swallowed.
func (sg *StoreGuard) AppendMessage(ctx context.Context, conversationID, role, content string) {
	if conversationID == "" {
		return
	}
	_, err := sg.store.AppendMessage(ctx, conversationID, role, content)
	sg.observe("AppendMessage", err, "conversation_id", conversationID, "role", role)
}

// SetSummary attempts to persist the compression summary. Failures are
// logged and swallowed.
func (sg *StoreGuard) SetSummary(ctx context.Context, conversationID, summary string) {
	if conversationID == "" {
		return
	}
	err := sg.store.SetSummary(ctx, conversationID, summary)
	sg.observe("SetSummary", err, "conversation_id", conversationID)
}

// ClearMessages attempts to clear a conversation's messages and summary.
// Failures are logged and swallowed.
func (sg *StoreGuard) ClearMessages(ctx context.Context, conversationID string) {
	if conversationID == "" {
		return
	}
	err := sg.store.ClearMessages(ctx, conversationID)
	sg.observe("ClearMessages", err, "conversation_id", conversationID)
}

// GetConversation attempts to load a conversation. On failure nil is
// returned; [storage.ErrNotFound] still propagates so callers can tell a
// missing conversation from a failing store.
func (sg *StoreGuard) GetConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	conv, err := sg.store.GetConversation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	sg.observe("GetConversation", err, "conversation_id", id)
	if err != nil {
		return nil, nil
	}
	return conv, nil
}

// IsDegraded reports whether the store is currently operating in degraded
// mode (i.e., the most recent operation on the underlying store failed).
func (sg *StoreGuard) IsDegraded() bool {
	return sg.degraded.Load()
}
