package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/rg1989/local-ai-voice-chat/internal/storage"
)

// flakyStore fails every operation while broken is set.
type flakyStore struct {
	storage.ConversationStore
	broken bool
}

var errStoreDown = errors.New("connection refused")

func (f *flakyStore) CreateConversation(ctx context.Context, title string) (*storage.Conversation, error) {
	if f.broken {
		return nil, errStoreDown
	}
	return f.ConversationStore.CreateConversation(ctx, title)
}

func (f *flakyStore) AppendMessage(ctx context.Context, conversationID, role, content string) (*storage.Message, error) {
	if f.broken {
		return nil, errStoreDown
	}
	return f.ConversationStore.AppendMessage(ctx, conversationID, role, content)
}

func (f *flakyStore) SetSummary(ctx context.Context, conversationID, summary string) error {
	if f.broken {
		return errStoreDown
	}
	return f.ConversationStore.SetSummary(ctx, conversationID, summary)
}

func (f *flakyStore) GetConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	if f.broken {
		return nil, errStoreDown
	}
	return f.ConversationStore.GetConversation(ctx, id)
}

func TestStoreGuard_SwallowsFailures(t *testing.T) {
	store := &flakyStore{ConversationStore: storage.NewMemStore(), broken: true}
	guard := NewStoreGuard(store)
	ctx := context.Background()

	if conv := guard.CreateConversation(ctx, ""); conv != nil {
		t.Errorf("CreateConversation = %+v, want nil on failure", conv)
	}
	guard.AppendMessage(ctx, "c1", "user", "hello")
	guard.SetSummary(ctx, "c1", "summary")
	guard.ClearMessages(ctx, "c1")

	if !guard.IsDegraded() {
		t.Error("guard should report degraded after failures")
	}
}

func TestStoreGuard_RecoversAfterSuccess(t *testing.T) {
	store := &flakyStore{ConversationStore: storage.NewMemStore(), broken: true}
	guard := NewStoreGuard(store)
	ctx := context.Background()

	guard.AppendMessage(ctx, "c1", "user", "lost message")
	if !guard.IsDegraded() {
		t.Fatal("guard should be degraded while the store fails")
	}

	store.broken = false
	conv := guard.CreateConversation(ctx, "")
	if conv == nil {
		t.Fatal("CreateConversation failed against a healthy store")
	}
	if guard.IsDegraded() {
		t.Error("guard should clear the degraded flag after a success")
	}

	guard.AppendMessage(ctx, conv.ID, "user", "persisted message")
	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "persisted message" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

// warnCounter counts warning-and-above log records.
type warnCounter struct {
	mu    sync.Mutex
	count int
}

func (h *warnCounter) Enabled(_ context.Context, l slog.Level) bool { return l >= slog.LevelWarn }
func (h *warnCounter) WithAttrs([]slog.Attr) slog.Handler           { return h }
func (h *warnCounter) WithGroup(string) slog.Handler                { return h }

func (h *warnCounter) Handle(_ context.Context, _ slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	return nil
}

func (h *warnCounter) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func TestStoreGuard_WarnsOncePerDegradation(t *testing.T) {
	counter := &warnCounter{}
	prev := slog.Default()
	slog.SetDefault(slog.New(counter))
	t.Cleanup(func() { slog.SetDefault(prev) })

	store := &flakyStore{ConversationStore: storage.NewMemStore(), broken: false}
	guard := NewStoreGuard(store)
	ctx := context.Background()

	conv := guard.CreateConversation(ctx, "")
	if conv == nil {
		t.Fatal("CreateConversation failed against a healthy store")
	}

	store.broken = true
	for i := 0; i < 4; i++ {
		guard.AppendMessage(ctx, conv.ID, "user", "hello")
	}
	if got := counter.total(); got != 1 {
		t.Fatalf("warned %d times during one outage, want 1", got)
	}

	// Recovery re-arms the warning for the next outage.
	store.broken = false
	guard.AppendMessage(ctx, conv.ID, "user", "hello")
	store.broken = true
	guard.AppendMessage(ctx, conv.ID, "user", "hello")
	if got := counter.total(); got != 2 {
		t.Errorf("warned %d times across two outages, want 2", got)
	}
}

func TestStoreGuard_BlankConversationIDIsNoop(t *testing.T) {
	mem := storage.NewMemStore()
	guard := NewStoreGuard(mem)
	ctx := context.Background()

	guard.AppendMessage(ctx, "", "user", "never stored")
	guard.SetSummary(ctx, "", "never stored")
	guard.ClearMessages(ctx, "")

	if guard.IsDegraded() {
		t.Error("no-ops must not mark the guard degraded")
	}
	convs, err := mem.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(convs) != 0 {
		t.Errorf("conversations = %d, want 0", len(convs))
	}
}

func TestStoreGuard_GetConversationNotFoundPropagates(t *testing.T) {
	guard := NewStoreGuard(storage.NewMemStore())

	_, err := guard.GetConversation(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if guard.IsDegraded() {
		t.Error("a missing conversation is not a store failure")
	}
}

func TestStoreGuard_GetConversationFailureReturnsNilNil(t *testing.T) {
	store := &flakyStore{ConversationStore: storage.NewMemStore(), broken: true}
	guard := NewStoreGuard(store)

	conv, err := guard.GetConversation(context.Background(), "c1")
	if conv != nil || err != nil {
		t.Fatalf("got (%+v, %v), want (nil, nil) on store failure", conv, err)
	}
	if !guard.IsDegraded() {
		t.Error("guard should be degraded after a failed load")
	}
}
