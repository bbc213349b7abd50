package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCreateConversation_DefaultTitle(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	c, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if c.Title != DefaultTitle {
		t.Errorf("title = %q, want %q", c.Title, DefaultTitle)
	}
	if c.ID == "" {
		t.Error("expected non-empty ID")
	}

	named, err := s.CreateConversation(ctx, "Weather chat")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if named.Title != "Weather chat" {
		t.Errorf("title = %q, want %q", named.Title, "Weather chat")
	}
}

func TestAppendMessage_AutoTitle(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	c, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	// An assistant message must not set the title.
	if _, err := s.AppendMessage(ctx, c.ID, "assistant", "How can I help?"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != DefaultTitle {
		t.Errorf("title after assistant message = %q, want %q", got.Title, DefaultTitle)
	}

	if _, err := s.AppendMessage(ctx, c.ID, "user", "What is the weather like?"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got, err = s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "What is the weather like?" {
		t.Errorf("title = %q, want first user message", got.Title)
	}

	// Later user messages must not change a title that was already set.
	if _, err := s.AppendMessage(ctx, c.ID, "user", "And tomorrow?"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got, err = s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "What is the weather like?" {
		t.Errorf("title changed to %q after second user message", got.Title)
	}
}

func TestAppendMessage_AutoTitleTruncated(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	c, err := s.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	long := strings.Repeat("a", 80)
	if _, err := s.AppendMessage(ctx, c.ID, "user", long); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	want := strings.Repeat("a", 50) + "..."
	if got.Title != want {
		t.Errorf("title = %q, want %q", got.Title, want)
	}
}

func TestAppendMessage_UnknownConversation(t *testing.T) {
	s := NewMemStore()
	if _, err := s.AppendMessage(context.Background(), "missing", "user", "hi"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListConversations_Order(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	now := time.Now()
	s.now = func() time.Time { now = now.Add(time.Second); return now }

	first, _ := s.CreateConversation(ctx, "first")
	second, _ := s.CreateConversation(ctx, "second")

	// Touching the older conversation moves it to the front.
	if _, err := s.AppendMessage(ctx, first.ID, "user", "hello again"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	infos, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d conversations, want 2", len(infos))
	}
	if infos[0].ID != first.ID {
		t.Errorf("infos[0].ID = %s, want most recently updated %s", infos[0].ID, first.ID)
	}
	if infos[1].ID != second.ID {
		t.Errorf("infos[1].ID = %s, want %s", infos[1].ID, second.ID)
	}
	if infos[0].MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", infos[0].MessageCount)
	}
	if infos[0].LastRole != "user" || infos[0].LastPreview != "hello again" {
		t.Errorf("last message = (%q, %q), want (user, hello again)", infos[0].LastRole, infos[0].LastPreview)
	}
}

func TestListConversations_PreviewTruncated(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	c, _ := s.CreateConversation(ctx, "long")
	long := strings.Repeat("b", 150)
	if _, err := s.AppendMessage(ctx, c.ID, "user", long); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	infos, err := s.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	want := strings.Repeat("b", 100) + "..."
	if infos[0].LastPreview != want {
		t.Errorf("LastPreview = %q, want %q", infos[0].LastPreview, want)
	}
}

func TestClearMessages_ResetsSummary(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	c, _ := s.CreateConversation(ctx, "chat")
	if _, err := s.AppendMessage(ctx, c.ID, "user", "hello"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.SetSummary(ctx, c.ID, "talked about greetings"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}

	if err := s.ClearMessages(ctx, c.ID); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}
	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got.Messages) != 0 {
		t.Errorf("got %d messages after clear, want 0", len(got.Messages))
	}
	if got.Summary != "" {
		t.Errorf("summary = %q after clear, want empty", got.Summary)
	}
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	c, _ := s.CreateConversation(ctx, "temp")
	if err := s.DeleteConversation(ctx, c.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.GetConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetConversation after delete = %v, want ErrNotFound", err)
	}
	if err := s.DeleteConversation(ctx, c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestGetConversation_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	c, _ := s.CreateConversation(ctx, "chat")
	if _, err := s.AppendMessage(ctx, c.ID, "user", "original"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, _ := s.GetConversation(ctx, c.ID)
	got.Messages[0].Content = "mutated"
	got.Title = "mutated"

	again, _ := s.GetConversation(ctx, c.ID)
	if again.Messages[0].Content != "original" {
		t.Error("mutating a returned conversation leaked into the store")
	}
}

func TestSearchMemories_Scoring(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	now := time.Now()
	s.now = func() time.Time { now = now.Add(time.Second); return now }

	if _, err := s.AddMemory(ctx, "likes rainy weather", "", []string{"preference"}); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := s.AddMemory(ctx, "weather reports should be brief", "", nil); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := s.AddMemory(ctx, "lives in Berlin", "", []string{"weather"}); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := s.AddMemory(ctx, "allergic to peanuts", "", nil); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	got, err := s.SearchMemories(ctx, "weather", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	// Content prefix match outscores plain content match; tag-only match last.
	if got[0].Content != "weather reports should be brief" {
		t.Errorf("got[0] = %q, want prefix match first", got[0].Content)
	}
	if got[1].Content != "likes rainy weather" {
		t.Errorf("got[1] = %q, want content match second", got[1].Content)
	}
	if got[2].Content != "lives in Berlin" {
		t.Errorf("got[2] = %q, want tag match last", got[2].Content)
	}
}

func TestSearchMemories_Limit(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	for _, content := range []string{"coffee black", "coffee with milk", "coffee at 9am"} {
		if _, err := s.AddMemory(ctx, content, "", nil); err != nil {
			t.Fatalf("AddMemory: %v", err)
		}
	}
	got, err := s.SearchMemories(ctx, "coffee", 2)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d results, want 2", len(got))
	}
}

func TestSearchMemories_BlankQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	now := time.Now()
	s.now = func() time.Time { now = now.Add(time.Second); return now }

	s.AddMemory(ctx, "older", "", nil)
	s.AddMemory(ctx, "newer", "", nil)

	got, err := s.SearchMemories(ctx, "   ", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Content != "newer" {
		t.Errorf("got[0] = %q, want newest first", got[0].Content)
	}
}

func TestDeleteMemory(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	m, err := s.AddMemory(ctx, "temporary note", "conv-1", nil)
	if err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if err := s.DeleteMemory(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if err := s.DeleteMemory(ctx, m.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}

	all, err := s.ListMemories(ctx)
	if err != nil {
		t.Fatalf("ListMemories: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("got %d memories after delete, want 0", len(all))
	}
}

func TestMemoryContext(t *testing.T) {
	if got := MemoryContext(nil, 20); got != "" {
		t.Errorf("MemoryContext(nil) = %q, want empty", got)
	}

	memories := []Memory{
		{Content: "likes coffee", Tags: []string{"preference", "food"}},
		{Content: "lives in Berlin"},
	}
	got := MemoryContext(memories, 20)
	want := "- likes coffee [preference, food]\n- lives in Berlin"
	if got != want {
		t.Errorf("MemoryContext = %q, want %q", got, want)
	}

	// The max cap drops trailing memories.
	got = MemoryContext(memories, 1)
	if got != "- likes coffee [preference, food]" {
		t.Errorf("MemoryContext capped = %q", got)
	}
}

func TestAutoTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"short", "hello", "hello"},
		{"exactly fifty", strings.Repeat("x", 50), strings.Repeat("x", 50)},
		{"truncated", strings.Repeat("x", 51), strings.Repeat("x", 50) + "..."},
		{"multibyte runes", strings.Repeat("ü", 60), strings.Repeat("ü", 50) + "..."},
		{"blank", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoTitle(tt.content); got != tt.want {
				t.Errorf("AutoTitle(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}
