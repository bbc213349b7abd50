package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Compile-time assertions that MemStore satisfies both store interfaces.
var (
	_ ConversationStore = (*MemStore)(nil)
	_ MemoryStore       = (*MemStore)(nil)
)

// MemStore is a thread-safe, in-memory implementation of [ConversationStore]
// and [MemoryStore]. It is suitable for tests and for runs without a
// configured database; nothing survives a restart.
type MemStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	memories      []Memory

	now func() time.Time
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		conversations: make(map[string]*Conversation),
		now:           time.Now,
	}
}

// CreateConversation implements [ConversationStore.CreateConversation].
func (s *MemStore) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	id, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("storage: generate id: %w", err)
	}
	if title == "" {
		title = DefaultTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := &Conversation{
		ID:        id,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[id] = c
	return copyConversation(c), nil
}

// GetConversation implements [ConversationStore.GetConversation].
func (s *MemStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// ListConversations implements [ConversationStore.ListConversations].
func (s *MemStore) ListConversations(ctx context.Context) ([]ConversationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]ConversationInfo, 0, len(s.conversations))
	for _, c := range s.conversations {
		info := ConversationInfo{
			ID:           c.ID,
			Title:        c.Title,
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
			MessageCount: len(c.Messages),
		}
		if n := len(c.Messages); n > 0 {
			last := c.Messages[n-1]
			info.LastRole = last.Role
			info.LastPreview = Preview(last.Content)
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// DeleteConversation implements [ConversationStore.DeleteConversation].
func (s *MemStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	return nil
}

// AppendMessage implements [ConversationStore.AppendMessage].
func (s *MemStore) AppendMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	id, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("storage: generate id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	msg := Message{
		ID:        id,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt

	if c.Title == DefaultTitle && role == "user" {
		if title := AutoTitle(content); title != "" {
			c.Title = title
		}
	}

	return &msg, nil
}

// ClearMessages implements [ConversationStore.ClearMessages].
func (s *MemStore) ClearMessages(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.Messages = nil
	c.Summary = ""
	c.UpdatedAt = s.now()
	return nil
}

// SetSummary implements [ConversationStore.SetSummary].
func (s *MemStore) SetSummary(ctx context.Context, conversationID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.Summary = summary
	c.UpdatedAt = s.now()
	return nil
}

// AddMemory implements [MemoryStore.AddMemory].
func (s *MemStore) AddMemory(ctx context.Context, content, sourceConversationID string, tags []string) (*Memory, error) {
	id, err := NewID()
	if err != nil {
		return nil, fmt.Errorf("storage: generate id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m := Memory{
		ID:                   id,
		Content:              content,
		SourceConversationID: sourceConversationID,
		Tags:                 append([]string(nil), tags...),
		CreatedAt:            s.now(),
	}
	s.memories = append(s.memories, m)
	return &m, nil
}

// ListMemories implements [MemoryStore.ListMemories].
func (s *MemStore) ListMemories(ctx context.Context) ([]Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedMemoriesLocked(), nil
}

// SearchMemories implements [MemoryStore.SearchMemories]. Matching is a
// case-insensitive substring test on content and tags; content matches rank
// above tag-only matches, content-prefix matches above both.
func (s *MemStore) SearchMemories(ctx context.Context, query string, limit int) ([]Memory, error) {
	query = strings.ToLower(strings.TrimSpace(query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	if query == "" {
		out := s.sortedMemoriesLocked()
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return out, nil
	}

	type scored struct {
		m     Memory
		score int
	}
	var matches []scored
	for _, m := range s.memories {
		score := 0
		lowered := strings.ToLower(m.Content)
		if strings.Contains(lowered, query) {
			score += 10
			if strings.HasPrefix(lowered, query) {
				score += 5
			}
		}
		for _, tag := range m.Tags {
			if strings.Contains(strings.ToLower(tag), query) {
				score += 3
				break
			}
		}
		if score > 0 {
			matches = append(matches, scored{m: m, score: score})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].m.CreatedAt.After(matches[j].m.CreatedAt)
	})

	out := make([]Memory, 0, len(matches))
	for _, sc := range matches {
		out = append(out, sc.m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// DeleteMemory implements [MemoryStore.DeleteMemory].
func (s *MemStore) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.memories {
		if m.ID == id {
			s.memories = append(s.memories[:i], s.memories[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemStore) sortedMemoriesLocked() []Memory {
	out := make([]Memory, len(s.memories))
	copy(out, s.memories)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// copyConversation returns a deep copy so callers cannot mutate store state.
func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return &out
}
