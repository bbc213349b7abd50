package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rg1989/local-ai-voice-chat/internal/storage"
)

// CreateConversation inserts a new conversation. An empty title becomes
// [storage.DefaultTitle].
func (s *Store) CreateConversation(ctx context.Context, title string) (*storage.Conversation, error) {
	if strings.TrimSpace(title) == "" {
		title = storage.DefaultTitle
	}

	id, err := storage.NewID()
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (id, title)
		VALUES ($1, $2)
		RETURNING id, title, summary, created_at, updated_at`,
		id, title)

	var c storage.Conversation
	if err := row.Scan(&c.ID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &c, nil
}

// GetConversation loads a conversation with its messages in chronological
// order. Returns [storage.ErrNotFound] when no conversation has the id.
func (s *Store) GetConversation(ctx context.Context, id string) (*storage.Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, summary, created_at, updated_at
		FROM conversations
		WHERE id = $1`,
		id)

	var c storage.Conversation
	if err := row.Scan(&c.ID, &c.Title, &c.Summary, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get conversation messages: %w", err)
	}

	c.Messages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Message, error) {
		var m storage.Message
		err := row.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect conversation messages: %w", err)
	}
	return &c, nil
}

// ListConversations returns summaries of all conversations, most recently
// updated first, each with its message count and a preview of the last
// message.
func (s *Store) ListConversations(ctx context.Context) ([]storage.ConversationInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title, c.created_at, c.updated_at,
		       count(m.id) AS message_count,
		       coalesce((SELECT role FROM conversation_messages
		                 WHERE conversation_id = c.id
		                 ORDER BY created_at DESC, id DESC LIMIT 1), '') AS last_role,
		       coalesce((SELECT content FROM conversation_messages
		                 WHERE conversation_id = c.id
		                 ORDER BY created_at DESC, id DESC LIMIT 1), '') AS last_content
		FROM conversations c
		LEFT JOIN conversation_messages m ON m.conversation_id = c.id
		GROUP BY c.id
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	infos, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.ConversationInfo, error) {
		var (
			info        storage.ConversationInfo
			lastContent string
		)
		err := row.Scan(&info.ID, &info.Title, &info.CreatedAt, &info.UpdatedAt,
			&info.MessageCount, &info.LastRole, &lastContent)
		info.LastPreview = storage.Preview(lastContent)
		return info, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect conversations: %w", err)
	}
	return infos, nil
}

// DeleteConversation removes a conversation and, via cascade, its messages.
// Returns [storage.ErrNotFound] when no conversation has the id.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AppendMessage adds a message to a conversation and bumps its updated_at.
// The first user message of a conversation still carrying the default title
// also sets the title from the message content. Runs in a single transaction
// so concurrent appends cannot double-title.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (*storage.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("append message: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var title string
	err = tx.QueryRow(ctx, `SELECT title FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID).Scan(&title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("append message: lock conversation: %w", err)
	}

	id, err := storage.NewID()
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, role, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, role, content, created_at`,
		id, conversationID, role, content)

	var m storage.Message
	if err := row.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("append message: insert: %w", err)
	}

	if auto := storage.AutoTitle(content); auto != "" && title == storage.DefaultTitle && role == "user" {
		_, err = tx.Exec(ctx, `UPDATE conversations SET title = $2, updated_at = now() WHERE id = $1`,
			conversationID, auto)
	} else {
		_, err = tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`,
			conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("append message: touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("append message: commit: %w", err)
	}
	return &m, nil
}

// ClearMessages deletes all messages of a conversation and resets its
// compression summary. Returns [storage.ErrNotFound] for an unknown id.
func (s *Store) ClearMessages(ctx context.Context, conversationID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("clear messages: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE conversations SET summary = '', updated_at = now() WHERE id = $1`,
		conversationID)
	if err != nil {
		return fmt.Errorf("clear messages: reset summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_messages WHERE conversation_id = $1`,
		conversationID); err != nil {
		return fmt.Errorf("clear messages: delete: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("clear messages: commit: %w", err)
	}
	return nil
}

// SetSummary stores the compression summary for a conversation.
func (s *Store) SetSummary(ctx context.Context, conversationID, summary string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations SET summary = $2, updated_at = now() WHERE id = $1`,
		conversationID, summary)
	if err != nil {
		return fmt.Errorf("set summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
