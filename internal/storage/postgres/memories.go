package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/rg1989/local-ai-voice-chat/internal/storage"
)

// AddMemory stores a new persistent memory. When an embeddings provider is
// configured the content is embedded for semantic recall; an embedding
// failure is logged and the memory is stored without one rather than lost.
func (s *Store) AddMemory(ctx context.Context, content, sourceConversationID string, tags []string) (*storage.Memory, error) {
	if tags == nil {
		tags = []string{}
	}

	id, err := storage.NewID()
	if err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}
	var row pgx.Row
	if s.embedder != nil {
		// The embedding column only exists when an embedder is configured,
		// so the plain insert below must not reference it.
		var embedding *pgvector.Vector
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			slog.Warn("memory embedding failed, storing without vector",
				"error", err)
		} else {
			v := pgvector.NewVector(vec)
			embedding = &v
		}
		row = s.pool.QueryRow(ctx, `
			INSERT INTO memories (id, content, source_conversation_id, tags, embedding)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, content, source_conversation_id, tags, created_at`,
			id, content, sourceConversationID, tags, embedding)
	} else {
		row = s.pool.QueryRow(ctx, `
			INSERT INTO memories (id, content, source_conversation_id, tags)
			VALUES ($1, $2, $3, $4)
			RETURNING id, content, source_conversation_id, tags, created_at`,
			id, content, sourceConversationID, tags)
	}

	var m storage.Memory
	if err := row.Scan(&m.ID, &m.Content, &m.SourceConversationID, &m.Tags, &m.CreatedAt); err != nil {
		return nil, fmt.Errorf("add memory: %w", err)
	}
	return &m, nil
}

// ListMemories returns all memories, newest first.
func (s *Store) ListMemories(ctx context.Context) ([]storage.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, source_conversation_id, tags, created_at
		FROM memories
		ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	memories, err := collectMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("collect memories: %w", err)
	}
	return memories, nil
}

// SearchMemories returns up to limit memories relevant to query. With an
// embeddings provider the query is embedded and memories are ranked by
// cosine distance; otherwise, or when embedding the query fails, matching
// falls back to case-insensitive keyword search over content and tags.
// A blank query returns the newest memories.
func (s *Store) SearchMemories(ctx context.Context, query string, limit int) ([]storage.Memory, error) {
	if limit <= 0 {
		limit = 10
	}
	query = strings.TrimSpace(query)
	if query == "" {
		rows, err := s.pool.Query(ctx, `
			SELECT id, content, source_conversation_id, tags, created_at
			FROM memories
			ORDER BY created_at DESC, id
			LIMIT $1`,
			limit)
		if err != nil {
			return nil, fmt.Errorf("search memories: %w", err)
		}
		memories, err := collectMemories(rows)
		if err != nil {
			return nil, fmt.Errorf("collect memories: %w", err)
		}
		return memories, nil
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("query embedding failed, falling back to keyword search",
				"error", err)
		} else {
			return s.searchSemantic(ctx, pgvector.NewVector(vec), limit)
		}
	}
	return s.searchKeyword(ctx, query, limit)
}

func (s *Store) searchSemantic(ctx context.Context, vec pgvector.Vector, limit int) ([]storage.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, source_conversation_id, tags, created_at
		FROM memories
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vec, limit)
	if err != nil {
		return nil, fmt.Errorf("semantic memory search: %w", err)
	}
	memories, err := collectMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("collect memories: %w", err)
	}
	return memories, nil
}

func (s *Store) searchKeyword(ctx context.Context, query string, limit int) ([]storage.Memory, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, content, source_conversation_id, tags, created_at
		FROM memories
		WHERE content ILIKE '%' || $1 || '%'
		   OR EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE '%' || $1 || '%')
		ORDER BY created_at DESC, id
		LIMIT $2`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword memory search: %w", err)
	}
	memories, err := collectMemories(rows)
	if err != nil {
		return nil, fmt.Errorf("collect memories: %w", err)
	}
	return memories, nil
}

// DeleteMemory removes a memory by id. Returns [storage.ErrNotFound] when no
// memory has the id.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func collectMemories(rows pgx.Rows) ([]storage.Memory, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Memory, error) {
		var m storage.Memory
		err := row.Scan(&m.ID, &m.Content, &m.SourceConversationID, &m.Tags, &m.CreatedAt)
		return m, err
	})
}
