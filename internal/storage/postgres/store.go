// Package postgres provides the PostgreSQL-backed implementation of the
// storage interfaces: conversations with their messages and compression
// summaries, and persistent user memories with pgvector similarity recall.
//
// All operations share a single [pgxpool.Pool]. When an embeddings provider
// is configured, [Migrate] installs the pgvector extension and memories gain
// an embedding column with an HNSW cosine index; without one the memories
// table is plain and recall falls back to ILIKE keyword matching.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, embedder)
//	if err != nil { … }
//	defer store.Close()
//
//	conv, _ := store.CreateConversation(ctx, "")
//	_, _ = store.AppendMessage(ctx, conv.ID, "user", "hello")
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/rg1989/local-ai-voice-chat/internal/storage"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/embeddings"
)

// Compile-time interface checks.
var (
	_ storage.ConversationStore = (*Store)(nil)
	_ storage.MemoryStore       = (*Store)(nil)
)

// Store is the PostgreSQL-backed conversation and memory store.
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder embeddings.Provider
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure all required tables exist.
//
// embedder may be nil; memories are then stored without embeddings and
// [Store.SearchMemories] uses keyword matching only. When set, its
// Dimensions() fixes the vector column width; changing models with a
// different dimensionality after the first migration requires a manual
// schema change.
func NewStore(ctx context.Context, dsn string, embedder embeddings.Provider) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	dims := 0
	if embedder != nil {
		dims = embedder.Dimensions()
	}

	if dims > 0 {
		// Register pgvector types on every new connection so the embedding
		// column can be scanned into and inserted from pgvector.Vector values.
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, embedder: embedder}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

const ddlConversations = `
CREATE TABLE IF NOT EXISTS conversations (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL,
    summary     TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_updated_at
    ON conversations (updated_at DESC);

CREATE TABLE IF NOT EXISTS conversation_messages (
    id               TEXT         PRIMARY KEY,
    conversation_id  TEXT         NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
    role             TEXT         NOT NULL,
    content          TEXT         NOT NULL,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_conv_created
    ON conversation_messages (conversation_id, created_at);
`

const ddlMemories = `
CREATE TABLE IF NOT EXISTS memories (
    id                      TEXT         PRIMARY KEY,
    content                 TEXT         NOT NULL,
    source_conversation_id  TEXT         NOT NULL DEFAULT '',
    tags                    TEXT[]       NOT NULL DEFAULT '{}',
    created_at              TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_created_at
    ON memories (created_at DESC);
`

// ddlMemoryEmbedding is applied only when an embedding dimension is
// configured; %d is the vector width.
const ddlMemoryEmbedding = `
CREATE EXTENSION IF NOT EXISTS vector;

ALTER TABLE memories ADD COLUMN IF NOT EXISTS embedding vector(%d);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`

// Migrate creates the conversations, conversation_messages, and memories
// tables if they do not exist. When embeddingDimensions is positive it also
// installs the pgvector extension, the embedding column, and its HNSW index.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlConversations); err != nil {
		return fmt.Errorf("migrate conversations: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlMemories); err != nil {
		return fmt.Errorf("migrate memories: %w", err)
	}
	if embeddingDimensions > 0 {
		ddl := fmt.Sprintf(ddlMemoryEmbedding, embeddingDimensions)
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("migrate memory embeddings: %w", err)
		}
	}
	return nil
}
