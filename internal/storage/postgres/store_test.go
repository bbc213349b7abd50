package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/rg1989/local-ai-voice-chat/internal/storage"
	"github.com/rg1989/local-ai-voice-chat/internal/storage/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICECHAT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICECHAT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICECHAT_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// stubEmbedder maps the first word of the text to a fixed unit vector so
// semantic ordering in tests is deterministic.
type stubEmbedder struct {
	vectors map[string][]float32
	failAll bool
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.failAll {
		return nil, errors.New("stub embedder down")
	}
	word := strings.ToLower(strings.Fields(text)[0])
	if v, ok := e.vectors[word]; ok {
		return v, nil
	}
	return []float32{0, 0, 0, 1}, nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int { return testEmbeddingDim }

func (e *stubEmbedder) ModelID() string { return "stub-embedder" }

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T, embedder *stubEmbedder) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	var store *postgres.Store
	var err error
	if embedder != nil {
		store, err = postgres.NewStore(ctx, dsn, embedder)
	} else {
		store, err = postgres.NewStore(ctx, dsn, nil)
	}
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

// mustPool opens a pgxpool with pgvector types registered so dropSchema can
// touch vector columns.
func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate in reverse dependency order.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS memories CASCADE",
		"DROP TABLE IF EXISTS conversation_messages CASCADE",
		"DROP TABLE IF EXISTS conversations CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
}

func TestConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	conv, err := store.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if conv.Title != storage.DefaultTitle {
		t.Errorf("title = %q, want %q", conv.Title, storage.DefaultTitle)
	}

	if _, err := store.AppendMessage(ctx, conv.ID, "user", "Plan my week in Berlin please"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, "assistant", "Sure, here is a plan."); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "Plan my week in Berlin please" {
		t.Errorf("title = %q, want first user message", got.Title)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(got.Messages))
	}
	if got.Messages[0].Role != "user" || got.Messages[1].Role != "assistant" {
		t.Errorf("message roles out of order: %q, %q", got.Messages[0].Role, got.Messages[1].Role)
	}

	if err := store.SetSummary(ctx, conv.ID, "planning a Berlin trip"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	if err := store.ClearMessages(ctx, conv.ID); err != nil {
		t.Fatalf("ClearMessages: %v", err)
	}
	got, err = store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got.Messages) != 0 || got.Summary != "" {
		t.Errorf("after clear: %d messages, summary %q; want 0 and empty", len(got.Messages), got.Summary)
	}

	if err := store.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := store.GetConversation(ctx, conv.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetConversation after delete = %v, want ErrNotFound", err)
	}
}

func TestListConversations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	first, err := store.CreateConversation(ctx, "first")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := store.CreateConversation(ctx, "second"); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	longMsg := strings.Repeat("x", 150)
	if _, err := store.AppendMessage(ctx, first.ID, "user", longMsg); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	infos, err := store.ListConversations(ctx)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d conversations, want 2", len(infos))
	}
	if infos[0].ID != first.ID {
		t.Errorf("infos[0].ID = %s, want most recently updated %s", infos[0].ID, first.ID)
	}
	if infos[0].MessageCount != 1 {
		t.Errorf("MessageCount = %d, want 1", infos[0].MessageCount)
	}
	wantPreview := strings.Repeat("x", 100) + "..."
	if infos[0].LastRole != "user" || infos[0].LastPreview != wantPreview {
		t.Errorf("last message = (%q, %.20q...), want truncated user preview", infos[0].LastRole, infos[0].LastPreview)
	}
}

func TestMemories_KeywordSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	if _, err := store.AddMemory(ctx, "prefers black coffee", "", []string{"preference"}); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := store.AddMemory(ctx, "lives in Berlin", "", []string{"coffee"}); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := store.AddMemory(ctx, "allergic to peanuts", "", nil); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	got, err := store.SearchMemories(ctx, "coffee", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2 (content match and tag match)", len(got))
	}
	for _, m := range got {
		if m.Content == "allergic to peanuts" {
			t.Errorf("unrelated memory matched: %q", m.Content)
		}
	}

	all, err := store.SearchMemories(ctx, "", 10)
	if err != nil {
		t.Fatalf("SearchMemories blank: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("blank query returned %d results, want 3", len(all))
	}
}

func TestMemories_SemanticSearch(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"coffee":  {1, 0, 0, 0},
		"espresso": {0.9, 0.1, 0, 0},
		"berlin":  {0, 1, 0, 0},
	}}
	store := newTestStore(t, embedder)

	if _, err := store.AddMemory(ctx, "espresso every morning", "", nil); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if _, err := store.AddMemory(ctx, "berlin is home", "", nil); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	got, err := store.SearchMemories(ctx, "coffee habits", 1)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 1 || got[0].Content != "espresso every morning" {
		t.Fatalf("semantic search got %+v, want the espresso memory", got)
	}
}

func TestMemories_EmbedFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{vectors: map[string][]float32{}}
	store := newTestStore(t, embedder)

	if _, err := store.AddMemory(ctx, "prefers black coffee", "", nil); err != nil {
		t.Fatalf("AddMemory: %v", err)
	}

	// Store succeeds without a vector and search degrades to keywords.
	embedder.failAll = true
	if _, err := store.AddMemory(ctx, "coffee after lunch too", "", nil); err != nil {
		t.Fatalf("AddMemory with failing embedder: %v", err)
	}
	got, err := store.SearchMemories(ctx, "coffee", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d results from keyword fallback, want 2", len(got))
	}
}

func TestDeleteMemory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	m, err := store.AddMemory(ctx, "temporary note", "conv-1", nil)
	if err != nil {
		t.Fatalf("AddMemory: %v", err)
	}
	if err := store.DeleteMemory(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMemory: %v", err)
	}
	if err := store.DeleteMemory(ctx, m.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	conv, err := store.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := store.AppendMessage(ctx, conv.ID, "user", fmt.Sprintf("message %d", i))
			errs <- err
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent AppendMessage: %v", err)
		}
	}

	got, err := store.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if len(got.Messages) != n {
		t.Errorf("got %d messages, want %d", len(got.Messages), n)
	}
	if got.Title == storage.DefaultTitle {
		t.Error("title was never set by any user message")
	}
}
