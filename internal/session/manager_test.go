package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rg1989/local-ai-voice-chat/internal/pipeline/vad"
	"github.com/rg1989/local-ai-voice-chat/internal/pipeline/wakeword"
	"github.com/rg1989/local-ai-voice-chat/internal/storage"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier"
	clsmock "github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier/mock"
	llmmock "github.com/rg1989/local-ai-voice-chat/pkg/provider/llm/mock"
	sttmock "github.com/rg1989/local-ai-voice-chat/pkg/provider/stt/mock"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
	ttsmock "github.com/rg1989/local-ai-voice-chat/pkg/provider/tts/mock"
	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

func newTestManager(t *testing.T, mutate func(*ManagerConfig, *ManagerDeps)) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		Session: Config{SampleRate: 16000},
		VAD:     vad.Config{SampleRate: 16000, Threshold: 0.5},
		Wake:    wakeword.Settings{Enabled: false},
	}
	deps := ManagerDeps{
		STT: &sttmock.Provider{Transcripts: []types.Transcript{{Text: "hi"}}},
		LLM: &llmmock.Provider{
			ModelCapabilities: types.ModelCapabilities{ContextWindow: 8192, SupportsStreaming: true},
		},
		TTS: &ttsmock.Provider{VoiceList: []tts.Voice{{ID: "af_heart"}}},
		NewScorer: func() (classifier.Scorer, error) {
			return &clsmock.Scorer{Frame: 512}, nil
		},
		Store: storage.NewMemStore(),
	}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	m, err := NewManager(cfg, deps)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManager_RequiresProviders(t *testing.T) {
	base := func() ManagerDeps {
		return ManagerDeps{
			STT:       &sttmock.Provider{},
			LLM:       &llmmock.Provider{},
			TTS:       &ttsmock.Provider{},
			NewScorer: func() (classifier.Scorer, error) { return &clsmock.Scorer{Frame: 512}, nil },
		}
	}
	cases := []struct {
		name   string
		mutate func(*ManagerDeps)
	}{
		{"stt", func(d *ManagerDeps) { d.STT = nil }},
		{"llm", func(d *ManagerDeps) { d.LLM = nil }},
		{"tts", func(d *ManagerDeps) { d.TTS = nil }},
		{"scorer", func(d *ManagerDeps) { d.NewScorer = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := base()
			tc.mutate(&deps)
			if _, err := NewManager(ManagerConfig{}, deps); err == nil {
				t.Fatal("expected error for missing dependency")
			}
		})
	}
}

func TestNewSession_CreatesConversation(t *testing.T) {
	m := newTestManager(t, nil)

	sess, err := m.NewSession(context.Background(), NopEvents{}, "")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sess.ConversationID() == "" {
		t.Error("expected session to be bound to a new conversation")
	}
	if got := m.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions = %d, want 1", got)
	}
}

func TestNewSession_RestoresConversation(t *testing.T) {
	store := storage.NewMemStore()
	m := newTestManager(t, func(_ *ManagerConfig, d *ManagerDeps) { d.Store = store })

	ctx := context.Background()
	conv, err := store.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, "user", "what is the capital of France"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, "assistant", "Paris."); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	sess, err := m.NewSession(ctx, NopEvents{}, conv.ID)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sess.ConversationID() != conv.ID {
		t.Errorf("ConversationID = %q, want %q", sess.ConversationID(), conv.ID)
	}
	msgs := sess.ctxMgr.Messages()
	if len(msgs) != 2 {
		t.Fatalf("restored %d messages, want 2", len(msgs))
	}
	if msgs[1].Content != "Paris." {
		t.Errorf("last restored message = %q", msgs[1].Content)
	}
}

func TestNewSession_UnknownConversation(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.NewSession(context.Background(), NopEvents{}, "no-such-id")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestNewSession_WithoutStore(t *testing.T) {
	m := newTestManager(t, func(_ *ManagerConfig, d *ManagerDeps) { d.Store = nil })

	sess, err := m.NewSession(context.Background(), NopEvents{}, "")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sess.ConversationID() != "" {
		t.Errorf("ConversationID = %q, want empty without a store", sess.ConversationID())
	}
}

func TestNewSession_EnforcesLimit(t *testing.T) {
	m := newTestManager(t, func(cfg *ManagerConfig, _ *ManagerDeps) { cfg.MaxSessions = 2 })

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := m.NewSession(ctx, NopEvents{}, ""); err != nil {
			t.Fatalf("NewSession %d: %v", i, err)
		}
	}
	if _, err := m.NewSession(ctx, NopEvents{}, ""); err == nil {
		t.Fatal("expected limit error on third session")
	} else if !strings.Contains(err.Error(), "limit") {
		t.Errorf("error = %v, want session limit message", err)
	}
}

func TestNewSession_LimitHeldDuringConstruction(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	m := newTestManager(t, func(cfg *ManagerConfig, d *ManagerDeps) {
		cfg.MaxSessions = 1
		d.NewScorer = func() (classifier.Scorer, error) {
			entered <- struct{}{}
			<-release
			return &clsmock.Scorer{Frame: 512}, nil
		}
	})

	ctx := context.Background()
	firstDone := make(chan error, 1)
	go func() {
		_, err := m.NewSession(ctx, NopEvents{}, "")
		firstDone <- err
	}()
	<-entered

	// The slot is reserved while the first session is still being built.
	if _, err := m.NewSession(ctx, NopEvents{}, ""); err == nil {
		t.Fatal("expected limit error during concurrent construction")
	} else if !strings.Contains(err.Error(), "limit") {
		t.Errorf("error = %v, want session limit message", err)
	}

	close(release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first NewSession: %v", err)
	}
	if got := m.ActiveSessions(); got != 1 {
		t.Errorf("ActiveSessions = %d, want 1", got)
	}
}

func TestNewSession_FailedConstructionReleasesSlot(t *testing.T) {
	calls := 0
	m := newTestManager(t, func(cfg *ManagerConfig, d *ManagerDeps) {
		cfg.MaxSessions = 1
		d.NewScorer = func() (classifier.Scorer, error) {
			calls++
			if calls == 1 {
				return nil, fmt.Errorf("model file missing")
			}
			return &clsmock.Scorer{Frame: 512}, nil
		}
	})

	ctx := context.Background()
	if _, err := m.NewSession(ctx, NopEvents{}, ""); err == nil {
		t.Fatal("expected scorer construction error")
	}
	if _, err := m.NewSession(ctx, NopEvents{}, ""); err != nil {
		t.Fatalf("NewSession after failed construction: %v", err)
	}
}

func TestNewSession_DegradedStoreRunsUnpersisted(t *testing.T) {
	store := &flakyStore{ConversationStore: storage.NewMemStore(), broken: false}
	m := newTestManager(t, func(_ *ManagerConfig, d *ManagerDeps) { d.Store = store })
	ctx := context.Background()

	conv, err := store.CreateConversation(ctx, "")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	store.broken = true

	// A failing store must not refuse connections, with or without a
	// conversation to restore.
	sess, err := m.NewSession(ctx, NopEvents{}, "")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if sess.ConversationID() != "" {
		t.Errorf("ConversationID = %q, want empty with a failing store", sess.ConversationID())
	}
	if !sess.guard.IsDegraded() {
		t.Error("guard should report degraded after a failed create")
	}

	sess2, err := m.NewSession(ctx, NopEvents{}, conv.ID)
	if err != nil {
		t.Fatalf("NewSession with existing conversation: %v", err)
	}
	if sess2.ConversationID() != "" {
		t.Errorf("ConversationID = %q, want empty when the load fails", sess2.ConversationID())
	}
}

func TestNewSession_ScorerFactoryError(t *testing.T) {
	m := newTestManager(t, func(_ *ManagerConfig, d *ManagerDeps) {
		d.NewScorer = func() (classifier.Scorer, error) {
			return nil, fmt.Errorf("model file missing")
		}
	})

	if _, err := m.NewSession(context.Background(), NopEvents{}, ""); err == nil {
		t.Fatal("expected scorer construction error")
	}
	if got := m.ActiveSessions(); got != 0 {
		t.Errorf("ActiveSessions = %d after failed construction, want 0", got)
	}
}

func TestRelease(t *testing.T) {
	m := newTestManager(t, nil)

	ctx := context.Background()
	sess, err := m.NewSession(ctx, NopEvents{}, "")
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	m.Release(ctx, sess)
	if got := m.ActiveSessions(); got != 0 {
		t.Fatalf("ActiveSessions = %d after release, want 0", got)
	}
	// Second release of the same session is a no-op.
	m.Release(ctx, sess)
	if got := m.ActiveSessions(); got != 0 {
		t.Fatalf("ActiveSessions = %d after double release, want 0", got)
	}
}

func TestVoices(t *testing.T) {
	m := newTestManager(t, nil)

	voices, err := m.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "af_heart" {
		t.Errorf("voices = %+v", voices)
	}
}
