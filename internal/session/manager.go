package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rg1989/local-ai-voice-chat/internal/observe"
	"github.com/rg1989/local-ai-voice-chat/internal/pipeline/vad"
	"github.com/rg1989/local-ai-voice-chat/internal/pipeline/wakeword"
	"github.com/rg1989/local-ai-voice-chat/internal/resilience"
	"github.com/rg1989/local-ai-voice-chat/internal/storage"
	"github.com/rg1989/local-ai-voice-chat/internal/transcript"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/llm"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/stt"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/wakemodel"
)

// defaultMaxSessions bounds concurrent sessions; each one carries its own
// VAD state and an in-flight turn, and the local models behind them are not
// free.
const defaultMaxSessions = 4

// ManagerConfig holds the settings stamped onto every new session.
type ManagerConfig struct {
	// Session is the per-session configuration template.
	Session Config

	// VAD configures each session's detector.
	VAD vad.Config

	// Wake configures each session's wake-word gate.
	Wake wakeword.Settings

	// Context tunes each session's context manager. ContextWindow and
	// Summariser are filled in by the manager.
	Context ContextManagerConfig

	// MaxSessions caps concurrent sessions. Default 4.
	MaxSessions int
}

// ManagerDeps carries the shared resources sessions borrow. STT, LLM, TTS,
// and NewScorer are required.
type ManagerDeps struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// NewScorer constructs a fresh VAD scorer per session. Scorers carry
	// recurrent state and cannot be shared between audio streams; the model
	// weights behind them can be, inside the factory.
	NewScorer func() (classifier.Scorer, error)

	// WakeLoad constructs wake classifiers. May be nil when gating is
	// disabled.
	WakeLoad wakeword.LoadFunc

	// Corrector, Store, Memories, Metrics, and Summariser are optional.
	Corrector  transcript.Pipeline
	Store      storage.ConversationStore
	Memories   storage.MemoryStore
	Metrics    *observe.Metrics
	Summariser Summariser
}

// Manager owns the shared model resources and creates sessions for incoming
// connections. The heavyweight providers (whisper context, LLM client, TTS
// client) are singletons; per-stream state (VAD scorer, gate, context
// manager) is built fresh for every session.
//
// All exported methods are safe for concurrent use.
type Manager struct {
	cfg  ManagerConfig
	deps ManagerDeps

	summariser Summariser

	mu       sync.Mutex
	sessions map[*Session]struct{}
	reserved int
}

// NewManager validates deps and creates a Manager.
func NewManager(cfg ManagerConfig, deps ManagerDeps) (*Manager, error) {
	switch {
	case deps.STT == nil:
		return nil, fmt.Errorf("session manager: STT provider is required")
	case deps.LLM == nil:
		return nil, fmt.Errorf("session manager: LLM provider is required")
	case deps.TTS == nil:
		return nil, fmt.Errorf("session manager: TTS provider is required")
	case deps.NewScorer == nil:
		return nil, fmt.Errorf("session manager: scorer factory is required")
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if deps.WakeLoad == nil {
		deps.WakeLoad = func(string) (wakemodel.Classifier, error) {
			return nil, fmt.Errorf("wake-word gating is not configured")
		}
	}

	summariser := deps.Summariser
	if summariser == nil {
		summariser = NewFallbackSummariser(deps.LLM, resilience.FallbackConfig{})
	}

	return &Manager{
		cfg:        cfg,
		deps:       deps,
		summariser: summariser,
		sessions:   make(map[*Session]struct{}),
	}, nil
}

// Warmup touches the shared providers so the first turn does not pay for
// lazy initialisation: it lists TTS voices and builds one scorer. Failures
// are logged, not returned; a provider that is down at startup may be up by
// the first turn.
func (m *Manager) Warmup(ctx context.Context) {
	if _, err := m.deps.TTS.Voices(ctx); err != nil {
		slog.Warn("tts warmup failed", "error", err)
	}
	if scorer, err := m.deps.NewScorer(); err != nil {
		slog.Warn("vad scorer warmup failed", "error", err)
	} else if _, err := scorer.Score(make([]float32, scorer.FrameSize()), m.cfg.VAD.SampleRate); err != nil {
		slog.Warn("vad scorer warmup score failed", "error", err)
	}
	caps := m.deps.LLM.Capabilities()
	slog.Info("providers warmed up",
		"context_window", caps.ContextWindow,
		"streaming", caps.SupportsStreaming)
}

// NewSession builds a session around the shared providers. When
// conversationID is non-empty the persisted conversation is restored;
// otherwise a new one is created (when a store is configured). The caller
// runs the session via [Session.Run] and must call [Manager.Release] when
// the connection closes.
func (m *Manager) NewSession(ctx context.Context, events Events, conversationID string) (*Session, error) {
	// Reserve a slot up front; construction below runs outside the lock, so
	// concurrent connects must not each pass the limit check first.
	m.mu.Lock()
	if active := len(m.sessions) + m.reserved; active >= m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("session manager: session limit reached (%d active)", active)
	}
	m.reserved++
	m.mu.Unlock()

	committed := false
	defer func() {
		if !committed {
			m.mu.Lock()
			m.reserved--
			m.mu.Unlock()
		}
	}()

	scorer, err := m.deps.NewScorer()
	if err != nil {
		return nil, fmt.Errorf("session manager: create scorer: %w", err)
	}
	detector := vad.New(scorer, m.cfg.VAD)
	gate := wakeword.New(m.deps.WakeLoad, m.cfg.Wake)

	ctxCfg := m.cfg.Context
	ctxCfg.ContextWindow = m.deps.LLM.Capabilities().ContextWindow
	ctxCfg.Summariser = m.summariser
	ctxMgr := NewContextManager(ctxCfg)

	sess, err := New(m.cfg.Session, Deps{
		STT:       m.deps.STT,
		LLM:       m.deps.LLM,
		TTS:       m.deps.TTS,
		Detector:  detector,
		Gate:      gate,
		Corrector: m.deps.Corrector,
		Context:   ctxMgr,
		Store:     m.deps.Store,
		Memories:  m.deps.Memories,
		Events:    events,
		Metrics:   m.deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	if m.deps.Store != nil {
		if err := m.bindConversation(ctx, sess, conversationID); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.sessions[sess] = struct{}{}
	m.reserved--
	committed = true
	m.mu.Unlock()
	if m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Add(ctx, 1)
	}
	return sess, nil
}

// bindConversation resolves the persisted conversation through the session's
// store guard: an unknown ID refuses the connection, but a failing store
// degrades to an unpersisted session instead.
func (m *Manager) bindConversation(ctx context.Context, sess *Session, conversationID string) error {
	if conversationID != "" {
		conv, err := sess.guard.GetConversation(ctx, conversationID)
		if err != nil {
			return fmt.Errorf("session manager: load conversation: %w", err)
		}
		if conv == nil {
			slog.Warn("loading conversation failed, session will not persist",
				"conversation_id", conversationID)
			return nil
		}
		sess.BindConversation(conv)
		return nil
	}
	conv := sess.guard.CreateConversation(ctx, "")
	if conv == nil {
		slog.Warn("creating conversation failed, session will not persist")
		return nil
	}
	sess.BindConversation(conv)
	return nil
}

// Release removes a finished session from tracking. Safe to call twice.
func (m *Manager) Release(ctx context.Context, sess *Session) {
	m.mu.Lock()
	_, tracked := m.sessions[sess]
	delete(m.sessions, sess)
	m.mu.Unlock()
	if tracked && m.deps.Metrics != nil {
		m.deps.Metrics.ActiveSessions.Add(ctx, -1)
	}
}

// ActiveSessions returns the number of tracked sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Voices exposes the shared TTS voice catalogue.
func (m *Manager) Voices(ctx context.Context) ([]tts.Voice, error) {
	return m.deps.TTS.Voices(ctx)
}

// Memories exposes the shared memory store, or nil when none is configured.
func (m *Manager) Memories() storage.MemoryStore {
	return m.deps.Memories
}

// UpdateDefaults replaces the per-session template used for future sessions
// and pushes the new wake-word settings to every live session. Per-session
// state a user has already changed (voice, conversation rules) is left alone.
func (m *Manager) UpdateDefaults(sessionCfg Config, wake wakeword.Settings) {
	m.mu.Lock()
	m.cfg.Session = sessionCfg
	m.cfg.Wake = wake
	live := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.UpdateWakeSettings(wake)
	}
}
