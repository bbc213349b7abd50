package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rg1989/local-ai-voice-chat/internal/observe"
	"github.com/rg1989/local-ai-voice-chat/internal/pipeline/sentencizer"
	"github.com/rg1989/local-ai-voice-chat/internal/pipeline/vad"
	"github.com/rg1989/local-ai-voice-chat/internal/pipeline/wakeword"
	"github.com/rg1989/local-ai-voice-chat/internal/storage"
	"github.com/rg1989/local-ai-voice-chat/internal/transcript"
	"github.com/rg1989/local-ai-voice-chat/pkg/audio"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/llm"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/stt"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
	"github.com/rg1989/local-ai-voice-chat/pkg/types"
)

// Status describes what the session is doing, mirrored to the client.
type Status string

const (
	// StatusWaiting: wake-word gating is on and the phrase has not been
	// heard; audio is scored by the gate but not the VAD.
	StatusWaiting Status = "waiting_for_wake"

	// StatusListening: audio flows to the VAD; ready for speech.
	StatusListening Status = "listening"

	// StatusProcessing: a turn is running (transcription or LLM stream).
	StatusProcessing Status = "processing"

	// StatusSpeaking: response audio is being synthesised and sent.
	StatusSpeaking Status = "speaking"
)

// Events receives the session's output stream. The web layer implements it
// over a websocket; tests implement it with a recorder. Methods are called
// from the session's goroutines and must not block for long.
type Events interface {
	// Status reports a session state change.
	Status(status Status)

	// Transcription delivers the (corrected) text of the user's utterance.
	Transcription(text string)

	// ResponseToken delivers one streamed LLM token.
	ResponseToken(token string)

	// ResponseEnd marks the end of the assistant's response stream.
	ResponseEnd()

	// Audio delivers one synthesised sentence.
	Audio(segment *tts.Segment)
}

// NopEvents discards all events.
type NopEvents struct{}

func (NopEvents) Status(Status)        {}
func (NopEvents) Transcription(string) {}
func (NopEvents) ResponseToken(string) {}
func (NopEvents) ResponseEnd()         {}
func (NopEvents) Audio(*tts.Segment)   {}

var _ Events = NopEvents{}

// Config holds the per-session tunables.
type Config struct {
	// SampleRate of incoming audio in Hz.
	SampleRate int

	// FrameBuffer is the capacity of the inbound frame channel. Frames
	// arriving while it is full are dropped, never queued. Default 32.
	FrameBuffer int

	// MinSegment is the minimum utterance length worth transcribing.
	// Shorter segments are discarded. Default 500ms.
	MinSegment time.Duration

	// Temperature and MaxTokens are passed through to the LLM.
	Temperature float64
	MaxTokens   int

	// SystemPrompt is the base system prompt. Empty selects the default.
	SystemPrompt string

	// GlobalRules and ConversationRules are appended to the system prompt.
	GlobalRules       string
	ConversationRules string

	// Voice is the initial TTS voice.
	Voice string

	// Vocabulary lists user-configured terms the transcript corrector
	// repairs (contact names, product names, jargon). Empty disables the
	// correction stage.
	Vocabulary []string

	// Chunker tunes the streaming sentencizer. Zero values select its
	// defaults.
	Chunker sentencizer.Config

	// MaxPromptMemories caps how many persistent memories are injected into
	// the system prompt. Default 20.
	MaxPromptMemories int
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = 32
	}
	if c.MinSegment <= 0 {
		c.MinSegment = 500 * time.Millisecond
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.MaxPromptMemories <= 0 {
		c.MaxPromptMemories = 20
	}
}

// Deps carries the collaborators a session borrows. STT, LLM, TTS, Detector,
// Gate, Context, and Events are required; the rest are optional.
type Deps struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Detector and Gate belong exclusively to this session; both are driven
	// from the session's audio goroutine.
	Detector *vad.Detector
	Gate     *wakeword.Gate

	// Corrector repairs misheard vocabulary terms. Optional.
	Corrector transcript.Pipeline

	// Context tracks the conversation history and compression.
	Context *ContextManager

	// Store persists the conversation. Optional; failures are non-fatal.
	Store storage.ConversationStore

	// Memories supplies persistent user memories for the system prompt.
	// Optional.
	Memories storage.MemoryStore

	Events  Events
	Metrics *observe.Metrics
}

// Session is the audio actor for one voice conversation.
//
// A single goroutine (Run) owns the VAD and the wake-word gate and consumes
// frames from a bounded channel fed by [Session.PushAudio]. When the VAD
// closes an utterance, the actor spawns at most one cancellable turn task:
// transcription, vocabulary correction, context compression, LLM streaming,
// sentence chunking, markdown filtering, and synthesis. While a turn runs the
// processing flag drops all arriving audio, and new segments are discarded
// rather than queued.
type Session struct {
	cfg Config

	stt       stt.Provider
	llm       llm.Provider
	tts       tts.Provider
	detector  *vad.Detector
	gate      *wakeword.Gate
	corrector transcript.Pipeline
	ctxMgr    *ContextManager
	guard     *StoreGuard
	memories  storage.MemoryStore
	events    Events
	metrics   *observe.Metrics

	chunker  *sentencizer.Sentencizer
	mdFilter *sentencizer.MarkdownFilter

	frames     chan []float32
	processing atomic.Bool

	mu             sync.Mutex
	voice          string
	conversationID string
	rules          string
	turnCancel     context.CancelFunc

	turns sync.WaitGroup
}

// New creates a session. cfg defaults are applied; deps.STT, deps.LLM,
// deps.TTS, deps.Detector, deps.Gate, and deps.Context must be non-nil.
func New(cfg Config, deps Deps) (*Session, error) {
	cfg.applyDefaults()
	switch {
	case deps.STT == nil:
		return nil, fmt.Errorf("session: STT provider is required")
	case deps.LLM == nil:
		return nil, fmt.Errorf("session: LLM provider is required")
	case deps.TTS == nil:
		return nil, fmt.Errorf("session: TTS provider is required")
	case deps.Detector == nil:
		return nil, fmt.Errorf("session: VAD detector is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("session: wake-word gate is required")
	case deps.Context == nil:
		return nil, fmt.Errorf("session: context manager is required")
	}
	if deps.Events == nil {
		deps.Events = NopEvents{}
	}

	s := &Session{
		cfg:       cfg,
		stt:       deps.STT,
		llm:       deps.LLM,
		tts:       deps.TTS,
		detector:  deps.Detector,
		gate:      deps.Gate,
		corrector: deps.Corrector,
		ctxMgr:    deps.Context,
		memories:  deps.Memories,
		events:    deps.Events,
		metrics:   deps.Metrics,
		chunker:   sentencizer.New(cfg.Chunker),
		mdFilter:  sentencizer.NewMarkdownFilter(),
		frames:    make(chan []float32, cfg.FrameBuffer),
		voice:     cfg.Voice,
		rules:     cfg.ConversationRules,
	}
	if deps.Store != nil {
		s.guard = NewStoreGuard(deps.Store)
	}
	s.gate.OnTimeout(func() {
		s.events.Status(StatusWaiting)
	})
	return s, nil
}

// BindConversation attaches a persisted conversation: its messages and
// compression summary are restored into the context manager and subsequent
// turns append to it.
func (s *Session) BindConversation(conv *storage.Conversation) {
	if conv == nil {
		return
	}
	s.mu.Lock()
	s.conversationID = conv.ID
	s.mu.Unlock()

	history := make([]types.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		history = append(history, types.Message{Role: m.Role, Content: m.Content})
	}
	s.ctxMgr.Restore(history, conv.Summary)
}

// ConversationID returns the bound conversation ID, or "" when unpersisted.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetVoice changes the TTS voice for subsequent responses.
func (s *Session) SetVoice(voice string) {
	s.mu.Lock()
	s.voice = voice
	s.mu.Unlock()
}

// Voice returns the current TTS voice.
func (s *Session) Voice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// SetConversationRules replaces the per-conversation rules appended to the
// system prompt.
func (s *Session) SetConversationRules(rules string) {
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

// UpdateWakeSettings applies new wake-word settings to the live gate.
func (s *Session) UpdateWakeSettings(settings wakeword.Settings) {
	s.gate.UpdateSettings(settings)
}

// PushAudio offers one frame of mono float32 samples to the session. It
// never blocks: frames are dropped while a turn is processing or when the
// inbox is full, and false is returned.
func (s *Session) PushAudio(samples []float32) bool {
	if s.processing.Load() {
		s.dropFrame()
		return false
	}
	select {
	case s.frames <- samples:
		return true
	default:
		s.dropFrame()
		return false
	}
}

func (s *Session) dropFrame() {
	if s.metrics != nil {
		s.metrics.FramesDropped.Add(context.Background(), 1)
	}
}

// Run is the session's audio actor loop. It consumes frames, drives the gate
// and the VAD, and spawns turn tasks. It returns when ctx is cancelled,
// after waiting for an in-flight turn to finish.
func (s *Session) Run(ctx context.Context) error {
	if s.gate.Settings().Enabled {
		s.events.Status(StatusWaiting)
	} else {
		s.events.Status(StatusListening)
	}

	for {
		select {
		case <-ctx.Done():
			s.cancelTurn()
			s.turns.Wait()
			return ctx.Err()
		case samples := <-s.frames:
			s.handleFrame(ctx, samples)
		}
	}
}

// handleFrame runs on the actor goroutine only.
func (s *Session) handleFrame(ctx context.Context, samples []float32) {
	res := s.gate.Process(samples)
	if res.Detected {
		if s.metrics != nil {
			s.metrics.WakeDetections.Add(ctx, 1)
		}
		slog.Info("wake phrase detected",
			"phrase", res.Phrase, "confidence", res.Confidence)
		s.events.Status(StatusListening)
	}
	if res.State == wakeword.Listening {
		// Gated: nothing reaches the VAD until the phrase is heard.
		return
	}

	vres, err := s.detector.Process(samples)
	if err != nil {
		slog.Warn("vad processing failed", "error", err)
		return
	}

	switch vres.State {
	case vad.SpeechStart:
		if s.metrics != nil {
			s.metrics.RecordVADEvent(ctx, "speech_start")
		}
		s.gate.ResetTimeout()
	case vad.SpeechEnd:
		if s.metrics != nil {
			s.metrics.RecordVADEvent(ctx, "speech_end")
		}
		s.startTurn(ctx, s.detector.TakeSpeech())
	}
}

// startTurn launches the turn task for a finished utterance. Segments that
// arrive while a turn is active, or that are shorter than MinSegment, are
// dropped.
func (s *Session) startTurn(ctx context.Context, segment []float32) {
	if len(segment) == 0 {
		return
	}
	if audio.SamplesToDuration(len(segment), s.cfg.SampleRate) < s.cfg.MinSegment {
		slog.Debug("utterance below minimum duration, dropping",
			"samples", len(segment))
		return
	}
	if !s.processing.CompareAndSwap(false, true) {
		if s.metrics != nil {
			s.metrics.RecordTurn(ctx, "dropped")
		}
		return
	}

	turnCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()

	s.gate.SetProcessing(true)
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		defer cancel()
		defer s.endTurn()
		s.runTurn(turnCtx, segment)
	}()
}

// endTurn releases the processing lock and returns the gate to listening.
// Runs via defer so a panicking or cancelled turn cannot wedge the session.
func (s *Session) endTurn() {
	s.gate.SetProcessing(false)
	s.gate.SetListening()
	s.processing.Store(false)
	if s.gate.Settings().Enabled {
		s.events.Status(StatusWaiting)
	} else {
		s.events.Status(StatusListening)
	}
}

// Cancel aborts the in-flight turn, if any. The audio loop keeps running.
func (s *Session) Cancel() {
	s.cancelTurn()
}

func (s *Session) cancelTurn() {
	s.mu.Lock()
	cancel := s.turnCancel
	s.turnCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runTurn executes one full turn from a speech segment.
func (s *Session) runTurn(ctx context.Context, segment []float32) {
	started := time.Now()
	s.events.Status(StatusProcessing)

	sttStart := time.Now()
	t, err := s.stt.Transcribe(ctx, segment, s.cfg.SampleRate)
	if s.metrics != nil {
		observe.RecordStage(ctx, s.metrics.STTDuration, sttStart)
	}
	if err != nil {
		if errors.Is(err, stt.ErrAudioTooShort) || errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("transcription failed", "error", err)
		if s.metrics != nil {
			s.metrics.RecordProviderError(ctx, "stt", "transcribe")
			s.metrics.RecordTurn(ctx, "error")
		}
		return
	}

	text := strings.TrimSpace(t.Text)
	if text == "" {
		slog.Debug("empty transcription, ignoring segment")
		return
	}

	if s.corrector != nil && len(s.cfg.Vocabulary) > 0 {
		corrected, err := s.corrector.Correct(ctx, *t, s.cfg.Vocabulary)
		if err != nil {
			slog.Warn("transcript correction failed, using raw text", "error", err)
		} else if len(corrected.Corrections) > 0 {
			slog.Debug("transcript corrected",
				"original", text, "corrected", corrected.Corrected)
			text = corrected.Corrected
		}
	}

	s.events.Transcription(text)
	s.respond(ctx, text, started)
}

// HandleText runs a turn from typed input, bypassing the audio stages. It
// blocks until the response finishes and returns an error when a voice turn
// is already in flight.
func (s *Session) HandleText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !s.processing.CompareAndSwap(false, true) {
		return fmt.Errorf("session: a turn is already in progress")
	}
	s.gate.SetProcessing(true)
	defer s.endTurn()

	// Text turns are cancellable the same way voice turns are.
	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()

	s.events.Status(StatusProcessing)
	s.respond(turnCtx, text, time.Now())
	return nil
}

// ClearHistory drops the in-memory conversation state and the persisted
// messages. An in-flight turn is cancelled first.
func (s *Session) ClearHistory(ctx context.Context) {
	s.cancelTurn()
	s.ctxMgr.Clear()
	if s.guard != nil {
		s.guard.ClearMessages(ctx, s.ConversationID())
	}
}

// respond runs the LLM half of a turn: history update, compression check,
// streaming, sentence chunking, and synthesis.
func (s *Session) respond(ctx context.Context, text string, started time.Time) {
	if s.guard != nil {
		s.guard.AppendMessage(ctx, s.ConversationID(), "user", text)
	}
	s.ctxMgr.AddUserMessage(text)

	compressed, err := s.ctxMgr.CompressIfNeeded(ctx)
	if err != nil {
		slog.Warn("context compression failed, continuing uncompressed", "error", err)
	}
	if compressed {
		if s.metrics != nil {
			s.metrics.Compressions.Add(ctx, 1)
		}
		if s.guard != nil {
			s.guard.SetSummary(ctx, s.ConversationID(), s.ctxMgr.Summary())
		}
	}

	req := llm.CompletionRequest{
		Messages:     s.ctxMgr.Messages(),
		SystemPrompt: s.systemPrompt(ctx, text),
		Temperature:  s.cfg.Temperature,
		MaxTokens:    s.cfg.MaxTokens,
	}

	llmStart := time.Now()
	stream, err := s.llm.StreamCompletion(ctx, req)
	if err != nil {
		slog.Error("llm stream failed to start", "error", err)
		if s.metrics != nil {
			s.metrics.RecordProviderError(ctx, "llm", "stream")
			s.metrics.RecordTurn(ctx, "error")
		}
		s.events.ResponseEnd()
		return
	}

	s.chunker.Reset()
	s.mdFilter.Reset()

	var (
		full       strings.Builder
		firstToken = true
		speaking   = false
		sawUsage   = false
	)
	defer func() {
		if speaking {
			s.gate.SetSpeaking(false)
		}
	}()

	for chunk := range stream {
		if ctx.Err() != nil {
			// Drain so the provider goroutine can exit.
			for range stream {
			}
			break
		}
		if chunk.Text != "" && chunk.FinishReason != "error" {
			if firstToken {
				firstToken = false
				if s.metrics != nil {
					observe.RecordStage(ctx, s.metrics.LLMFirstToken, llmStart)
				}
			}
			full.WriteString(chunk.Text)
			s.events.ResponseToken(chunk.Text)
			if c, ok := s.chunker.AddToken(chunk.Text); ok {
				s.speak(ctx, c.Text, &speaking)
			}
		}
		switch chunk.FinishReason {
		case "error":
			slog.Error("llm stream error", "message", chunk.Text)
			if s.metrics != nil {
				s.metrics.RecordProviderError(ctx, "llm", "stream")
			}
		case "length":
			slog.Warn("llm response truncated at max tokens")
		}
		if chunk.Usage.PromptTokens > 0 {
			sawUsage = true
			s.ctxMgr.RecordPromptTokens(chunk.Usage.PromptTokens)
		}
	}
	if s.metrics != nil {
		observe.RecordStage(ctx, s.metrics.LLMDuration, llmStart)
	}
	if !sawUsage {
		s.ctxMgr.SyncEstimate()
	}

	if ctx.Err() == nil {
		if c, ok := s.chunker.Flush(); ok {
			s.speak(ctx, c.Text, &speaking)
		}
	}
	s.events.ResponseEnd()

	reply := full.String()
	if reply != "" {
		s.ctxMgr.AddAssistantMessage(reply)
		if s.guard != nil {
			s.guard.AppendMessage(ctx, s.ConversationID(), "assistant", reply)
		}
	}

	if s.metrics != nil {
		status := "ok"
		if ctx.Err() != nil {
			status = "cancelled"
		}
		s.metrics.RecordTurn(ctx, status)
		observe.RecordStage(ctx, s.metrics.TurnDuration, started)
	}
}

// speak filters one sentence chunk and synthesises it. The first audible
// sentence raises the gate's speaking mute; respond lowers it when the
// stream ends.
func (s *Session) speak(ctx context.Context, text string, speaking *bool) {
	filtered, ok := s.mdFilter.Filter(text)
	if !ok || strings.TrimSpace(filtered) == "" {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if !*speaking {
		*speaking = true
		s.gate.SetSpeaking(true)
		s.events.Status(StatusSpeaking)
	}

	ttsStart := time.Now()
	seg, err := s.tts.Synthesize(ctx, filtered, s.Voice())
	if s.metrics != nil {
		observe.RecordStage(ctx, s.metrics.TTSDuration, ttsStart)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("synthesis failed", "text_len", len(filtered), "error", err)
		if s.metrics != nil {
			s.metrics.RecordProviderError(ctx, "tts", "synthesize")
		}
		return
	}
	if len(seg.Samples) > 0 {
		s.events.Audio(seg)
	}
}

// systemPrompt assembles the per-request system prompt with memories
// relevant to the current utterance and the active rules.
func (s *Session) systemPrompt(ctx context.Context, query string) string {
	var memoryContext string
	if s.memories != nil {
		memoryContext = storage.MemoryContext(s.recallMemories(ctx, query), s.cfg.MaxPromptMemories)
	}
	s.mu.Lock()
	rules := s.rules
	s.mu.Unlock()
	return AssembleSystemPrompt(s.cfg.SystemPrompt, memoryContext, s.cfg.GlobalRules, rules)
}

// recallMemories ranks stored memories against the utterance so the most
// relevant ones survive the MaxPromptMemories cap. When nothing matches, or
// search is unavailable, the most recent memories are used instead.
func (s *Session) recallMemories(ctx context.Context, query string) []storage.Memory {
	if query = strings.TrimSpace(query); query != "" {
		mems, err := s.memories.SearchMemories(ctx, query, s.cfg.MaxPromptMemories)
		if err != nil {
			slog.Warn("memory search failed, falling back to recency", "error", err)
		} else if len(mems) > 0 {
			return mems
		}
	}
	mems, err := s.memories.ListMemories(ctx)
	if err != nil {
		slog.Warn("listing memories failed, prompting without them", "error", err)
		return nil
	}
	return mems
}
