package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/embeddings"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/llm"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/stt"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/wakemodel"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ScorerFactory builds one VAD scorer. Scorers carry per-stream recurrent
// state, so the registry hands sessions a factory rather than an instance.
type ScorerFactory func() (classifier.Scorer, error)

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	llm        map[string]func(LLMConfig) (llm.Provider, error)
	stt        map[string]func(STTConfig) (stt.Provider, error)
	tts        map[string]func(TTSConfig) (tts.Provider, error)
	embeddings map[string]func(EmbeddingsConfig) (embeddings.Provider, error)
	scorer     map[string]func(VADConfig, int) (ScorerFactory, error)
	wake       map[string]func(WakewordConfig, string) (wakemodel.Classifier, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:        make(map[string]func(LLMConfig) (llm.Provider, error)),
		stt:        make(map[string]func(STTConfig) (stt.Provider, error)),
		tts:        make(map[string]func(TTSConfig) (tts.Provider, error)),
		embeddings: make(map[string]func(EmbeddingsConfig) (embeddings.Provider, error)),
		scorer:     make(map[string]func(VADConfig, int) (ScorerFactory, error)),
		wake:       make(map[string]func(WakewordConfig, string) (wakemodel.Classifier, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(LLMConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers an STT provider factory under name.
func (r *Registry) RegisterSTT(name string, factory func(STTConfig) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(EmbeddingsConfig) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// RegisterScorer registers a VAD scorer factory constructor under name. The
// constructor receives the VAD config and sample rate and returns a
// per-session [ScorerFactory].
func (r *Registry) RegisterScorer(name string, factory func(VADConfig, int) (ScorerFactory, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scorer[name] = factory
}

// RegisterWake registers a wake-word classifier factory under name. The
// factory receives the wake config and the phrase to load.
func (r *Registry) RegisterWake(name string, factory func(WakewordConfig, string) (wakemodel.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wake[name] = factory
}

// CreateLLM instantiates the LLM provider named by cfg.Provider.
// Returns [ErrProviderNotRegistered] when no factory is registered.
func (r *Registry) CreateLLM(cfg LLMConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateSTT instantiates the STT provider named by cfg.Provider.
func (r *Registry) CreateSTT(cfg STTConfig) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateTTS instantiates the TTS provider named by cfg.Provider.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateEmbeddings instantiates the embeddings provider named by
// cfg.Provider.
func (r *Registry) CreateEmbeddings(cfg EmbeddingsConfig) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// CreateScorerFactory builds the per-session VAD scorer factory named by
// cfg.Provider.
func (r *Registry) CreateScorerFactory(cfg VADConfig, sampleRate int) (ScorerFactory, error) {
	r.mu.RLock()
	factory, ok := r.scorer[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg, sampleRate)
}

// CreateWake instantiates a wake-word classifier for phrase using the
// factory registered under name.
func (r *Registry) CreateWake(name string, cfg WakewordConfig, phrase string) (wakemodel.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.wake[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: wake/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg, phrase)
}
