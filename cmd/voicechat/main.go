// Command voicechat runs the local voice assistant server: a WebSocket
// interface in front of per-connection voice sessions backed by local
// STT, LLM, and TTS servers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"go.opentelemetry.io/otel"

	"github.com/rg1989/local-ai-voice-chat/internal/config"
	"github.com/rg1989/local-ai-voice-chat/internal/health"
	"github.com/rg1989/local-ai-voice-chat/internal/observe"
	"github.com/rg1989/local-ai-voice-chat/internal/resilience"
	"github.com/rg1989/local-ai-voice-chat/internal/session"
	"github.com/rg1989/local-ai-voice-chat/internal/storage"
	pgstore "github.com/rg1989/local-ai-voice-chat/internal/storage/postgres"
	"github.com/rg1989/local-ai-voice-chat/internal/transcript"
	"github.com/rg1989/local-ai-voice-chat/internal/transcript/llmcorrect"
	"github.com/rg1989/local-ai-voice-chat/internal/transcript/phonetic"
	"github.com/rg1989/local-ai-voice-chat/internal/web"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier/energy"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/classifier/silero"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/embeddings"
	ollamaembed "github.com/rg1989/local-ai-voice-chat/pkg/provider/embeddings/ollama"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/llm"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/llm/anyllm"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/stt"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/stt/whisper"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/tts/kokoro"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/wakemodel"
	"github.com/rg1989/local-ai-voice-chat/pkg/provider/wakemodel/onnx"
)

// energyFrameSamples is the scoring window for the energy fallback scorer,
// matching the Silero frame at 16 kHz.
const energyFrameSamples = 512

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicechat: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicechat: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("voicechat starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voicechat",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	defer providers.close()

	// ── Session manager ───────────────────────────────────────────────────────
	manager, err := session.NewManager(managerConfig(cfg), session.ManagerDeps{
		STT:       providers.stt,
		LLM:       providers.llm,
		TTS:       providers.tts,
		NewScorer: providers.newScorer,
		WakeLoad:  providers.wakeLoad,
		Corrector: providers.corrector,
		Store:     providers.conversations,
		Memories:  providers.memories,
		Metrics:   metrics,
	})
	if err != nil {
		slog.Error("failed to create session manager", "err", err)
		return 1
	}
	manager.Warmup(ctx)

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.WakewordChanged || d.TuningChanged || d.VoiceChanged || d.VocabularyChanged {
			manager.UpdateDefaults(sessionConfig(new), new.Wakeword.Settings())
			slog.Info("session defaults reloaded")
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Web server ────────────────────────────────────────────────────────────
	server, err := web.NewServer(web.Config{
		Addr:           cfg.Server.ListenAddr,
		StaticDir:      cfg.Server.StaticDir,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, manager, health.New(providers.checkers...), metrics)
	if err != nil {
		slog.Error("failed to create web server", "err", err)
		return 1
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// voicechat into reg. Every backend here runs locally except "openai", which
// is kept for users pointing at an OpenAI-compatible proxy on their LAN.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("ollama", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if c.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
		}
		return anyllm.NewOllama(c.Model, opts...)
	})

	reg.RegisterLLM("llamacpp", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if c.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
		}
		return anyllm.NewLlamaCpp(c.Model, opts...)
	})

	reg.RegisterLLM("openai", func(c config.LLMConfig) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if c.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(c.APIKey))
		}
		if c.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(c.BaseURL))
		}
		return anyllm.NewOpenAI(c.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(c config.STTConfig) (stt.Provider, error) {
		var opts []whisper.Option
		if c.Model != "" {
			opts = append(opts, whisper.WithModel(c.Model))
		}
		if c.Language != "" {
			opts = append(opts, whisper.WithLanguage(c.Language))
		}
		return whisper.New(c.ServerURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(c config.STTConfig) (stt.Provider, error) {
		var opts []whisper.NativeOption
		if c.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(c.Language))
		}
		return whisper.NewNative(c.ModelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("kokoro", func(c config.TTSConfig) (tts.Provider, error) {
		var opts []kokoro.Option
		if c.Speed > 0 {
			opts = append(opts, kokoro.WithSpeed(c.Speed))
		}
		return kokoro.New(c.ServerURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("ollama", func(c config.EmbeddingsConfig) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if c.Dimensions > 0 {
			opts = append(opts, ollamaembed.WithDimensions(c.Dimensions))
		}
		return ollamaembed.New(c.BaseURL, c.Model, opts...)
	})

	// ── VAD scorers ───────────────────────────────────────────────────────────
	// Scorers carry recurrent per-stream state, so each factory returns a
	// per-session constructor rather than a shared instance.

	reg.RegisterScorer("silero", func(c config.VADConfig, sampleRate int) (config.ScorerFactory, error) {
		if c.ModelPath == "" {
			return nil, fmt.Errorf("vad: silero requires model_path")
		}
		modelPath := c.ModelPath
		return func() (classifier.Scorer, error) {
			return silero.New(modelPath, sampleRate)
		}, nil
	})

	reg.RegisterScorer("energy", func(c config.VADConfig, sampleRate int) (config.ScorerFactory, error) {
		return func() (classifier.Scorer, error) {
			return energy.New(energyFrameSamples), nil
		}, nil
	})

	// ── Wake-word classifiers ─────────────────────────────────────────────────

	reg.RegisterWake("onnx", func(c config.WakewordConfig, phrase string) (wakemodel.Classifier, error) {
		return onnx.New(onnx.Config{
			ModelPath: filepath.Join(c.ModelDir, phrase+".onnx"),
		})
	})
}

// providerSet bundles everything buildProviders instantiates.
type providerSet struct {
	stt           stt.Provider
	llm           llm.Provider
	tts           tts.Provider
	newScorer     func() (classifier.Scorer, error)
	wakeLoad      func(phrase string) (wakemodel.Classifier, error)
	corrector     transcript.Pipeline
	conversations storage.ConversationStore
	memories      storage.MemoryStore
	checkers      []health.Checker

	pg *pgstore.Store
}

func (p *providerSet) close() {
	if p.pg != nil {
		p.pg.Close()
	}
}

// buildProviders instantiates every backend named in cfg, wraps the remote
// ones in circuit breakers, and collects the matching health checkers.
func buildProviders(ctx context.Context, cfg *config.Config, reg *config.Registry) (*providerSet, error) {
	ps := &providerSet{}

	// ── LLM ───────────────────────────────────────────────────────────────────
	llmProvider, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Provider, err)
	}
	llmFB := resilience.NewLLMFallback(llmProvider, cfg.LLM.Provider, resilience.FallbackConfig{})
	ps.llm = llmFB
	if cfg.LLM.BaseURL != "" {
		ps.checkers = append(ps.checkers, health.CheckHTTP("llm", cfg.LLM.BaseURL))
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Provider, "model", cfg.LLM.Model)

	// ── STT ───────────────────────────────────────────────────────────────────
	sttProvider, err := reg.CreateSTT(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.STT.Provider, err)
	}
	sttFB := resilience.NewSTTFallback(sttProvider, cfg.STT.Provider, resilience.FallbackConfig{})
	ps.stt = sttFB
	switch cfg.STT.Provider {
	case "whisper":
		ps.checkers = append(ps.checkers, health.CheckHTTP("stt", cfg.STT.ServerURL))
	case "whisper-native":
		ps.checkers = append(ps.checkers, health.CheckFile("stt-model", cfg.STT.ModelPath))
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.STT.Provider)

	// ── TTS ───────────────────────────────────────────────────────────────────
	ttsProvider, err := reg.CreateTTS(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.TTS.Provider, err)
	}
	ttsFB := resilience.NewTTSFallback(ttsProvider, cfg.TTS.Provider, resilience.FallbackConfig{})
	ps.tts = ttsFB
	if cfg.TTS.ServerURL != "" {
		ps.checkers = append(ps.checkers, health.CheckHTTP("tts", cfg.TTS.ServerURL))
	}
	slog.Info("provider created", "kind", "tts", "name", cfg.TTS.Provider, "voice", cfg.TTS.Voice)

	// ── VAD scorer factory ────────────────────────────────────────────────────
	scorerFactory, err := reg.CreateScorerFactory(cfg.VAD, cfg.Audio.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("create vad scorer %q: %w", cfg.VAD.Provider, err)
	}
	ps.newScorer = scorerFactory
	if cfg.VAD.Provider == "silero" {
		ps.checkers = append(ps.checkers, health.CheckFile("vad-model", cfg.VAD.ModelPath))
	}

	// ── Wake-word ─────────────────────────────────────────────────────────────
	if cfg.Wakeword.Enabled {
		wakeCfg := cfg.Wakeword
		ps.wakeLoad = func(phrase string) (wakemodel.Classifier, error) {
			return reg.CreateWake("onnx", wakeCfg, phrase)
		}
		ps.checkers = append(ps.checkers, health.CheckFile("wake-model",
			filepath.Join(wakeCfg.ModelDir, wakeCfg.Phrase+".onnx")))
	}

	// ── Transcript correction ─────────────────────────────────────────────────
	if len(cfg.Vocabulary) > 0 {
		ps.corrector = transcript.NewPipeline(
			transcript.WithPhoneticMatcher(phonetic.New()),
			transcript.WithLLMCorrector(llmcorrect.New(ps.llm)),
		)
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	if cfg.Storage.PostgresDSN != "" {
		var embedder embeddings.Provider
		if cfg.Storage.Embeddings.Provider != "" {
			embedder, err = reg.CreateEmbeddings(cfg.Storage.Embeddings)
			if err != nil {
				return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Storage.Embeddings.Provider, err)
			}
		}
		store, err := pgstore.NewStore(ctx, cfg.Storage.PostgresDSN, embedder)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		ps.pg = store
		ps.conversations = store
		ps.memories = store
		ps.checkers = append(ps.checkers, health.CheckPinger("postgres", store))
		slog.Info("storage ready", "kind", "postgres", "semantic_search", embedder != nil)
	} else {
		mem := storage.NewMemStore()
		ps.conversations = mem
		ps.memories = mem
		slog.Info("storage ready", "kind", "memory")
	}

	return ps, nil
}

// ── Config mapping ────────────────────────────────────────────────────────────

func managerConfig(cfg *config.Config) session.ManagerConfig {
	return session.ManagerConfig{
		Session: sessionConfig(cfg),
		VAD:     cfg.VAD.DetectorConfig(cfg.Audio.SampleRate),
		Wake:    cfg.Wakeword.Settings(),
		Context: session.ContextManagerConfig{
			MaxMessages:              cfg.Context.MaxMessages,
			CompressThresholdPercent: cfg.Context.CompressThresholdPercent,
			KeepRecent:               cfg.Context.KeepRecent,
		},
		MaxSessions: cfg.Server.MaxSessions,
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		SampleRate:   cfg.Audio.SampleRate,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		SystemPrompt: cfg.LLM.SystemPrompt,
		GlobalRules:  cfg.LLM.GlobalRules,
		Voice:        cfg.TTS.Voice,
		Vocabulary:   cfg.Vocabulary,
		Chunker:      cfg.Sentencizer.ChunkerConfig(),
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        voicechat — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printBackend("STT", cfg.STT.Provider, cfg.STT.Model)
	printBackend("LLM", cfg.LLM.Provider, cfg.LLM.Model)
	printBackend("TTS", cfg.TTS.Provider, cfg.TTS.Voice)
	printBackend("VAD", cfg.VAD.Provider, "")
	if cfg.Wakeword.Enabled {
		printBackend("Wake word", "onnx", cfg.Wakeword.Phrase)
	} else {
		printBackend("Wake word", "", "")
	}
	if cfg.Storage.PostgresDSN != "" {
		printBackend("Storage", "postgres", cfg.Storage.Embeddings.Model)
	} else {
		printBackend("Storage", "memory", "")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr  : %-22s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printBackend(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(disabled)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	if len(value) > 22 {
		value = value[:19] + "…"
	}
	fmt.Printf("║  %-11s  : %-22s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
