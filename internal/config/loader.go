package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"ollama", "openai", "llamacpp"},
	"stt":        {"whisper", "whisper-native"},
	"tts":        {"kokoro"},
	"vad":        {"silero", "energy"},
	"embeddings": {"ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. Structural
// problems (bad enums, missing endpoints) are returned as a joined error;
// out-of-range tuning values are clamped into range with a warning so a
// typo'd threshold cannot take the assistant down.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxSessions < 1 {
		cfg.Server.MaxSessions = clampInt("server.max_sessions", cfg.Server.MaxSessions, 1, 64)
	}

	if cfg.Audio.SampleRate != 8000 && cfg.Audio.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is unsupported; the speech models accept 8000 or 16000", cfg.Audio.SampleRate))
	}

	validateProviderName("llm", cfg.LLM.Provider)
	validateProviderName("stt", cfg.STT.Provider)
	validateProviderName("tts", cfg.TTS.Provider)
	validateProviderName("vad", cfg.VAD.Provider)
	if cfg.Storage.Embeddings.Provider != "" {
		validateProviderName("embeddings", cfg.Storage.Embeddings.Provider)
	}

	cfg.VAD.Threshold = clampFloat("vad.threshold", cfg.VAD.Threshold, 0, 1)
	cfg.Wakeword.Threshold = clampFloat("wakeword.threshold", cfg.Wakeword.Threshold, 0, 1)
	cfg.LLM.Temperature = clampFloat("llm.temperature", cfg.LLM.Temperature, 0, 2)
	cfg.TTS.Speed = clampFloat("tts.speed", cfg.TTS.Speed, 0.5, 2.0)
	cfg.Context.CompressThresholdPercent = clampInt("context.compress_threshold_percent", cfg.Context.CompressThresholdPercent, 10, 95)
	cfg.Context.KeepRecent = clampInt("context.keep_recent", cfg.Context.KeepRecent, 2, 50)

	if cfg.Wakeword.Enabled && cfg.Wakeword.Phrase == "" {
		errs = append(errs, errors.New("wakeword.enabled is true but wakeword.phrase is empty"))
	}

	switch cfg.STT.Provider {
	case "whisper":
		if cfg.STT.ServerURL == "" {
			errs = append(errs, errors.New("stt.server_url is required for the whisper server provider"))
		}
	case "whisper-native":
		if cfg.STT.ModelPath == "" {
			errs = append(errs, errors.New("stt.model_path is required for the whisper-native provider"))
		}
	}
	if cfg.TTS.Provider == "kokoro" && cfg.TTS.ServerURL == "" {
		errs = append(errs, errors.New("tts.server_url is required for the kokoro provider"))
	}
	if cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required"))
	}

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; conversations and memories will not persist")
	}
	if cfg.Storage.Embeddings.Provider != "" && cfg.Storage.Embeddings.Dimensions <= 0 {
		errs = append(errs, errors.New("storage.embeddings.dimensions must be set to the model's vector width"))
	}

	return errors.Join(errs...)
}

// validateProviderName warns when a provider name is not in the known list.
// Unknown names are not fatal; a registry may carry custom registrations.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	valid := ValidProviderNames[kind]
	if !slices.Contains(valid, name) {
		slog.Warn("unrecognised provider name",
			"kind", kind,
			"name", name,
			"known", valid,
		)
	}
}

func clampFloat(field string, v, lo, hi float64) float64 {
	if v < lo || v > hi {
		clamped := min(max(v, lo), hi)
		slog.Warn("config value out of range, clamping",
			"field", field, "value", v, "min", lo, "max", hi, "clamped", clamped)
		return clamped
	}
	return v
}

func clampInt(field string, v, lo, hi int) int {
	if v < lo || v > hi {
		clamped := min(max(v, lo), hi)
		slog.Warn("config value out of range, clamping",
			"field", field, "value", v, "min", lo, "max", hi, "clamped", clamped)
		return clamped
	}
	return v
}
