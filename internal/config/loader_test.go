package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rg1989/local-ai-voice-chat/internal/config"
)

func TestValidate_ClampsOutOfRangeTuning(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.VAD.Threshold = 1.4
	cfg.LLM.Temperature = -1
	cfg.TTS.Speed = 9
	cfg.Context.CompressThresholdPercent = 99
	cfg.Context.KeepRecent = 0

	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.VAD.Threshold != 1 {
		t.Errorf("VAD.Threshold = %v, want clamped to 1", cfg.VAD.Threshold)
	}
	if cfg.LLM.Temperature != 0 {
		t.Errorf("LLM.Temperature = %v, want clamped to 0", cfg.LLM.Temperature)
	}
	if cfg.TTS.Speed != 2.0 {
		t.Errorf("TTS.Speed = %v, want clamped to 2.0", cfg.TTS.Speed)
	}
	if cfg.Context.CompressThresholdPercent != 95 {
		t.Errorf("CompressThresholdPercent = %d, want clamped to 95", cfg.Context.CompressThresholdPercent)
	}
	if cfg.Context.KeepRecent != 2 {
		t.Errorf("KeepRecent = %d, want clamped to 2", cfg.Context.KeepRecent)
	}
}

func TestValidate_BadLogLevel(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Server.LogLevel = "verbose"
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "log_level") {
		t.Fatalf("error = %v, want log_level message", err)
	}
}

func TestValidate_UnsupportedSampleRate(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Audio.SampleRate = 44100
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "sample_rate") {
		t.Fatalf("error = %v, want sample_rate message", err)
	}
}

func TestValidate_WakewordWithoutPhrase(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Wakeword.Enabled = true
	cfg.Wakeword.Phrase = ""
	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "wakeword.phrase") {
		t.Fatalf("error = %v, want wakeword.phrase message", err)
	}
}

func TestValidate_MissingBackendEndpoints(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"whisper server url", func(c *config.Config) { c.STT.ServerURL = "" }, "stt.server_url"},
		{"whisper-native model path", func(c *config.Config) {
			c.STT.Provider = "whisper-native"
			c.STT.ModelPath = ""
		}, "stt.model_path"},
		{"kokoro server url", func(c *config.Config) { c.TTS.ServerURL = "" }, "tts.server_url"},
		{"llm model", func(c *config.Config) { c.LLM.Model = "" }, "llm.model"},
		{"embedding dims", func(c *config.Config) {
			c.Storage.Embeddings.Provider = "ollama"
			c.Storage.Embeddings.Dimensions = 0
		}, "dimensions"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want %q", err, tc.want)
			}
		})
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Server.LogLevel = "loud"
	cfg.LLM.Model = ""
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	msg := err.Error()
	if !strings.Contains(msg, "log_level") || !strings.Contains(msg, "llm.model") {
		t.Errorf("joined error missing parts: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Model != "qwen3:8b" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
}
