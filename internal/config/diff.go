package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied to running sessions without a restart are tracked; anything
// else (provider endpoints, storage DSN, audio format) needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WakewordChanged covers every field feeding [WakewordConfig.Settings];
	// running gates pick the new settings up via UpdateSettings.
	WakewordChanged bool

	// TuningChanged covers LLM sampling and prompt fields applied on the
	// next turn (temperature, max_tokens, system_prompt, global_rules).
	TuningChanged bool

	// VoiceChanged means the default TTS voice or speed changed.
	VoiceChanged bool

	// VocabularyChanged means the corrector term list changed.
	VocabularyChanged bool
}

// Any reports whether the diff contains at least one hot-reloadable change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.WakewordChanged || d.TuningChanged ||
		d.VoiceChanged || d.VocabularyChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Wakeword != new.Wakeword {
		d.WakewordChanged = true
	}

	if old.LLM.Temperature != new.LLM.Temperature ||
		old.LLM.MaxTokens != new.LLM.MaxTokens ||
		old.LLM.SystemPrompt != new.LLM.SystemPrompt ||
		old.LLM.GlobalRules != new.LLM.GlobalRules {
		d.TuningChanged = true
	}

	if old.TTS.Voice != new.TTS.Voice || old.TTS.Speed != new.TTS.Speed {
		d.VoiceChanged = true
	}

	if !slices.Equal(old.Vocabulary, new.Vocabulary) {
		d.VocabularyChanged = true
	}

	return d
}
