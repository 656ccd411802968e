package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only settings that
// are applied to running pipelines are tracked; everything else needs a
// restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PhrasesChanged is set when wake, exit or enrollment phrases changed.
	PhrasesChanged bool

	// LexiconChanged is set when homophones or phonetic matching changed.
	// Phrase changes also change the lexicon.
	LexiconChanged bool

	SystemPromptChanged bool

	CloudDisabledChanged bool

	// RestartRequired is set when providers, memory, wearable or listener
	// settings changed. Those are reported but not applied.
	RestartRequired bool
}

// Empty reports whether nothing that matters changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PhrasesChanged && !d.LexiconChanged &&
		!d.SystemPromptChanged && !d.CloudDisabledChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Pipeline, new.Pipeline
	if !slices.Equal(op.WakePhrases, np.WakePhrases) ||
		!slices.Equal(op.ExitPhrases, np.ExitPhrases) ||
		!slices.Equal(op.EnrollmentPhrases, np.EnrollmentPhrases) {
		d.PhrasesChanged = true
	}
	if d.PhrasesChanged || !maps.Equal(op.Homophones, np.Homophones) || op.PhoneticMatching != np.PhoneticMatching {
		d.LexiconChanged = true
	}
	if op.SystemPrompt != np.SystemPrompt {
		d.SystemPromptChanged = true
	}
	if op.Cloud.Disabled != np.Cloud.Disabled {
		d.CloudDisabledChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr ||
		!providersEqual(old.Providers, new.Providers) ||
		old.Memory != new.Memory ||
		old.Wearable != new.Wearable {
		d.RestartRequired = true
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	pairs := [][2]ProviderEntry{
		{a.LLM, b.LLM}, {a.LLMFallback, b.LLMFallback},
		{a.STTLocal, b.STTLocal}, {a.STTCloud, b.STTCloud},
		{a.TTSCloud, b.TTSCloud}, {a.TTSLocal, b.TTSLocal},
		{a.VAD, b.VAD}, {a.Embeddings, b.Embeddings},
	}
	for _, p := range pairs {
		if !entryEqual(p[0], p[1]) {
			return false
		}
	}
	return true
}

func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) == 0 && len(b.Options) == 0 {
		return true
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
