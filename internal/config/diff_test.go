package config_test

import (
	"testing"

	"github.com/MrWong99/earshot/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	base := func() *config.Config {
		cfg := loadSample(t)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		check  func(t *testing.T, d config.ConfigDiff)
	}{
		{
			name:   "identical",
			mutate: func(*config.Config) {},
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.Empty() {
					t.Errorf("diff = %+v, want empty", d)
				}
			},
		},
		{
			name:   "wake phrase",
			mutate: func(c *config.Config) { c.Pipeline.WakePhrases = []string{"ok earshot"} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.PhrasesChanged || !d.LexiconChanged || d.RestartRequired {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "homophones only",
			mutate: func(c *config.Config) { c.Pipeline.Homophones = map[string]string{"ear shot": "earshot"} },
			check: func(t *testing.T, d config.ConfigDiff) {
				if d.PhrasesChanged || !d.LexiconChanged {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "system prompt",
			mutate: func(c *config.Config) { c.Pipeline.SystemPrompt = "Be brief." },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.SystemPromptChanged || d.RestartRequired {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "cloud switch",
			mutate: func(c *config.Config) { c.Pipeline.Cloud.Disabled = true },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.CloudDisabledChanged {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogWarn },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
					t.Errorf("diff = %+v", d)
				}
			},
		},
		{
			name:   "provider option",
			mutate: func(c *config.Config) { c.Providers.TTSCloud.Options["voice_id"] = "adam" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.RestartRequired {
					t.Errorf("diff = %+v, want restart", d)
				}
			},
		},
		{
			name:   "memory dsn",
			mutate: func(c *config.Config) { c.Memory.PostgresDSN = "" },
			check: func(t *testing.T, d config.ConfigDiff) {
				if !d.RestartRequired {
					t.Errorf("diff = %+v, want restart", d)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old, new := base(), base()
			tt.mutate(new)
			tt.check(t, config.Diff(old, new))
		})
	}
}
