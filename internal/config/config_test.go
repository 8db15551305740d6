package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Telegram.BotToken = "123456789:token"
	cfg.Provider.AnthropicAPIKey = "key"
	return cfg
}

func TestConfig_ValidateDefaultsWithCredentials(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_ValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing bot token", func(c *Config) { c.Telegram.BotToken = "" }, "bot_token"},
		{"missing provider key", func(c *Config) { c.Provider.AnthropicAPIKey = "" }, "anthropic_api_key"},
		{"unknown provider", func(c *Config) { c.Provider.Name = "bedrock" }, "unsupported provider"},
		{"zero per-minute limit", func(c *Config) { c.RateLimit.PerMinute = 0 }, "per_minute"},
		{"zero session cap", func(c *Config) { c.Sessions.Max = 0 }, "sessions.max"},
		{"api without secret", func(c *Config) { c.API.Enabled = true }, "shared_secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoader_MissingFileYieldsDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "koro.json"))

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.Provider.Name)
	assert.Equal(t, 50, cfg.RateLimit.PerMinute)
	assert.NotEmpty(t, cfg.DataDir)
}

func TestLoader_ReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "koro.json")
	content := `{
		"telegram": {"bot_token": "tok", "allowlist": [42]},
		"provider": {"name": "openai", "openai_api_key": "ok"},
		"rate_limit": {"cooldown_ms": 1000, "per_minute": 20},
		"data_dir": "/tmp/koro-test"
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "tok", cfg.Telegram.BotToken)
	assert.Equal(t, []int64{42}, cfg.Telegram.Allowlist)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.Equal(t, "ok", cfg.ProviderAPIKey())
	assert.Equal(t, 20, cfg.RateLimit.PerMinute)
	assert.Equal(t, "/tmp/koro-test/state.db", cfg.StateDBPath())
	assert.Equal(t, "/tmp/koro-test/transcripts", cfg.TranscriptsDir())
}

func TestLoader_EnvOverridesCredentials(t *testing.T) {
	t.Setenv("KORO_TELEGRAM_BOT_TOKEN", "env-token")

	loader := NewLoader(filepath.Join(t.TempDir(), "koro.json"))
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Telegram.BotToken)
}

func TestLoader_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "koro.json")
	loader := NewLoader(path)

	cfg := validConfig()
	cfg.Sessions.Max = 5
	require.NoError(t, loader.Save(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Sessions.Max)
	assert.Equal(t, cfg.Telegram.BotToken, loaded.Telegram.BotToken)
}
