package config

import (
	"fmt"

	"github.com/koromind/koro/pkg/approval"
	"github.com/koromind/koro/pkg/ratelimit"
	"github.com/koromind/koro/pkg/state"
)

// Config is the main koro configuration.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram" mapstructure:"telegram"`
	Provider  ProviderConfig  `json:"provider" mapstructure:"provider"`
	Voice     VoiceConfig     `json:"voice" mapstructure:"voice"`
	RateLimit RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`
	Sessions  SessionsConfig  `json:"sessions" mapstructure:"sessions"`
	Approvals ApprovalsConfig `json:"approvals" mapstructure:"approvals"`
	API       APIConfig       `json:"api" mapstructure:"api"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`

	// DataDir holds the state database, transcripts, and logs.
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// WorkspacePath is the directory the runtime's tools operate in.
	// It is also the overlay root.
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// TelegramConfig holds bot credentials and access policy.
type TelegramConfig struct {
	BotToken  string  `json:"bot_token" mapstructure:"bot_token"`
	Allowlist []int64 `json:"allowlist" mapstructure:"allowlist"`
}

// ProviderConfig selects and authenticates the model backend.
type ProviderConfig struct {
	Name            string `json:"name" mapstructure:"name"` // anthropic, openai
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	SystemPrompt    string `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTurns        int    `json:"max_turns" mapstructure:"max_turns"`
}

// VoiceConfig holds speech provider credentials.
type VoiceConfig struct {
	ElevenLabsAPIKey string `json:"elevenlabs_api_key" mapstructure:"elevenlabs_api_key"`
	VoiceID          string `json:"voice_id" mapstructure:"voice_id"`
}

// RateLimitConfig tunes per-user throttling.
type RateLimitConfig struct {
	CooldownMS int `json:"cooldown_ms" mapstructure:"cooldown_ms"`
	PerMinute  int `json:"per_minute" mapstructure:"per_minute"`
}

// SessionsConfig tunes session retention.
type SessionsConfig struct {
	Max int `json:"max" mapstructure:"max"`
}

// ApprovalsConfig tunes the approval coordinator.
type ApprovalsConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxPending     int `json:"max_pending" mapstructure:"max_pending"`
}

// APIConfig configures the local HTTP API.
type APIConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSizeMB int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Name:     "anthropic",
			MaxTurns: 10,
		},
		RateLimit: RateLimitConfig{
			CooldownMS: int(ratelimit.DefaultCooldown.Milliseconds()),
			PerMinute:  ratelimit.DefaultPerMinuteLimit,
		},
		Sessions: SessionsConfig{
			Max: state.DefaultMaxSessions,
		},
		Approvals: ApprovalsConfig{
			TimeoutSeconds: int(approval.DefaultTimeout.Seconds()),
			MaxPending:     approval.DefaultMaxPending,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8787,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 50,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// Validate checks the configuration for values that would fail at
// startup.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}
	switch c.Provider.Name {
	case "anthropic":
		if c.Provider.AnthropicAPIKey == "" {
			return fmt.Errorf("provider.anthropic_api_key is required for the anthropic provider")
		}
	case "openai":
		if c.Provider.OpenAIAPIKey == "" {
			return fmt.Errorf("provider.openai_api_key is required for the openai provider")
		}
	default:
		return fmt.Errorf("unsupported provider: %s", c.Provider.Name)
	}
	if c.RateLimit.CooldownMS < 0 {
		return fmt.Errorf("rate_limit.cooldown_ms cannot be negative")
	}
	if c.RateLimit.PerMinute <= 0 {
		return fmt.Errorf("rate_limit.per_minute must be positive")
	}
	if c.Sessions.Max <= 0 {
		return fmt.Errorf("sessions.max must be positive")
	}
	if c.Approvals.TimeoutSeconds <= 0 {
		return fmt.Errorf("approvals.timeout_seconds must be positive")
	}
	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return fmt.Errorf("api.port must be a valid port")
		}
		if c.API.SharedSecret == "" {
			return fmt.Errorf("api.shared_secret is required when the API is enabled")
		}
	}
	return nil
}

// ProviderAPIKey returns the key for the configured provider.
func (c *Config) ProviderAPIKey() string {
	if c.Provider.Name == "openai" {
		return c.Provider.OpenAIAPIKey
	}
	return c.Provider.AnthropicAPIKey
}
