package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader reads and writes the koro configuration file.
type Loader struct {
	configPath string
}

// NewLoader creates a loader. An empty path uses ~/.koro/koro.json.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

func (l *Loader) path() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".koro", "koro.json"), nil
}

// Load reads the configuration, layering KORO_* environment variables
// over the file. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.path()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("KORO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Credentials may come from the environment alone.
	if token := v.GetString("telegram.bot_token"); token != "" {
		cfg.Telegram.BotToken = token
	}
	if key := v.GetString("provider.anthropic_api_key"); key != "" {
		cfg.Provider.AnthropicAPIKey = key
	}
	if key := v.GetString("provider.openai_api_key"); key != "" {
		cfg.Provider.OpenAIAPIKey = key
	}
	if key := v.GetString("voice.elevenlabs_api_key"); key != "" {
		cfg.Voice.ElevenLabsAPIKey = key
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".koro")
	}
	if cfg.WorkspacePath == "" {
		cfg.WorkspacePath = filepath.Join(cfg.DataDir, "workspace")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "koro.log")
	}

	return cfg, nil
}

// Save writes the configuration to disk with restrictive permissions;
// the file carries credentials.
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(configPath, encoded, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Paths derived from the data directory.

// StateDBPath is the SQLite state database location.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// LegacyStatePath is the pre-relational flat-file state location.
func (c *Config) LegacyStatePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// TranscriptsDir is where conversation transcripts live.
func (c *Config) TranscriptsDir() string {
	return filepath.Join(c.DataDir, "transcripts")
}
