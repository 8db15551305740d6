package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Wizard collects the configuration interactively.
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading from stdin.
func NewWizard() *Wizard {
	return &Wizard{reader: bufio.NewReader(os.Stdin), out: os.Stdout}
}

// NewWizardWithIO creates a wizard with injected streams for tests.
func NewWizardWithIO(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{reader: bufio.NewReader(in), out: out}
}

// Run walks through the required settings and returns the resulting
// configuration.
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== Koro Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()

	token, err := w.prompt("Telegram bot token: ")
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	cfg.Telegram.BotToken = token

	allowlist, err := w.prompt("Allowed Telegram user IDs (comma separated, Enter for everyone): ")
	if err != nil {
		return nil, err
	}
	if allowlist != "" {
		for _, field := range strings.Split(allowlist, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user id %q", strings.TrimSpace(field))
			}
			cfg.Telegram.Allowlist = append(cfg.Telegram.Allowlist, id)
		}
	}

	provider, err := w.prompt("Model provider [anthropic/openai] (Enter for anthropic): ")
	if err != nil {
		return nil, err
	}
	if provider != "" {
		if provider != "anthropic" && provider != "openai" {
			return nil, fmt.Errorf("unsupported provider: %s", provider)
		}
		cfg.Provider.Name = provider
	}

	key, err := w.prompt(fmt.Sprintf("%s API key: ", cfg.Provider.Name))
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Provider.Name)
	}
	if cfg.Provider.Name == "openai" {
		cfg.Provider.OpenAIAPIKey = key
	} else {
		cfg.Provider.AnthropicAPIKey = key
	}

	voiceKey, err := w.prompt("ElevenLabs API key (Enter to skip voice features): ")
	if err != nil {
		return nil, err
	}
	cfg.Voice.ElevenLabsAPIKey = voiceKey

	return cfg, nil
}

func (w *Wizard) prompt(label string) (string, error) {
	fmt.Fprint(w.out, label)
	line, err := w.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
