package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/koromind/koro/pkg/state"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

	sttModelID = "scribe_v1"
	ttsModelID = "eleven_multilingual_v2"
)

// ElevenLabs implements Engine against the ElevenLabs HTTP API.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// ElevenLabsOption configures the engine.
type ElevenLabsOption func(*ElevenLabs)

// WithVoiceID overrides the synthesis voice.
func WithVoiceID(id string) ElevenLabsOption {
	return func(e *ElevenLabs) { e.voiceID = id }
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) ElevenLabsOption {
	return func(e *ElevenLabs) { e.baseURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ElevenLabsOption {
	return func(e *ElevenLabs) { e.client = client }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) ElevenLabsOption {
	return func(e *ElevenLabs) { e.logger = logger.With().Str("component", "voice").Logger() }
}

// NewElevenLabs creates the engine. An empty apiKey is allowed; calls
// then fail with ErrNotConfigured so the caller can degrade to
// text-only behavior.
func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) *ElevenLabs {
	e := &ElevenLabs{
		apiKey:  apiKey,
		voiceID: defaultVoiceID,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Configured reports whether credentials are present.
func (e *ElevenLabs) Configured() bool {
	return e.apiKey != ""
}

// Transcribe converts voice-note audio to text.
func (e *ElevenLabs) Transcribe(ctx context.Context, audio []byte, languageHint string) (string, error) {
	if !e.Configured() {
		return "", ErrNotConfigured
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "audio.ogg")
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	if _, err := part.Write(audio); err != nil {
		return "", &TranscriptionError{Err: err}
	}
	if err := writer.WriteField("model_id", sttModelID); err != nil {
		return "", &TranscriptionError{Err: err}
	}
	if languageHint != "" {
		if err := writer.WriteField("language_code", languageHint); err != nil {
			return "", &TranscriptionError{Err: err}
		}
	}
	if err := writer.Close(); err != nil {
		return "", &TranscriptionError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return "", &TranscriptionError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &TranscriptionError{Err: apiError(resp)}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &TranscriptionError{Err: err}
	}

	e.logger.Debug().Int("audio_bytes", len(audio)).Int("text_len", len(result.Text)).Msg("transcribed voice note")
	return result.Text, nil
}

// Synthesize renders text as audio. speed outside the accepted bounds
// is rejected before any network call.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string, speed float64) ([]byte, error) {
	if !e.Configured() {
		return nil, ErrNotConfigured
	}
	if speed < state.MinVoiceSpeed || speed > state.MaxVoiceSpeed {
		return nil, &state.ValidationError{
			Field:   "voice_speed",
			Message: fmt.Sprintf("must be between %.1f and %.1f", state.MinVoiceSpeed, state.MaxVoiceSpeed),
		}
	}

	payload := map[string]interface{}{
		"text":     text,
		"model_id": ttsModelID,
		"voice_settings": map[string]interface{}{
			"speed": speed,
		},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode synthesis request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s", e.baseURL, e.voiceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read synthesis response: %w", err)
	}

	e.logger.Debug().Int("text_len", len(text)).Int("audio_bytes", len(audio)).Msg("synthesized speech")
	return audio, nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("elevenlabs API returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}
