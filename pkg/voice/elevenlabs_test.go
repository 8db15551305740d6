package voice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koromind/koro/pkg/state"
)

func TestElevenLabs_NotConfigured(t *testing.T) {
	engine := NewElevenLabs("")

	_, err := engine.Transcribe(context.Background(), []byte("audio"), "")
	assert.ErrorIs(t, err, ErrNotConfigured)

	_, err = engine.Synthesize(context.Background(), "hello", 1.0)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestElevenLabs_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/speech-to-text", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("xi-api-key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, sttModelID, r.FormValue("model_id"))
		assert.Equal(t, "id", r.FormValue("language_code"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "halo dunia"}`))
	}))
	defer server.Close()

	engine := NewElevenLabs("test-key", WithBaseURL(server.URL))
	text, err := engine.Transcribe(context.Background(), []byte("fake-ogg"), "id")
	require.NoError(t, err)
	assert.Equal(t, "halo dunia", text)
}

func TestElevenLabs_TranscribeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	engine := NewElevenLabs("test-key", WithBaseURL(server.URL))
	_, err := engine.Transcribe(context.Background(), []byte("audio"), "")

	var transcriptionErr *TranscriptionError
	require.True(t, errors.As(err, &transcriptionErr))
	assert.Contains(t, transcriptionErr.Error(), "429")
}

func TestElevenLabs_Synthesize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/text-to-speech/voice-7", r.URL.Path)
		w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	engine := NewElevenLabs("test-key", WithBaseURL(server.URL), WithVoiceID("voice-7"))
	audio, err := engine.Synthesize(context.Background(), "hello", 1.1)
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3-bytes"), audio)
}

func TestElevenLabs_SynthesizeSpeedBounds(t *testing.T) {
	engine := NewElevenLabs("test-key")

	for _, speed := range []float64{0.5, 1.3} {
		_, err := engine.Synthesize(context.Background(), "hello", speed)
		var validationErr *state.ValidationError
		require.True(t, errors.As(err, &validationErr), "speed %.1f must be rejected", speed)
	}

	// Bounds themselves are accepted (no network call succeeds against
	// the real endpoint, so only the validation layer is exercised).
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	bounded := NewElevenLabs("test-key", WithBaseURL(server.URL))
	for _, speed := range []float64{0.7, 1.2} {
		_, err := bounded.Synthesize(context.Background(), "hello", speed)
		require.NoError(t, err)
	}
}
