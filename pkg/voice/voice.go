package voice

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConfigured is returned when no speech credentials are set.
// Callers treat it as "voice features unavailable", not as a failure.
var ErrNotConfigured = errors.New("voice engine not configured")

// TranscriptionError wraps a speech-to-text failure. It is never
// silently converted into empty text.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// Engine converts between speech and text.
type Engine interface {
	// Transcribe converts audio to text. languageHint may be empty.
	Transcribe(ctx context.Context, audio []byte, languageHint string) (string, error)

	// Synthesize renders text as audio at the given playback speed.
	Synthesize(ctx context.Context, text string, speed float64) ([]byte, error)
}
