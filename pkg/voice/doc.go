// Package voice provides speech-to-text and text-to-speech through an
// ElevenLabs-backed engine.
//
// Invariants:
// - Synthesis speed is validated against [0.7, 1.2] before any network
//   call.
// - Transcription failures carry a typed TranscriptionError; callers
//   never receive empty text as a fallback.
//
// Usage:
//
//	engine := voice.NewElevenLabs(apiKey)
//	text, _ := engine.Transcribe(ctx, audio, "en")
//	_ = text
package voice
