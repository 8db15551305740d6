// Package brain is the orchestrator between chat transport, speech
// engine, state store, and agent runtime.
//
// Invariants:
// - Settings merge three levels in order: stored, workspace overlay,
//   per-call overrides.
// - A session is persisted as current only after a successful run.
// - Synthesis failure never discards the text response.
// - Transcription failure aborts the pipeline; audio is never silently
//   treated as empty text.
//
// Usage:
//
//	b, _ := brain.New(brain.Config{Store: store, Approvals: coord, Runtime: runner})
//	resp, _ := b.Process(ctx, brain.Input{UserID: "42", Text: "hello"})
//	_ = resp
package brain
