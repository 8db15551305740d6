// Package runtime drives agentic model runs: a provider abstraction
// over Anthropic and OpenAI chat APIs, a tool loop behind a permission
// gate, and JSONL transcripts giving sessions resume semantics.
//
// Invariants:
// - Tool execution in approve mode blocks on the permission callback;
//   a missing callback denies.
// - File tools never escape the run's allowed directories.
// - Transcripts are append-only; a corrupt line is skipped, not fatal.
//
// Usage:
//
//	runner, _ := runtime.NewRunner(runtime.RunnerConfig{
//		Provider:    provider,
//		Transcripts: transcripts,
//	})
//	result, _ := runner.Run(ctx, runtime.Request{Prompt: "hello"})
//	_ = result
package runtime
