// Package approval mediates tool-call approvals between the runtime
// callback that waits and the chat handler that resolves.
//
// Invariants:
// - Only the original requester can resolve an approval.
// - Timeouts and evictions surface as denials, never as errors.
// - Decision delivery never blocks: each record carries a buffered
//   channel and a resolved record rejects further resolutions.
//
// Usage:
//
//	coord := approval.NewCoordinator()
//	handle, _ := coord.Submit("Bash", input, "42")
//	decision := handle.Wait(ctx)
//	_ = decision
package approval
