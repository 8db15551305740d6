// Package state persists per-user settings and sessions in SQLite.
//
// Invariants:
// - At most one session per user carries the current flag.
// - Settings updates are partial and applied in a single transaction.
// - Session count per user never exceeds the configured cap; the
//   least-recently-active sessions are evicted first.
// - The legacy JSON import runs at most once, guarded by a marker row.
//
// Usage:
//
//	store, _ := state.NewStore("/tmp/koro/state.db")
//	settings, _ := store.GetOrCreateSettings("42")
//	_ = settings
package state
