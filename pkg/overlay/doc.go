// Package overlay loads the per-workspace configuration overlay that
// shapes runtime behavior: model choice, permission mode, tool
// allow/deny lists, MCP servers, sub-agents, hooks, and sandbox
// directories.
//
// Invariants:
// - A missing overlay file is an empty overlay, not an error.
// - Relative paths in the document resolve against the workspace root.
// - A failed reload keeps the previously cached overlay.
//
// Usage:
//
//	loader := overlay.NewLoader("/srv/workspace")
//	cfg, _ := loader.Load()
//	_ = cfg.ToolAllowed("Bash")
package overlay
