package runtime

import (
	"context"
	"strings"
	"time"
)

// Permission modes forwarded to the tool loop.
const (
	PermissionAuto    = "auto"    // every permitted tool runs without asking
	PermissionApprove = "approve" // every tool call goes through OnToolPermission
)

// PermissionDecision is the answer to a tool permission callback.
type PermissionDecision struct {
	Allow  bool
	Reason string
}

// Request describes one logical runtime invocation. The call may
// internally stream several model turns and tool executions before
// producing a final Result.
type Request struct {
	Prompt         string
	SessionID      string // resume this session; empty starts a fresh one
	Model          string
	SystemPrompt   string
	Tools          []string
	PermissionMode string
	MaxTokens      int
	MaxTurns       int
	WorkingDir     string
	AddDirs        []string

	// OnToolStart fires once per tool invocation, before execution.
	OnToolStart func(name string, inputSummary string)

	// OnToolPermission is consulted before each tool call when
	// PermissionMode is PermissionApprove. A nil callback denies.
	OnToolPermission func(ctx context.Context, name string, input map[string]interface{}) PermissionDecision
}

// ToolCall records one tool invocation observed during a run.
type ToolCall struct {
	ID     string                 `json:"id"`
	Name   string                 `json:"name"`
	Input  map[string]interface{} `json:"input"`
	Denied bool                   `json:"denied,omitempty"`
}

// Usage tracks token consumption for a run.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Metadata summarizes a finished run.
type Metadata struct {
	Turns    int
	Duration time.Duration
	Usage    Usage
	CostUSD  float64
}

// Result is the final outcome of a runtime invocation.
type Result struct {
	Text      string
	SessionID string
	ToolCalls []ToolCall
	Metadata  Metadata
}

// retryable reports whether an API error is worth another attempt.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"429", "rate limit", "500", "502", "503", "504", "ECONNRESET", "ETIMEDOUT", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// summarizeInput renders a short human-readable view of a tool input
// for watch notifications.
func summarizeInput(input map[string]interface{}) string {
	for _, key := range []string{"command", "file_path", "path", "query", "url"} {
		if value, ok := input[key].(string); ok && value != "" {
			if len(value) > 120 {
				value = value[:120] + "…"
			}
			return value
		}
	}
	return ""
}
