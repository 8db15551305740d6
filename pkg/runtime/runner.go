package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultModel is used when neither settings nor overlay pick one.
	DefaultModel = "claude-sonnet-4-5"

	defaultMaxTokens = 4096
	defaultMaxTurns  = 10
	defaultRetries   = 3
)

// Runtime is the single logical call the orchestrator depends on.
type Runtime interface {
	Run(ctx context.Context, req Request) (Result, error)
}

// Runner drives the model conversation loop: it feeds transcript
// history to the provider, executes proposed tool calls behind the
// permission gate, and persists the exchange.
type Runner struct {
	provider    Provider
	toolbox     *Toolbox
	transcripts *Transcripts
	logger      zerolog.Logger
	retries     int
}

// RunnerConfig wires a Runner.
type RunnerConfig struct {
	Provider    Provider
	Toolbox     *Toolbox
	Transcripts *Transcripts
	Logger      zerolog.Logger
	Retries     int
}

// NewRunner creates a runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Transcripts == nil {
		return nil, fmt.Errorf("transcript store is required")
	}
	toolbox := cfg.Toolbox
	if toolbox == nil {
		toolbox = NewToolbox()
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Runner{
		provider:    cfg.Provider,
		toolbox:     toolbox,
		transcripts: cfg.Transcripts,
		logger:      cfg.Logger.With().Str("component", "runtime").Logger(),
		retries:     retries,
	}, nil
}

// Run executes one logical invocation. It resumes req.SessionID when
// set, otherwise starts a fresh session and reports its id in the
// Result.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := r.logger.With().Str("session_id", sessionID).Logger()

	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	tools, err := r.toolbox.Select(req.Tools)
	if err != nil {
		return Result{}, err
	}

	history, err := r.transcripts.Load(sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load transcript: %w", err)
	}

	messages := append(history, Message{Role: "user", Content: req.Prompt})
	if err := r.transcripts.Append(sessionID, Message{Role: "user", Content: req.Prompt}); err != nil {
		return Result{}, fmt.Errorf("failed to persist user message: %w", err)
	}

	execContext := ExecContext{
		WorkingDir:  req.WorkingDir,
		AllowedDirs: allowedDirs(req),
		Timeout:     30 * time.Second,
	}

	var (
		allToolCalls []ToolCall
		usage        Usage
		finalText    string
		turns        int
	)

	for turns = 1; turns <= maxTurns; turns++ {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		default:
		}

		response, err := r.callWithRetry(ctx, ProviderRequest{
			Model:        model,
			SystemPrompt: req.SystemPrompt,
			Messages:     messages,
			Tools:        tools,
			MaxTokens:    maxTokens,
		})
		if err != nil {
			return Result{}, err
		}
		usage.InputTokens += response.Usage.InputTokens
		usage.OutputTokens += response.Usage.OutputTokens

		if len(response.ToolCalls) == 0 {
			finalText = response.Content
			break
		}

		messages = append(messages, Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, call := range response.ToolCalls {
			output, denied := r.executeToolCall(ctx, req, call, execContext, logger)
			call.Denied = denied
			allToolCalls = append(allToolCalls, call)
			messages = append(messages, Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	if finalText == "" && turns > maxTurns {
		return Result{}, fmt.Errorf("maximum tool execution turns exceeded")
	}

	if err := r.transcripts.Append(sessionID, Message{Role: "assistant", Content: finalText}); err != nil {
		logger.Error().Err(err).Msg("failed to persist assistant message")
	}

	duration := time.Since(start)
	logger.Info().
		Int("turns", turns).
		Int("tool_calls", len(allToolCalls)).
		Dur("duration", duration).
		Msg("run finished")

	return Result{
		Text:      finalText,
		SessionID: sessionID,
		ToolCalls: allToolCalls,
		Metadata: Metadata{
			Turns:    turns,
			Duration: duration,
			Usage:    usage,
			CostUSD:  estimateCost(usage),
		},
	}, nil
}

// executeToolCall runs one proposed tool call behind the permission
// gate and returns the output fed back to the model.
func (r *Runner) executeToolCall(ctx context.Context, req Request, call ToolCall, ec ExecContext, logger zerolog.Logger) (string, bool) {
	if req.PermissionMode == PermissionApprove {
		decision := PermissionDecision{Allow: false, Reason: "No approval channel available"}
		if req.OnToolPermission != nil {
			decision = req.OnToolPermission(ctx, call.Name, call.Input)
		}
		if !decision.Allow {
			reason := decision.Reason
			if reason == "" {
				reason = "denied"
			}
			logger.Info().Str("tool", call.Name).Str("reason", reason).Msg("tool call denied")
			return fmt.Sprintf("Permission denied: %s", reason), true
		}
	}

	if req.OnToolStart != nil {
		req.OnToolStart(call.Name, summarizeInput(call.Input))
	}

	def, ok := r.toolbox.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %s", call.Name), false
	}

	output, err := def.Run(ctx, call.Input, ec)
	if err != nil {
		logger.Warn().Str("tool", call.Name).Err(err).Msg("tool execution failed")
		return fmt.Sprintf("Error: %v", err), false
	}
	return output, false
}

// callWithRetry retries transient provider failures with exponential
// backoff (1s, 2s, 4s).
func (r *Runner) callWithRetry(ctx context.Context, req ProviderRequest) (*ProviderResponse, error) {
	var lastErr error
	for attempt := 0; attempt < r.retries; attempt++ {
		response, err := r.provider.Call(ctx, req)
		if err == nil {
			return response, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
		if attempt == r.retries-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		r.logger.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying after provider error")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("max retries (%d) exceeded: %w", r.retries, lastErr)
}

func allowedDirs(req Request) []string {
	if len(req.AddDirs) == 0 {
		return nil
	}
	dirs := make([]string, 0, len(req.AddDirs)+1)
	if req.WorkingDir != "" {
		dirs = append(dirs, req.WorkingDir)
	}
	dirs = append(dirs, req.AddDirs...)
	return dirs
}

// estimateCost converts token usage to an approximate dollar figure.
func estimateCost(usage Usage) float64 {
	const (
		inputPerMTok  = 3.0
		outputPerMTok = 15.0
	)
	return float64(usage.InputTokens)/1e6*inputPerMTok + float64(usage.OutputTokens)/1e6*outputPerMTok
}

// InputSummaryForLog is used by transports to render a compact view of
// a tool input in watch notifications.
func InputSummaryForLog(input map[string]interface{}) string {
	summary := summarizeInput(input)
	if summary == "" {
		return "(no arguments)"
	}
	return strings.TrimSpace(summary)
}
