package brain

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/koromind/koro/pkg/approval"
	"github.com/koromind/koro/pkg/overlay"
	"github.com/koromind/koro/pkg/runtime"
	"github.com/koromind/koro/pkg/state"
	"github.com/koromind/koro/pkg/voice"
)

// Input is one inbound user message. Audio takes precedence over Text:
// when set, it is transcribed first and Text is ignored.
type Input struct {
	UserID    string
	Text      string
	Audio     []byte
	SessionID string
	Overrides Overrides

	// OnToolStart receives watch notifications while the runtime works.
	// Only fired when the merged watch flag is on.
	OnToolStart func(name, inputSummary string)

	// OnApprovalRequest tells the transport to ask the user about a
	// pending tool call. Only fired in approval mode.
	OnApprovalRequest func(approvalID, toolName, inputSummary string)
}

// Response is the structured outcome returned to the transport.
type Response struct {
	Text            string
	Audio           []byte
	SessionID       string
	TranscribedText string
	ToolCalls       []runtime.ToolCall
	Metadata        runtime.Metadata
}

// Config wires a Brain.
type Config struct {
	Store      *state.Store
	Approvals  *approval.Coordinator
	Overlay    *overlay.Loader
	Voice      voice.Engine
	Runtime    runtime.Runtime
	Logger     zerolog.Logger
	WorkingDir string
	BaseTools  []string
	System     string
	MaxTurns   int
}

// Brain composes the state store, approval coordinator, overlay loader,
// speech engine, and agent runtime into one message pipeline.
type Brain struct {
	store      *state.Store
	approvals  *approval.Coordinator
	overlay    *overlay.Loader
	voice      voice.Engine
	runtime    runtime.Runtime
	logger     zerolog.Logger
	workingDir string
	baseTools  []string
	system     string
	maxTurns   int
}

// DefaultBaseTools is the tool set offered to the runtime before the
// overlay's allow/deny lists are applied.
var DefaultBaseTools = []string{"Read", "Write", "List", "Bash"}

// New creates a Brain.
func New(cfg Config) (*Brain, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if cfg.Approvals == nil {
		return nil, fmt.Errorf("approval coordinator is required")
	}
	baseTools := cfg.BaseTools
	if len(baseTools) == 0 {
		baseTools = DefaultBaseTools
	}
	return &Brain{
		store:      cfg.Store,
		approvals:  cfg.Approvals,
		overlay:    cfg.Overlay,
		voice:      cfg.Voice,
		runtime:    cfg.Runtime,
		logger:     cfg.Logger.With().Str("component", "brain").Logger(),
		workingDir: cfg.WorkingDir,
		baseTools:  baseTools,
		system:     cfg.System,
		maxTurns:   cfg.MaxTurns,
	}, nil
}

// Process runs one inbound message through the full pipeline:
// transcription, session resolution, settings merge, runtime
// invocation, session persistence, and optional speech synthesis.
func (b *Brain) Process(ctx context.Context, input Input) (Response, error) {
	logger := b.logger.With().Str("user_id", input.UserID).Logger()

	settings, err := b.store.GetOrCreateSettings(input.UserID)
	if err != nil {
		return Response{}, err
	}

	text := input.Text
	var transcribed string
	if len(input.Audio) > 0 {
		transcribed, err = b.transcribe(ctx, input.Audio, settings.Language)
		if err != nil {
			return Response{}, err
		}
		text = transcribed
	}

	sessionID := input.SessionID
	if sessionID == "" {
		if current, ok, err := b.store.GetCurrentSession(input.UserID); err != nil {
			return Response{}, err
		} else if ok {
			sessionID = current.ID
		}
	}

	ov, err := b.loadOverlay()
	if err != nil {
		return Response{}, err
	}

	merged := mergeSettings(settings, ov, input.Overrides, b.baseTools)

	req := runtime.Request{
		Prompt:         text,
		SessionID:      sessionID,
		Model:          merged.Model,
		SystemPrompt:   b.system,
		Tools:          merged.Tools,
		PermissionMode: permissionMode(merged.Mode),
		MaxTurns:       b.maxTurns,
		WorkingDir:     b.workingDir,
		AddDirs:        merged.AddDirs,
	}
	if merged.WatchEnabled && input.OnToolStart != nil {
		req.OnToolStart = input.OnToolStart
	}
	if req.PermissionMode == runtime.PermissionApprove {
		req.OnToolPermission = b.permissionCallback(input)
	}

	result, err := b.runtime.Run(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("runtime invocation failed")
		return Response{}, &RuntimeInvocationError{Err: err}
	}

	// Only a successful run moves the current-session pointer.
	sessionName := settings.PendingSessionName
	if _, err := b.store.UpdateSession(input.UserID, result.SessionID, sessionName); err != nil {
		logger.Error().Err(err).Msg("failed to persist session")
	} else if sessionName != "" {
		empty := ""
		if _, err := b.store.UpdateSettings(input.UserID, state.SettingsUpdate{PendingSessionName: &empty}); err != nil {
			logger.Warn().Err(err).Msg("failed to clear pending session name")
		}
	}

	response := Response{
		Text:            result.Text,
		SessionID:       result.SessionID,
		TranscribedText: transcribed,
		ToolCalls:       result.ToolCalls,
		Metadata:        result.Metadata,
	}

	if merged.AudioEnabled && b.voice != nil && result.Text != "" {
		audio, err := b.voice.Synthesize(ctx, result.Text, merged.VoiceSpeed)
		if err != nil {
			// Synthesis failure never discards the text result.
			if !errors.Is(err, voice.ErrNotConfigured) {
				logger.Warn().Err(err).Msg("speech synthesis failed")
			}
		} else {
			response.Audio = audio
		}
	}

	logger.Info().
		Str("session_id", response.SessionID).
		Int("tool_calls", len(response.ToolCalls)).
		Float64("cost_usd", response.Metadata.CostUSD).
		Msg("message processed")
	return response, nil
}

// transcribe converts a voice note to text. Failures abort the call;
// audio is never silently treated as empty text.
func (b *Brain) transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if b.voice == nil {
		return "", &NotConfiguredError{Collaborator: "voice engine"}
	}
	text, err := b.voice.Transcribe(ctx, audio, language)
	if err != nil {
		if errors.Is(err, voice.ErrNotConfigured) {
			return "", &NotConfiguredError{Collaborator: "voice engine"}
		}
		return "", err
	}
	return text, nil
}

// loadOverlay returns the current overlay; a nil loader means no
// overlay is deployed.
func (b *Brain) loadOverlay() (*overlay.Config, error) {
	if b.overlay == nil {
		return overlay.Empty(), nil
	}
	return b.overlay.Load()
}

// permissionCallback proxies the runtime's tool permission gate to the
// approval coordinator: submit, notify the transport, wait.
func (b *Brain) permissionCallback(input Input) func(ctx context.Context, name string, toolInput map[string]interface{}) runtime.PermissionDecision {
	return func(ctx context.Context, name string, toolInput map[string]interface{}) runtime.PermissionDecision {
		handle, err := b.approvals.Submit(name, toolInput, input.UserID)
		if err != nil {
			b.logger.Error().Err(err).Str("tool", name).Msg("failed to submit approval")
			return runtime.PermissionDecision{Allow: false, Reason: "Approval submission failed"}
		}

		if input.OnApprovalRequest != nil {
			input.OnApprovalRequest(handle.ID, name, runtime.InputSummaryForLog(toolInput))
		}

		decision := handle.Wait(ctx)
		return runtime.PermissionDecision{Allow: decision.Approved, Reason: decision.Reason}
	}
}

// ResolveApproval forwards a transport decision to the coordinator.
func (b *Brain) ResolveApproval(approvalID string, approved bool, resolverID string) bool {
	return b.approvals.Resolve(approvalID, approved, resolverID)
}

// Health reports whether the durable store is reachable.
func (b *Brain) Health() error {
	return b.store.Ping()
}
