package brain

import (
	"github.com/koromind/koro/pkg/overlay"
	"github.com/koromind/koro/pkg/runtime"
	"github.com/koromind/koro/pkg/state"
)

// Overrides are explicit per-call settings. Nil fields defer to the
// overlay and stored settings below them.
type Overrides struct {
	Mode         *string
	Model        *string
	AudioEnabled *bool
	WatchEnabled *bool
	Language     *string
}

// merged is the effective per-call configuration after applying the
// precedence chain.
type merged struct {
	Mode         string
	Model        string
	Tools        []string
	AudioEnabled bool
	WatchEnabled bool
	VoiceSpeed   float64
	Language     string
	AddDirs      []string
}

// mergeSettings applies precedence lowest to highest: stored settings,
// configuration overlay, explicit per-call overrides. Tool selection is
// the base tool set filtered through the overlay's allow/deny lists.
func mergeSettings(stored state.Settings, ov *overlay.Config, overrides Overrides, baseTools []string) merged {
	m := merged{
		Mode:         stored.Mode,
		Model:        stored.Model,
		AudioEnabled: stored.AudioEnabled,
		WatchEnabled: stored.WatchEnabled,
		VoiceSpeed:   stored.VoiceSpeed,
		Language:     stored.Language,
	}

	if ov != nil {
		if ov.Model != "" {
			m.Model = ov.Model
		}
		if ov.PermissionMode != "" {
			m.Mode = ov.PermissionMode
		}
		m.AddDirs = append(m.AddDirs, ov.AddDirs...)
		m.AddDirs = append(m.AddDirs, ov.Sandbox.ReadDirs...)
		m.AddDirs = append(m.AddDirs, ov.Sandbox.WriteDirs...)
	}

	for _, tool := range baseTools {
		if ov == nil || ov.ToolAllowed(tool) {
			m.Tools = append(m.Tools, tool)
		}
	}

	if overrides.Mode != nil {
		m.Mode = *overrides.Mode
	}
	if overrides.Model != nil {
		m.Model = *overrides.Model
	}
	if overrides.AudioEnabled != nil {
		m.AudioEnabled = *overrides.AudioEnabled
	}
	if overrides.WatchEnabled != nil {
		m.WatchEnabled = *overrides.WatchEnabled
	}
	if overrides.Language != nil {
		m.Language = *overrides.Language
	}

	return m
}

// permissionMode maps the conversation mode to the runtime's gate.
func permissionMode(mode string) string {
	if mode == state.ModeApprove {
		return runtime.PermissionApprove
	}
	return runtime.PermissionAuto
}
