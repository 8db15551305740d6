package brain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/koromind/koro/pkg/overlay"
	"github.com/koromind/koro/pkg/runtime"
	"github.com/koromind/koro/pkg/state"
)

func TestMergeSettings_StoredOnly(t *testing.T) {
	stored := state.DefaultSettings("u")
	m := mergeSettings(stored, overlay.Empty(), Overrides{}, DefaultBaseTools)

	assert.Equal(t, state.ModeGoAll, m.Mode)
	assert.True(t, m.AudioEnabled)
	assert.InDelta(t, 1.1, m.VoiceSpeed, 0.001)
	assert.Equal(t, DefaultBaseTools, m.Tools)
}

func TestMergeSettings_OverlayBeatsStored(t *testing.T) {
	stored := state.DefaultSettings("u")
	stored.Model = "claude-haiku-4-5"

	ov := &overlay.Config{
		Model:          "claude-opus-4-5",
		PermissionMode: state.ModeApprove,
		DeniedTools:    []string{"Bash"},
		AddDirs:        []string{"/srv/shared"},
	}
	m := mergeSettings(stored, ov, Overrides{}, DefaultBaseTools)

	assert.Equal(t, "claude-opus-4-5", m.Model)
	assert.Equal(t, state.ModeApprove, m.Mode)
	assert.NotContains(t, m.Tools, "Bash")
	assert.Contains(t, m.Tools, "Read")
	assert.Equal(t, []string{"/srv/shared"}, m.AddDirs)
}

func TestMergeSettings_OverridesBeatOverlay(t *testing.T) {
	stored := state.DefaultSettings("u")
	ov := &overlay.Config{Model: "claude-opus-4-5", PermissionMode: state.ModeApprove}

	mode := state.ModeGoAll
	model := "claude-haiku-4-5"
	audio := false
	m := mergeSettings(stored, ov, Overrides{Mode: &mode, Model: &model, AudioEnabled: &audio}, DefaultBaseTools)

	assert.Equal(t, state.ModeGoAll, m.Mode)
	assert.Equal(t, "claude-haiku-4-5", m.Model)
	assert.False(t, m.AudioEnabled)
}

func TestMergeSettings_AllowListRestrictsTools(t *testing.T) {
	stored := state.DefaultSettings("u")
	ov := &overlay.Config{AllowedTools: []string{"Read", "List"}}

	m := mergeSettings(stored, ov, Overrides{}, DefaultBaseTools)
	assert.ElementsMatch(t, []string{"Read", "List"}, m.Tools)
}

func TestPermissionMode(t *testing.T) {
	assert.Equal(t, runtime.PermissionApprove, permissionMode(state.ModeApprove))
	assert.Equal(t, runtime.PermissionAuto, permissionMode(state.ModeGoAll))
	assert.Equal(t, runtime.PermissionAuto, permissionMode(""))
}
