package state

import (
	"fmt"
	"time"
)

// Conversation modes. go_all lets the runtime use every permitted tool
// without asking; approve routes each tool call through the approval
// coordinator.
const (
	ModeGoAll   = "go_all"
	ModeApprove = "approve"
)

// Voice speed bounds accepted by the speech provider.
const (
	MinVoiceSpeed = 0.7
	MaxVoiceSpeed = 1.2
)

// Settings are the per-user conversation preferences.
type Settings struct {
	UserID             string
	Mode               string
	AudioEnabled       bool
	VoiceSpeed         float64
	WatchEnabled       bool
	Model              string
	Language           string
	PendingSessionName string
}

// DefaultSettings returns the settings a user starts with.
func DefaultSettings(userID string) Settings {
	return Settings{
		UserID:       userID,
		Mode:         ModeGoAll,
		AudioEnabled: true,
		VoiceSpeed:   1.1,
		WatchEnabled: false,
	}
}

// SettingsUpdate is a partial settings change. Nil fields are left
// untouched.
type SettingsUpdate struct {
	Mode               *string
	AudioEnabled       *bool
	VoiceSpeed         *float64
	WatchEnabled       *bool
	Model              *string
	Language           *string
	PendingSessionName *string
}

// Validate rejects out-of-range values before anything is written.
func (u SettingsUpdate) Validate() error {
	if u.Mode != nil && *u.Mode != ModeGoAll && *u.Mode != ModeApprove {
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("must be %q or %q", ModeGoAll, ModeApprove)}
	}
	if u.VoiceSpeed != nil && (*u.VoiceSpeed < MinVoiceSpeed || *u.VoiceSpeed > MaxVoiceSpeed) {
		return &ValidationError{
			Field:   "voice_speed",
			Message: fmt.Sprintf("must be between %.1f and %.1f", MinVoiceSpeed, MaxVoiceSpeed),
		}
	}
	return nil
}

// Session is one runtime conversation tracked for a user.
type Session struct {
	ID         string
	UserID     string
	Name       string
	CreatedAt  time.Time
	LastActive time.Time
	IsCurrent  bool
}

// ValidationError reports a rejected settings value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
