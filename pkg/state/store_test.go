package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Ping())

	// Ping must not write anything.
	_, err := store.scanSettings("healthcheck")
	assert.Error(t, err)

	require.NoError(t, store.Close())
	assert.Error(t, store.Ping())
}

func TestStore_SettingsCreatedWithDefaults(t *testing.T) {
	store := newTestStore(t)

	settings, err := store.GetOrCreateSettings("user-1")
	require.NoError(t, err)
	assert.Equal(t, ModeGoAll, settings.Mode)
	assert.True(t, settings.AudioEnabled)
	assert.InDelta(t, 1.1, settings.VoiceSpeed, 0.001)
	assert.False(t, settings.WatchEnabled)
	assert.Empty(t, settings.Model)
}

func TestStore_UpdateSettingsPartial(t *testing.T) {
	store := newTestStore(t)

	mode := ModeApprove
	speed := 0.9
	updated, err := store.UpdateSettings("user-1", SettingsUpdate{Mode: &mode, VoiceSpeed: &speed})
	require.NoError(t, err)
	assert.Equal(t, ModeApprove, updated.Mode)
	assert.InDelta(t, 0.9, updated.VoiceSpeed, 0.001)

	// Unspecified fields keep their previous values.
	assert.True(t, updated.AudioEnabled)

	watch := true
	updated, err = store.UpdateSettings("user-1", SettingsUpdate{WatchEnabled: &watch})
	require.NoError(t, err)
	assert.True(t, updated.WatchEnabled)
	assert.Equal(t, ModeApprove, updated.Mode)
}

func TestStore_UpdateSettingsIdempotent(t *testing.T) {
	store := newTestStore(t)

	speed := 0.8
	update := SettingsUpdate{VoiceSpeed: &speed}

	first, err := store.UpdateSettings("user-1", update)
	require.NoError(t, err)
	second, err := store.UpdateSettings("user-1", update)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestStore_UpdateSettingsValidation(t *testing.T) {
	store := newTestStore(t)

	tooFast := 1.5
	_, err := store.UpdateSettings("user-1", SettingsUpdate{VoiceSpeed: &tooFast})
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "voice_speed", validationErr.Field)

	badMode := "yolo"
	_, err = store.UpdateSettings("user-1", SettingsUpdate{Mode: &badMode})
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "mode", validationErr.Field)

	// A rejected update leaves stored values untouched.
	settings, err := store.GetOrCreateSettings("user-1")
	require.NoError(t, err)
	assert.Equal(t, ModeGoAll, settings.Mode)
	assert.InDelta(t, 1.1, settings.VoiceSpeed, 0.001)
}

func TestStore_ResetSettings(t *testing.T) {
	store := newTestStore(t)

	mode := ModeApprove
	_, err := store.UpdateSettings("user-1", SettingsUpdate{Mode: &mode})
	require.NoError(t, err)

	settings, err := store.ResetSettings("user-1")
	require.NoError(t, err)
	assert.Equal(t, ModeGoAll, settings.Mode)

	settings, err = store.GetOrCreateSettings("user-1")
	require.NoError(t, err)
	assert.Equal(t, ModeGoAll, settings.Mode)
}

func TestStore_CreateSessionBecomesCurrent(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateSession("user-1", "first")
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	current, ok, err := store.GetCurrentSession("user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, current.ID)
	assert.True(t, current.IsCurrent)
}

func TestStore_SingleCurrentSessionPerUser(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateSession("user-1", "a")
	require.NoError(t, err)
	second, err := store.CreateSession("user-1", "b")
	require.NoError(t, err)

	sessions, err := store.ListSessions("user-1")
	require.NoError(t, err)

	currentCount := 0
	for _, session := range sessions {
		if session.IsCurrent {
			currentCount++
			assert.Equal(t, second.ID, session.ID)
		}
	}
	assert.Equal(t, 1, currentCount)
}

func TestStore_EvictionKeepsMostRecentlyActive(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	store := newTestStore(t, WithMaxSessions(3), WithClock(now))

	var ids []string
	for i := 0; i < 3; i++ {
		session, err := store.CreateSession("user-1", "")
		require.NoError(t, err)
		ids = append(ids, session.ID)
		clock = clock.Add(time.Minute)
	}

	// Touch the oldest session so it is no longer the eviction candidate.
	_, err := store.UpdateSession("user-1", ids[0], "")
	require.NoError(t, err)
	clock = clock.Add(time.Minute)

	_, err = store.CreateSession("user-1", "")
	require.NoError(t, err)

	sessions, err := store.ListSessions("user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 3)

	remaining := make(map[string]bool)
	for _, session := range sessions {
		remaining[session.ID] = true
	}
	assert.True(t, remaining[ids[0]], "recently touched session must survive")
	assert.False(t, remaining[ids[1]], "least-recently-active session must be evicted")
}

func TestStore_EvictionNeverExceedsCap(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	store := newTestStore(t, WithMaxSessions(2), WithClock(now))

	for i := 0; i < 5; i++ {
		_, err := store.CreateSession("user-1", "")
		require.NoError(t, err)
		clock = clock.Add(time.Second)
	}

	sessions, err := store.ListSessions("user-1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestStore_SetCurrentSessionUnknownIDIsNoOp(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateSession("user-1", "")
	require.NoError(t, err)

	require.NoError(t, store.SetCurrentSession("user-1", "no-such-session"))

	current, ok, err := store.GetCurrentSession("user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, created.ID, current.ID)
}

func TestStore_SetCurrentSessionOtherUsersSessionIsNoOp(t *testing.T) {
	store := newTestStore(t)

	theirs, err := store.CreateSession("user-2", "")
	require.NoError(t, err)

	require.NoError(t, store.SetCurrentSession("user-1", theirs.ID))
	_, ok, err := store.GetCurrentSession("user-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ClearCurrentSessionKeepsRecord(t *testing.T) {
	store := newTestStore(t)

	created, err := store.CreateSession("user-1", "")
	require.NoError(t, err)

	require.NoError(t, store.ClearCurrentSession("user-1"))

	_, ok, err := store.GetCurrentSession("user-1")
	require.NoError(t, err)
	assert.False(t, ok)

	sessions, err := store.ListSessions("user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, created.ID, sessions[0].ID)
}

func TestStore_UpdateSessionCreatesUnknownID(t *testing.T) {
	store := newTestStore(t)

	session, err := store.UpdateSession("user-1", "runtime-assigned-id", "chat")
	require.NoError(t, err)
	assert.Equal(t, "runtime-assigned-id", session.ID)
	assert.True(t, session.IsCurrent)

	current, ok, err := store.GetCurrentSession("user-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "runtime-assigned-id", current.ID)
}

func TestStore_ListSessionsMostRecentFirst(t *testing.T) {
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	store := newTestStore(t, WithClock(now))

	first, err := store.CreateSession("user-1", "")
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	second, err := store.CreateSession("user-1", "")
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	_, err = store.UpdateSession("user-1", first.ID, "")
	require.NoError(t, err)

	sessions, err := store.ListSessions("user-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, first.ID, sessions[0].ID)
	assert.Equal(t, second.ID, sessions[1].ID)
}

func TestStore_MigrateLegacyJSON(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "state.json")
	legacyJSON := `{
		"users": {
			"42": {
				"settings": {"mode": "approve", "audio_enabled": false, "voice_speed": 0.8},
				"sessions": [
					{"id": "s-old", "name": "old", "created_at": "2024-01-01T00:00:00Z", "last_active": "2024-01-02T00:00:00Z"},
					{"id": "s-new", "name": "new", "created_at": "2024-02-01T00:00:00Z", "last_active": "2024-02-02T00:00:00Z"}
				],
				"current_session": "s-new"
			}
		}
	}`
	require.NoError(t, os.WriteFile(legacyPath, []byte(legacyJSON), 0o644))

	store, err := NewStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.MigrateLegacyJSON(legacyPath))

	settings, err := store.GetOrCreateSettings("42")
	require.NoError(t, err)
	assert.Equal(t, ModeApprove, settings.Mode)
	assert.False(t, settings.AudioEnabled)
	assert.InDelta(t, 0.8, settings.VoiceSpeed, 0.001)

	current, ok, err := store.GetCurrentSession("42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "s-new", current.ID)

	sessions, err := store.ListSessions("42")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestStore_MigrationRunsOnce(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(legacyPath, []byte(`{"users": {"1": {"sessions": [{"id": "s-1"}]}}}`), 0o644))

	store, err := NewStore(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.MigrateLegacyJSON(legacyPath))

	// Dropping the imported session then re-running the migration must
	// not resurrect it.
	_, err = store.db.Exec("DELETE FROM sessions")
	require.NoError(t, err)
	require.NoError(t, store.MigrateLegacyJSON(legacyPath))

	sessions, err := store.ListSessions("1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStore_MigrationMissingFileMarksDone(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.MigrateLegacyJSON(filepath.Join(t.TempDir(), "absent.json")))

	done, err := store.migrationDone(legacyImportMarker)
	require.NoError(t, err)
	assert.True(t, done)
}
