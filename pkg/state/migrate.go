package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const legacyImportMarker = "legacy_json_import"

// legacyState mirrors the flat-file layout used before the relational
// store existed: one JSON document keyed by user id.
type legacyState struct {
	Users map[string]legacyUser `json:"users"`
}

type legacyUser struct {
	Settings       *legacySettings `json:"settings"`
	Sessions       []legacySession `json:"sessions"`
	CurrentSession string          `json:"current_session"`
}

type legacySettings struct {
	Mode         string  `json:"mode"`
	AudioEnabled *bool   `json:"audio_enabled"`
	VoiceSpeed   float64 `json:"voice_speed"`
	WatchEnabled bool    `json:"watch_enabled"`
	Model        string  `json:"model"`
	Language     string  `json:"language"`
}

type legacySession struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at"`
	LastActive string `json:"last_active"`
}

// MigrateLegacyJSON imports the pre-relational flat-file state exactly
// once. A persisted marker makes repeated startups no-ops, including
// when the legacy file is missing or was already consumed.
func (s *Store) MigrateLegacyJSON(path string) error {
	done, err := s.migrationDone(legacyImportMarker)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s.markMigrationDone(legacyImportMarker)
	}
	if err != nil {
		return fmt.Errorf("failed to read legacy state: %w", err)
	}

	var legacy legacyState
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return fmt.Errorf("failed to parse legacy state: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin legacy import: %w", err)
	}
	defer tx.Rollback()

	for userID, user := range legacy.Users {
		if err := s.importLegacyUser(tx, userID, user); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(
		"INSERT INTO migration_status (name, done_at) VALUES (?, ?)",
		legacyImportMarker, s.now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to record migration marker: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit legacy import: %w", err)
	}

	s.logger.Info().Int("users", len(legacy.Users)).Str("path", path).Msg("imported legacy state")
	return nil
}

func (s *Store) importLegacyUser(tx *sql.Tx, userID string, user legacyUser) error {
	if user.Settings != nil {
		merged := DefaultSettings(userID)
		if user.Settings.Mode != "" {
			merged.Mode = user.Settings.Mode
		}
		if user.Settings.AudioEnabled != nil {
			merged.AudioEnabled = *user.Settings.AudioEnabled
		}
		if user.Settings.VoiceSpeed != 0 {
			merged.VoiceSpeed = user.Settings.VoiceSpeed
		}
		merged.WatchEnabled = user.Settings.WatchEnabled
		merged.Model = user.Settings.Model
		merged.Language = user.Settings.Language

		if _, err := tx.Exec(`
			INSERT INTO settings (user_id, mode, audio_enabled, voice_speed, watch_enabled, model, language, pending_session_name)
			VALUES (?, ?, ?, ?, ?, ?, ?, '')
			ON CONFLICT(user_id) DO NOTHING`,
			merged.UserID, merged.Mode, merged.AudioEnabled, merged.VoiceSpeed,
			merged.WatchEnabled, merged.Model, merged.Language,
		); err != nil {
			return fmt.Errorf("failed to import settings for %s: %w", userID, err)
		}
	}

	for _, session := range user.Sessions {
		if session.ID == "" {
			continue
		}
		createdAt := parseLegacyTime(session.CreatedAt, s.now().UTC())
		lastActive := parseLegacyTime(session.LastActive, createdAt)
		isCurrent := session.ID == user.CurrentSession

		if _, err := tx.Exec(`
			INSERT INTO sessions (id, user_id, name, created_at, last_active, is_current)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			session.ID, userID, session.Name, createdAt, lastActive, isCurrent,
		); err != nil {
			return fmt.Errorf("failed to import session %s: %w", session.ID, err)
		}
	}
	return nil
}

func (s *Store) migrationDone(name string) (bool, error) {
	row := s.db.QueryRow("SELECT COUNT(*) FROM migration_status WHERE name = ?", name)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check migration marker: %w", err)
	}
	return count > 0, nil
}

func (s *Store) markMigrationDone(name string) error {
	_, err := s.db.Exec(
		"INSERT INTO migration_status (name, done_at) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		name, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration marker: %w", err)
	}
	return nil
}

func parseLegacyTime(value string, fallback time.Time) time.Time {
	if value == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
