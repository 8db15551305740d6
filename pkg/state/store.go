package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DefaultMaxSessions caps retained sessions per user. Creating a
// session beyond the cap evicts the least-recently-active one.
const DefaultMaxSessions = 10

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	name        TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMP NOT NULL,
	last_active TIMESTAMP NOT NULL,
	is_current  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, last_active);

CREATE TABLE IF NOT EXISTS settings (
	user_id              TEXT PRIMARY KEY,
	mode                 TEXT NOT NULL,
	audio_enabled        INTEGER NOT NULL,
	voice_speed          REAL NOT NULL,
	watch_enabled        INTEGER NOT NULL,
	model                TEXT NOT NULL DEFAULT '',
	language             TEXT NOT NULL DEFAULT '',
	pending_session_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS migration_status (
	name     TEXT PRIMARY KEY,
	done_at  TIMESTAMP NOT NULL
);
`

// Store persists sessions and settings in SQLite. Every mutating
// operation runs in its own short-lived transaction.
type Store struct {
	db          *sql.DB
	maxSessions int
	now         func() time.Time
	logger      zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSessions overrides the per-user session retention cap.
func WithMaxSessions(n int) Option {
	return func(s *Store) { s.maxSessions = n }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) { s.logger = logger.With().Str("component", "state").Logger() }
}

// NewStore opens (creating if needed) the state database at dbPath.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// WAL mode for safe access from concurrent in-flight requests.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{
		db:          db,
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable without writing anything.
func (s *Store) Ping() error {
	var one int
	return s.db.QueryRow("SELECT 1").Scan(&one)
}

// GetOrCreateSettings returns the user's settings, creating the record
// with defaults on first access.
func (s *Store) GetOrCreateSettings(userID string) (Settings, error) {
	settings, err := s.scanSettings(userID)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	defaults := DefaultSettings(userID)
	_, err = s.db.Exec(`
		INSERT INTO settings (user_id, mode, audio_enabled, voice_speed, watch_enabled, model, language, pending_session_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		defaults.UserID, defaults.Mode, defaults.AudioEnabled, defaults.VoiceSpeed,
		defaults.WatchEnabled, defaults.Model, defaults.Language, defaults.PendingSessionName,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to create settings: %w", err)
	}

	// Re-read in case a concurrent caller won the insert race.
	return s.scanSettings(userID)
}

// UpdateSettings applies a partial update atomically and returns the
// full updated record.
func (s *Store) UpdateSettings(userID string, update SettingsUpdate) (Settings, error) {
	if err := update.Validate(); err != nil {
		return Settings{}, err
	}
	if _, err := s.GetOrCreateSettings(userID); err != nil {
		return Settings{}, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Settings{}, fmt.Errorf("failed to begin settings update: %w", err)
	}
	defer tx.Rollback()

	apply := func(column string, value interface{}) error {
		_, err := tx.Exec(fmt.Sprintf("UPDATE settings SET %s = ? WHERE user_id = ?", column), value, userID)
		return err
	}

	fields := []struct {
		column string
		value  interface{}
		set    bool
	}{
		{"mode", deref(update.Mode), update.Mode != nil},
		{"audio_enabled", deref(update.AudioEnabled), update.AudioEnabled != nil},
		{"voice_speed", deref(update.VoiceSpeed), update.VoiceSpeed != nil},
		{"watch_enabled", deref(update.WatchEnabled), update.WatchEnabled != nil},
		{"model", deref(update.Model), update.Model != nil},
		{"language", deref(update.Language), update.Language != nil},
		{"pending_session_name", deref(update.PendingSessionName), update.PendingSessionName != nil},
	}
	for _, f := range fields {
		if !f.set {
			continue
		}
		if err := apply(f.column, f.value); err != nil {
			return Settings{}, fmt.Errorf("failed to update %s: %w", f.column, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Settings{}, fmt.Errorf("failed to commit settings update: %w", err)
	}
	return s.scanSettings(userID)
}

// ResetSettings overwrites the user's settings with defaults.
func (s *Store) ResetSettings(userID string) (Settings, error) {
	defaults := DefaultSettings(userID)
	_, err := s.db.Exec(`
		INSERT INTO settings (user_id, mode, audio_enabled, voice_speed, watch_enabled, model, language, pending_session_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			mode = excluded.mode,
			audio_enabled = excluded.audio_enabled,
			voice_speed = excluded.voice_speed,
			watch_enabled = excluded.watch_enabled,
			model = excluded.model,
			language = excluded.language,
			pending_session_name = excluded.pending_session_name`,
		defaults.UserID, defaults.Mode, defaults.AudioEnabled, defaults.VoiceSpeed,
		defaults.WatchEnabled, defaults.Model, defaults.Language, defaults.PendingSessionName,
	)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to reset settings: %w", err)
	}
	return defaults, nil
}

// CreateSession creates a fresh session, marks it current, and evicts
// the least-recently-active sessions beyond the retention cap.
func (s *Store) CreateSession(userID, name string) (Session, error) {
	now := s.now().UTC()
	session := Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       name,
		CreatedAt:  now,
		LastActive: now,
		IsCurrent:  true,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return Session{}, fmt.Errorf("failed to begin session create: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE sessions SET is_current = 0 WHERE user_id = ?", userID); err != nil {
		return Session{}, fmt.Errorf("failed to clear current flag: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO sessions (id, user_id, name, created_at, last_active, is_current)
		VALUES (?, ?, ?, ?, ?, 1)`,
		session.ID, session.UserID, session.Name, session.CreatedAt, session.LastActive,
	); err != nil {
		return Session{}, fmt.Errorf("failed to insert session: %w", err)
	}
	if err := s.evictTx(tx, userID); err != nil {
		return Session{}, err
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("failed to commit session create: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Str("session_id", session.ID).Msg("session created")
	return session, nil
}

// UpdateSession records a session id returned by the runtime: the
// session is created if unknown, touched and marked current otherwise.
func (s *Store) UpdateSession(userID, sessionID, name string) (Session, error) {
	now := s.now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return Session{}, fmt.Errorf("failed to begin session update: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE sessions SET is_current = 0 WHERE user_id = ?", userID); err != nil {
		return Session{}, fmt.Errorf("failed to clear current flag: %w", err)
	}

	result, err := tx.Exec(`
		UPDATE sessions SET last_active = ?, is_current = 1 WHERE id = ? AND user_id = ?`,
		now, sessionID, userID,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to touch session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return Session{}, fmt.Errorf("failed to inspect session update: %w", err)
	}
	if affected == 0 {
		if _, err := tx.Exec(`
			INSERT INTO sessions (id, user_id, name, created_at, last_active, is_current)
			VALUES (?, ?, ?, ?, ?, 1)`,
			sessionID, userID, name, now, now,
		); err != nil {
			return Session{}, fmt.Errorf("failed to insert session: %w", err)
		}
		if err := s.evictTx(tx, userID); err != nil {
			return Session{}, err
		}
	} else if name != "" {
		if _, err := tx.Exec("UPDATE sessions SET name = ? WHERE id = ?", name, sessionID); err != nil {
			return Session{}, fmt.Errorf("failed to rename session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Session{}, fmt.Errorf("failed to commit session update: %w", err)
	}
	return s.scanSession(sessionID)
}

// GetCurrentSession returns the user's current session, or ok=false if
// none is marked current.
func (s *Store) GetCurrentSession(userID string) (Session, bool, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, created_at, last_active, is_current
		FROM sessions WHERE user_id = ? AND is_current = 1`, userID)

	session, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, fmt.Errorf("failed to read current session: %w", err)
	}
	return session, true, nil
}

// SetCurrentSession moves the current flag to the given session. An id
// that does not belong to the user is a silent no-op, leaving the
// previous current session in place.
func (s *Store) SetCurrentSession(userID, sessionID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin session switch: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT COUNT(*) FROM sessions WHERE id = ? AND user_id = ?", sessionID, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return fmt.Errorf("failed to check session ownership: %w", err)
	}
	if count == 0 {
		return nil
	}

	if _, err := tx.Exec("UPDATE sessions SET is_current = 0 WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear current flag: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE sessions SET is_current = 1, last_active = ? WHERE id = ?`,
		s.now().UTC(), sessionID,
	); err != nil {
		return fmt.Errorf("failed to set current flag: %w", err)
	}
	return tx.Commit()
}

// ClearCurrentSession unmarks the current session without deleting it.
func (s *Store) ClearCurrentSession(userID string) error {
	if _, err := s.db.Exec("UPDATE sessions SET is_current = 0 WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear current session: %w", err)
	}
	return nil
}

// ListSessions returns the user's sessions, most recently active first.
func (s *Store) ListSessions(userID string) ([]Session, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, created_at, last_active, is_current
		FROM sessions WHERE user_id = ? ORDER BY last_active DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSessionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// evictTx deletes the least-recently-active sessions beyond the cap.
func (s *Store) evictTx(tx *sql.Tx, userID string) error {
	result, err := tx.Exec(`
		DELETE FROM sessions WHERE user_id = ? AND id NOT IN (
			SELECT id FROM sessions WHERE user_id = ?
			ORDER BY last_active DESC LIMIT ?
		)`, userID, userID, s.maxSessions)
	if err != nil {
		return fmt.Errorf("failed to evict sessions: %w", err)
	}
	if evicted, err := result.RowsAffected(); err == nil && evicted > 0 {
		s.logger.Debug().Str("user_id", userID).Int64("evicted", evicted).Msg("evicted old sessions")
	}
	return nil
}

func (s *Store) scanSettings(userID string) (Settings, error) {
	row := s.db.QueryRow(`
		SELECT user_id, mode, audio_enabled, voice_speed, watch_enabled, model, language, pending_session_name
		FROM settings WHERE user_id = ?`, userID)

	var settings Settings
	err := row.Scan(
		&settings.UserID, &settings.Mode, &settings.AudioEnabled, &settings.VoiceSpeed,
		&settings.WatchEnabled, &settings.Model, &settings.Language, &settings.PendingSessionName,
	)
	return settings, err
}

func (s *Store) scanSession(sessionID string) (Session, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, created_at, last_active, is_current
		FROM sessions WHERE id = ?`, sessionID)
	session, err := scanSessionRow(row)
	if err != nil {
		return Session{}, fmt.Errorf("failed to read session: %w", err)
	}
	return session, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSessionRow(row rowScanner) (Session, error) {
	var session Session
	err := row.Scan(
		&session.ID, &session.UserID, &session.Name,
		&session.CreatedAt, &session.LastActive, &session.IsCurrent,
	)
	return session, err
}

func deref[T any](p *T) interface{} {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
