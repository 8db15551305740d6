package runtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// TranscriptEntry is one persisted conversation turn.
type TranscriptEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   Message   `json:"message"`
}

// Transcripts persists conversation history as one JSONL file per
// session. Writes for the same store are serialized.
type Transcripts struct {
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewTranscripts creates the store, making the directory if needed.
func NewTranscripts(dir string, logger zerolog.Logger) (*Transcripts, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &Transcripts{
		dir:    dir,
		logger: logger.With().Str("component", "transcripts").Logger(),
	}, nil
}

func (t *Transcripts) path(sessionID string) (string, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return "", fmt.Errorf("invalid session id: %q", sessionID)
	}
	return filepath.Join(t.dir, sessionID+".jsonl"), nil
}

// Append adds one message to a session transcript.
func (t *Transcripts) Append(sessionID string, msg Message) error {
	path, err := t.path(sessionID)
	if err != nil {
		return err
	}

	entry := TranscriptEntry{Timestamp: time.Now().UTC(), Message: msg}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode transcript entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("failed to append transcript entry: %w", err)
	}
	return nil
}

// Load returns all messages of a session, oldest first. A missing
// transcript is an empty history, not an error.
func (t *Transcripts) Load(sessionID string) ([]Message, error) {
	path, err := t.path(sessionID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	var messages []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry TranscriptEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn tail line from a crashed write is skipped, not fatal.
			t.logger.Warn().Str("session_id", sessionID).Err(err).Msg("skipping corrupt transcript line")
			continue
		}
		messages = append(messages, entry.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return messages, nil
}

// Delete removes a session transcript.
func (t *Transcripts) Delete(sessionID string) error {
	path, err := t.path(sessionID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}
