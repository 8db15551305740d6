package overlay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is the overlay file looked up under the root
// directory when no explicit filename is configured.
const DefaultFilename = "koro.overlay.yaml"

// overlaySchema constrains the shape of the overlay document. Unknown
// keys are tolerated so older binaries can read newer overlays.
const overlaySchema = `{
  "type": "object",
  "properties": {
    "model": {"type": "string"},
    "permission_mode": {"type": "string"},
    "allowed_tools": {"type": "array", "items": {"type": "string"}},
    "denied_tools": {"type": "array", "items": {"type": "string"}},
    "mcp_servers": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "command": {"type": "string"},
          "args": {"type": "array", "items": {"type": "string"}},
          "env": {"type": "object", "additionalProperties": {"type": "string"}}
        },
        "required": ["command"]
      }
    },
    "agents": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "description": {"type": "string"},
          "prompt": {"type": "string"},
          "prompt_file": {"type": "string"},
          "tools": {"type": "array", "items": {"type": "string"}},
          "model": {"type": "string"}
        }
      }
    },
    "hooks": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "event": {"type": "string"},
          "command": {"type": "string"},
          "timeout_seconds": {"type": "integer"}
        },
        "required": ["event", "command"]
      }
    },
    "sandbox": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "read_dirs": {"type": "array", "items": {"type": "string"}},
        "write_dirs": {"type": "array", "items": {"type": "string"}}
      }
    },
    "add_dirs": {"type": "array", "items": {"type": "string"}}
  }
}`

// Loader reads and caches the overlay file for a root directory.
type Loader struct {
	root     string
	filename string
	logger   zerolog.Logger

	mu       sync.RWMutex
	cached   *Config
	loadedAt time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFilename overrides the overlay filename under the root directory.
func WithFilename(name string) LoaderOption {
	return func(l *Loader) { l.filename = name }
}

// WithLogger sets the loader logger.
func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger.With().Str("component", "overlay").Logger() }
}

// NewLoader creates a loader for the overlay under root.
func NewLoader(root string, opts ...LoaderOption) *Loader {
	l := &Loader{
		root:     root,
		filename: DefaultFilename,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the absolute overlay file path.
func (l *Loader) Path() string {
	return filepath.Join(l.root, l.filename)
}

// Load returns the cached overlay, reading it from disk on first use.
// A missing file yields the empty overlay; malformed content yields a
// typed *Error and is never silently swallowed.
func (l *Loader) Load() (*Config, error) {
	l.mu.RLock()
	if l.cached != nil {
		cfg := l.cached
		l.mu.RUnlock()
		return cfg, nil
	}
	l.mu.RUnlock()
	return l.Reload()
}

// Reload re-reads the overlay file, replacing the cache.
func (l *Loader) Reload() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cached = cfg
	l.loadedAt = time.Now()
	l.mu.Unlock()

	if cfg.IsEmpty() {
		l.logger.Debug().Str("path", l.Path()).Msg("overlay empty or absent")
	} else {
		l.logger.Info().Str("path", l.Path()).Msg("overlay loaded")
	}
	return cfg, nil
}

func (l *Loader) read() (*Config, error) {
	path := l.Path()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Empty(), nil
		}
		return nil, &Error{Path: path, Reason: "read failed", Err: err}
	}

	generic, err := decodeGeneric(path, raw)
	if err != nil {
		return nil, err
	}
	if generic == nil {
		// Empty file, comments only, or explicit null document.
		return Empty(), nil
	}

	doc, ok := generic.(map[string]interface{})
	if !ok {
		return nil, &Error{Path: path, Reason: "top level must be a mapping"}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(overlaySchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		return nil, &Error{Path: path, Reason: "schema validation failed", Err: err}
	}
	if !result.Valid() {
		var reasons []string
		for _, desc := range result.Errors() {
			reasons = append(reasons, desc.String())
		}
		return nil, &Error{Path: path, Reason: strings.Join(reasons, "; ")}
	}

	cfg := &Config{}
	if isJSONFile(path) {
		err = json.Unmarshal(raw, cfg)
	} else {
		err = yaml.Unmarshal(raw, cfg)
	}
	if err != nil {
		return nil, &Error{Path: path, Reason: "decode failed", Err: err}
	}

	cfg.resolvePaths(l.root)
	return cfg, nil
}

func decodeGeneric(path string, raw []byte) (interface{}, error) {
	var generic interface{}
	if isJSONFile(path) {
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, &Error{Path: path, Reason: "invalid JSON", Err: err}
		}
		return generic, nil
	}
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return nil, &Error{Path: path, Reason: "invalid YAML", Err: err}
	}
	return generic, nil
}

func isJSONFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}
