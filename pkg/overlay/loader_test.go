package overlay

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeOverlay(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

func TestLoader_MissingFileYieldsEmptyOverlay(t *testing.T) {
	loader := NewLoader(t.TempDir())

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsEmpty())
}

func TestLoader_YAMLOverlay(t *testing.T) {
	root := t.TempDir()
	writeOverlay(t, root, DefaultFilename, `
model: claude-sonnet-4-5
permission_mode: acceptEdits
allowed_tools:
  - Read
  - Bash
denied_tools:
  - WebFetch
`)

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Model)
	assert.Equal(t, "acceptEdits", cfg.PermissionMode)
	assert.Equal(t, []string{"Read", "Bash"}, cfg.AllowedTools)
	assert.Equal(t, []string{"WebFetch"}, cfg.DeniedTools)
}

func TestLoader_JSONOverlay(t *testing.T) {
	root := t.TempDir()
	writeOverlay(t, root, "koro.overlay.json", `{"model": "claude-opus-4-5", "allowed_tools": ["Read"]}`)

	cfg, err := NewLoader(root, WithFilename("koro.overlay.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-5", cfg.Model)
	assert.Equal(t, []string{"Read"}, cfg.AllowedTools)
}

func TestLoader_RelativePathsResolveAgainstRoot(t *testing.T) {
	root := t.TempDir()
	writeOverlay(t, root, DefaultFilename, `
mcp_servers:
  files:
    command: ./bin/files-server
    args: ["--config", "./mcp.json", "--verbose"]
agents:
  reviewer:
    description: reviews diffs
    prompt_file: ./prompts/reviewer.md
hooks:
  - event: post_tool
    command: ./hooks/notify.sh
add_dirs:
  - ./shared
sandbox:
  enabled: true
  write_dirs: ["./scratch", "/tmp/out"]
`)

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)

	server := cfg.MCPServers["files"]
	assert.Equal(t, filepath.Join(root, "bin/files-server"), server.Command)
	assert.Equal(t, []string{"--config", filepath.Join(root, "mcp.json"), "--verbose"}, server.Args)
	assert.Equal(t, filepath.Join(root, "prompts/reviewer.md"), cfg.Agents["reviewer"].PromptFile)
	assert.Equal(t, filepath.Join(root, "hooks/notify.sh"), cfg.Hooks[0].Command)
	assert.Equal(t, []string{filepath.Join(root, "shared")}, cfg.AddDirs)
	assert.Equal(t, filepath.Join(root, "scratch"), cfg.Sandbox.WriteDirs[0])
	assert.Equal(t, "/tmp/out", cfg.Sandbox.WriteDirs[1])
}

func TestLoader_NonMappingTopLevel(t *testing.T) {
	root := t.TempDir()
	writeOverlay(t, root, DefaultFilename, "- just\n- a\n- list\n")

	_, err := NewLoader(root).Load()
	require.Error(t, err)

	var overlayErr *Error
	require.True(t, errors.As(err, &overlayErr))
	assert.Contains(t, overlayErr.Reason, "mapping")
}

func TestLoader_InvalidYAML(t *testing.T) {
	root := t.TempDir()
	writeOverlay(t, root, DefaultFilename, "model: [unclosed\n")

	_, err := NewLoader(root).Load()
	var overlayErr *Error
	require.True(t, errors.As(err, &overlayErr))
}

func TestLoader_SchemaRejectsWrongTypes(t *testing.T) {
	root := t.TempDir()
	writeOverlay(t, root, DefaultFilename, "allowed_tools: not-a-list\n")

	_, err := NewLoader(root).Load()
	var overlayErr *Error
	require.True(t, errors.As(err, &overlayErr))
}

func TestLoader_EmptyFileYieldsEmptyOverlay(t *testing.T) {
	root := t.TempDir()
	writeOverlay(t, root, DefaultFilename, "# nothing here yet\n")

	cfg, err := NewLoader(root).Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsEmpty())
}

func TestLoader_CacheAndReload(t *testing.T) {
	root := t.TempDir()
	writeOverlay(t, root, DefaultFilename, "model: first\n")

	loader := NewLoader(root)
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, "first", cfg.Model)

	writeOverlay(t, root, DefaultFilename, "model: second\n")

	// Load serves the cache; Reload picks up the edit.
	cfg, err = loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "first", cfg.Model)

	cfg, err = loader.Reload()
	require.NoError(t, err)
	assert.Equal(t, "second", cfg.Model)
}

func TestConfig_ToolAllowed(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		tool    string
		allowed bool
	}{
		{"empty overlay allows everything", Config{}, "Bash", true},
		{"deny wins over allow", Config{AllowedTools: []string{"Bash"}, DeniedTools: []string{"Bash"}}, "Bash", false},
		{"allow list excludes others", Config{AllowedTools: []string{"Read"}}, "Bash", false},
		{"allow list includes named", Config{AllowedTools: []string{"Read"}}, "Read", true},
		{"wildcard allow", Config{AllowedTools: []string{"*"}}, "Edit", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.cfg.ToolAllowed(tt.tool))
		})
	}
}
