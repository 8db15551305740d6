package overlay

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Config is the per-deployment configuration overlay layered between
// stored user settings and explicit per-call overrides.
type Config struct {
	Model          string               `json:"model" yaml:"model"`
	PermissionMode string               `json:"permission_mode" yaml:"permission_mode"`
	AllowedTools   []string             `json:"allowed_tools" yaml:"allowed_tools"`
	DeniedTools    []string             `json:"denied_tools" yaml:"denied_tools"`
	MCPServers     map[string]MCPServer `json:"mcp_servers" yaml:"mcp_servers"`
	Agents         map[string]AgentDef  `json:"agents" yaml:"agents"`
	Hooks          []Hook               `json:"hooks" yaml:"hooks"`
	Sandbox        Sandbox              `json:"sandbox" yaml:"sandbox"`
	AddDirs        []string             `json:"add_dirs" yaml:"add_dirs"`
}

// MCPServer defines an auxiliary tool server launched for the runtime.
type MCPServer struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args" yaml:"args"`
	Env     map[string]string `json:"env" yaml:"env"`
}

// AgentDef defines a sub-agent available to the runtime.
type AgentDef struct {
	Description string   `json:"description" yaml:"description"`
	Prompt      string   `json:"prompt" yaml:"prompt"`
	PromptFile  string   `json:"prompt_file" yaml:"prompt_file"`
	Tools       []string `json:"tools" yaml:"tools"`
	Model       string   `json:"model" yaml:"model"`
}

// Hook defines a command executed on a runtime lifecycle event.
type Hook struct {
	Event          string `json:"event" yaml:"event"`
	Command        string `json:"command" yaml:"command"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Sandbox holds sandboxing flags for the runtime.
type Sandbox struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	ReadDirs  []string `json:"read_dirs" yaml:"read_dirs"`
	WriteDirs []string `json:"write_dirs" yaml:"write_dirs"`
}

// Empty returns the all-defaults overlay. A missing overlay file loads
// as Empty().
func Empty() *Config {
	return &Config{}
}

// IsEmpty reports whether the overlay carries no overrides.
func (c *Config) IsEmpty() bool {
	return c.Model == "" &&
		c.PermissionMode == "" &&
		len(c.AllowedTools) == 0 &&
		len(c.DeniedTools) == 0 &&
		len(c.MCPServers) == 0 &&
		len(c.Agents) == 0 &&
		len(c.Hooks) == 0 &&
		!c.Sandbox.Enabled &&
		len(c.Sandbox.ReadDirs) == 0 &&
		len(c.Sandbox.WriteDirs) == 0 &&
		len(c.AddDirs) == 0
}

// ToolAllowed reports whether a tool name passes the overlay's
// allow/deny lists. Deny wins over allow; an empty allow list means
// every tool not denied is permitted.
func (c *Config) ToolAllowed(name string) bool {
	for _, denied := range c.DeniedTools {
		if denied == name {
			return false
		}
	}
	if len(c.AllowedTools) == 0 {
		return true
	}
	for _, allowed := range c.AllowedTools {
		if allowed == name || allowed == "*" {
			return true
		}
	}
	return false
}

// resolvePaths rewrites every relative path embedded in the overlay to
// be absolute under root. The process working directory never
// participates.
func (c *Config) resolvePaths(root string) {
	for name, server := range c.MCPServers {
		server.Command = resolvePath(root, server.Command)
		for i, arg := range server.Args {
			server.Args[i] = resolvePathArg(root, arg)
		}
		c.MCPServers[name] = server
	}

	for name, agent := range c.Agents {
		agent.PromptFile = resolvePath(root, agent.PromptFile)
		c.Agents[name] = agent
	}

	for i := range c.Hooks {
		c.Hooks[i].Command = resolvePath(root, c.Hooks[i].Command)
	}

	for i, dir := range c.AddDirs {
		c.AddDirs[i] = resolvePath(root, dir)
	}
	for i, dir := range c.Sandbox.ReadDirs {
		c.Sandbox.ReadDirs[i] = resolvePath(root, dir)
	}
	for i, dir := range c.Sandbox.WriteDirs {
		c.Sandbox.WriteDirs[i] = resolvePath(root, dir)
	}
}

// resolvePath anchors a relative path at root. Empty values and
// absolute paths pass through untouched.
func resolvePath(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// resolvePathArg resolves only arguments that are explicitly
// path-shaped ("./x" or "../x"); bare words stay command arguments.
func resolvePathArg(root, arg string) string {
	if strings.HasPrefix(arg, "./") || strings.HasPrefix(arg, "../") {
		return filepath.Join(root, arg)
	}
	return arg
}

// Error is the typed failure for malformed overlay content.
type Error struct {
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("overlay %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("overlay %s: %s", e.Path, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }
