package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ToolParameter describes one input field of a tool.
type ToolParameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ExecContext carries per-run execution constraints into a tool.
type ExecContext struct {
	WorkingDir  string
	AllowedDirs []string
	Timeout     time.Duration
}

// ToolDefinition is a tool the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  []ToolParameter
	Run         func(ctx context.Context, input map[string]interface{}, ec ExecContext) (string, error)
}

// InputSchema renders the JSON-schema shape providers expect.
func (d ToolDefinition) InputSchema() map[string]interface{} {
	properties := map[string]interface{}{}
	var required []string
	for _, param := range d.Parameters {
		properties[param.Name] = map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Toolbox holds the tool definitions available to runs.
type Toolbox struct {
	tools map[string]ToolDefinition
}

// NewToolbox creates a toolbox with the built-in tools registered.
func NewToolbox() *Toolbox {
	tb := &Toolbox{tools: make(map[string]ToolDefinition)}
	for _, def := range builtinTools() {
		tb.Register(def)
	}
	return tb
}

// Register adds or replaces a tool definition.
func (tb *Toolbox) Register(def ToolDefinition) {
	tb.tools[def.Name] = def
}

// Get returns a tool definition by name.
func (tb *Toolbox) Get(name string) (ToolDefinition, bool) {
	def, ok := tb.tools[name]
	return def, ok
}

// Names returns the registered tool names, sorted.
func (tb *Toolbox) Names() []string {
	names := make([]string, 0, len(tb.tools))
	for name := range tb.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves the requested tool names to definitions. Unknown
// names are an error so typos never silently shrink the tool set.
func (tb *Toolbox) Select(names []string) ([]ToolDefinition, error) {
	defs := make([]ToolDefinition, 0, len(names))
	for _, name := range names {
		def, ok := tb.tools[name]
		if !ok {
			return nil, fmt.Errorf("tool not found: %s", name)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// pathPermitted checks a tool path against the run's directory roots.
// An empty allow list permits everything (sandboxing off).
func pathPermitted(path string, ec ExecContext) bool {
	if len(ec.AllowedDirs) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	for _, dir := range ec.AllowedDirs {
		root, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if abs == root || strings.HasPrefix(abs, root+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

func stringInput(input map[string]interface{}, key string) (string, error) {
	value, ok := input[key].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	return value, nil
}

func builtinTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "Read",
			Description: "Read the contents of a file",
			Parameters: []ToolParameter{
				{Name: "file_path", Type: "string", Description: "Path of the file to read", Required: true},
			},
			Run: func(ctx context.Context, input map[string]interface{}, ec ExecContext) (string, error) {
				path, err := stringInput(input, "file_path")
				if err != nil {
					return "", err
				}
				if !pathPermitted(path, ec) {
					return "", fmt.Errorf("path outside permitted directories: %s", path)
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return "", err
				}
				return string(data), nil
			},
		},
		{
			Name:        "Write",
			Description: "Write content to a file, creating it if needed",
			Parameters: []ToolParameter{
				{Name: "file_path", Type: "string", Description: "Path of the file to write", Required: true},
				{Name: "content", Type: "string", Description: "Content to write", Required: true},
			},
			Run: func(ctx context.Context, input map[string]interface{}, ec ExecContext) (string, error) {
				path, err := stringInput(input, "file_path")
				if err != nil {
					return "", err
				}
				content, err := stringInput(input, "content")
				if err != nil {
					return "", err
				}
				if !pathPermitted(path, ec) {
					return "", fmt.Errorf("path outside permitted directories: %s", path)
				}
				if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
					return "", err
				}
				if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
					return "", err
				}
				return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
			},
		},
		{
			Name:        "List",
			Description: "List the entries of a directory",
			Parameters: []ToolParameter{
				{Name: "path", Type: "string", Description: "Directory to list", Required: true},
			},
			Run: func(ctx context.Context, input map[string]interface{}, ec ExecContext) (string, error) {
				path, err := stringInput(input, "path")
				if err != nil {
					return "", err
				}
				if !pathPermitted(path, ec) {
					return "", fmt.Errorf("path outside permitted directories: %s", path)
				}
				entries, err := os.ReadDir(path)
				if err != nil {
					return "", err
				}
				var lines []string
				for _, entry := range entries {
					name := entry.Name()
					if entry.IsDir() {
						name += "/"
					}
					lines = append(lines, name)
				}
				return strings.Join(lines, "\n"), nil
			},
		},
		{
			Name:        "Bash",
			Description: "Run a shell command in the working directory",
			Parameters: []ToolParameter{
				{Name: "command", Type: "string", Description: "Command to execute", Required: true},
			},
			Run: func(ctx context.Context, input map[string]interface{}, ec ExecContext) (string, error) {
				command, err := stringInput(input, "command")
				if err != nil {
					return "", err
				}
				timeout := ec.Timeout
				if timeout <= 0 {
					timeout = 30 * time.Second
				}
				cmdCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
				cmd.Dir = ec.WorkingDir
				output, err := cmd.CombinedOutput()
				if err != nil {
					return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
				}
				return strings.TrimSpace(string(output)), nil
			},
		},
	}
}
