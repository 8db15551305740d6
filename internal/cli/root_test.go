package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	root := GetRootCmd()

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"start", "stop", "status", "configure"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	root := GetRootCmd()
	require.Equal(t, "koro", root.Use)
	assert.Equal(t, version, root.Version)

	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Usage, ".koro/koro.json")
}
