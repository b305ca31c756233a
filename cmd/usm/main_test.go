package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"run", "list", "match", "storage"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestStorageSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range storageCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"get", "set", "delete", "list"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestRunFlags(t *testing.T) {
	require.NoError(t, runCmd.Flags().Set("window", "30s"))
	assert.Equal(t, "30s", runWindow.String())

	require.NoError(t, runCmd.Flags().Set("watch", "true"))
	assert.True(t, runWatch)
}
