package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readConfig parses the JSON written by setup and returns the server block.
func readConfig(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && data[len(data)-1] == '\n', "config should end with a newline")

	var config map[string]any
	require.NoError(t, json.Unmarshal(data, &config))
	return config
}

func TestSetupCmd_Run(t *testing.T) {
	t.Run("ProjectScopeCursor", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()

		cmd := &SetupCmd{Client: "cursor", Scope: "project", Dir: dir}
		require.NoError(t, cmd.Run())

		config := readConfig(t, filepath.Join(dir, ".cursor", "mcp.json"))
		servers, ok := config["mcpServers"].(map[string]any)
		require.True(t, ok)
		dendrite, ok := servers["dendrite"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "dendrite", dendrite["command"])
		assert.Equal(t, []any{"mcp"}, dendrite["args"])
	})

	t.Run("ClaudeUsesSettingsFile", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()

		cmd := &SetupCmd{Client: "claude", Scope: "project", Dir: dir}
		require.NoError(t, cmd.Run())

		assert.FileExists(t, filepath.Join(dir, ".claude", "settings.json"))
	})

	t.Run("GlobalScopeWritesUnderHome", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		cmd := &SetupCmd{Client: "qwen", Scope: "global"}
		require.NoError(t, cmd.Run())

		assert.FileExists(t, filepath.Join(home, ".qwen", "mcp.json"))
	})
}

func TestClientConfigPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		client  string
		scope   string
		baseDir string
		want    string
	}{
		{"CursorProject", "cursor", "project", "/work", filepath.Join("/work", ".cursor", "mcp.json")},
		{"ClaudeProject", "claude", "project", "/work", filepath.Join("/work", ".claude", "settings.json")},
		{"QwenProject", "qwen", "project", "/work", filepath.Join("/work", ".qwen", "mcp.json")},
		{"EmptyBaseDefaultsToCurrent", "cursor", "project", "", filepath.Join(".cursor", "mcp.json")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, clientConfigPath(tt.client, tt.scope, tt.baseDir))
		})
	}
}

func TestWriteClientConfig(t *testing.T) {
	t.Parallel()

	t.Run("CreatesNestedDirectories", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "deep", ".cursor", "mcp.json")

		require.NoError(t, writeClientConfig(path, mcpClientConfig()))

		config := readConfig(t, path)
		assert.Contains(t, config, "mcpServers")
	})

	t.Run("OverwritesExisting", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "mcp.json")
		require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

		require.NoError(t, writeClientConfig(path, mcpClientConfig()))
		readConfig(t, path)
	})
}

func TestMCPClientConfig(t *testing.T) {
	t.Parallel()

	config := mcpClientConfig()
	servers, ok := config["mcpServers"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, servers, "dendrite")
}
