package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fang088/FF-KB-Robot/internal/config"
)

func TestConfigCmd_InitWritesTemplate(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	out, err := runCLI(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote config template")

	path := config.GetUserConfigPath()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "llm:")
	assert.Contains(t, string(data), "hnsw:")

	// Template must load cleanly.
	_, err = config.LoadBytes(data)
	require.NoError(t, err)

	// Second init without --force refuses.
	_, err = runCLI(t, "config", "init")
	require.Error(t, err)

	// --force backs up the existing file before overwriting.
	out, err = runCLI(t, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up existing config")

	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestConfigCmd_ShowRedactsKeys(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("KBROBOT_LLM_API_KEY", "sk-secret")

	out, err := runCLI(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "model: gpt-4o-mini")
	assert.NotContains(t, out, "sk-secret")
}

func TestConfigCmd_Path(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	out, err := runCLI(t, "config", "path")
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "kbrobot", "config.yaml"))
}
