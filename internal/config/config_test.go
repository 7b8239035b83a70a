package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8420", cfg.ListenAddr)
	assert.Equal(t, "codex", cfg.CodexExecutable)
	assert.Equal(t, 5*time.Second, cfg.TranslateTimeout)
	assert.NotEmpty(t, cfg.CodexHome)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CODEX_BRIDGE_LISTEN_ADDR", ":9999")
	t.Setenv("CODEX_BRIDGE_CODEX_EXECUTABLE", "/opt/codex/bin/codex")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "/opt/codex/bin/codex", cfg.CodexExecutable)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.toml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen_addr = \":7000\"\ntranslate_timeout = \"2s\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Equal(t, 2*time.Second, cfg.TranslateTimeout)
	assert.Equal(t, "codex", cfg.CodexExecutable)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestCodexHomeFromEnv(t *testing.T) {
	t.Setenv("CODEX_HOME", "/srv/codex-home")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/codex-home", cfg.CodexHome)
	assert.Equal(t, filepath.Join("/srv/codex-home", "config.toml"), cfg.CodexConfigPath())
}
