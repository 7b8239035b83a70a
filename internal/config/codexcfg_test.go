package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCodexConfig(t *testing.T, path, approvalPolicy, sandboxMode string) {
	t.Helper()
	body := "approval_policy = \"" + approvalPolicy + "\"\nsandbox_mode = \"" + sandboxMode + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestCodexDefaultsReadsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeCodexConfig(t, path, "on-request", "workspace-write")

	d := NewCodexDefaults(path)
	defer d.Close()

	approvalPolicy, sandbox := d.DefaultRunSettings()
	assert.Equal(t, "on-request", approvalPolicy)
	assert.Equal(t, "workspace-write", sandbox)
}

func TestCodexDefaultsMissingFile(t *testing.T) {
	d := NewCodexDefaults(filepath.Join(t.TempDir(), "config.toml"))
	defer d.Close()

	approvalPolicy, sandbox := d.DefaultRunSettings()
	assert.Empty(t, approvalPolicy)
	assert.Empty(t, sandbox)
}

func TestCodexDefaultsPartialConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("sandbox_mode = \"read-only\"\n"), 0o644))

	d := NewCodexDefaults(path)
	defer d.Close()

	approvalPolicy, sandbox := d.DefaultRunSettings()
	assert.Empty(t, approvalPolicy)
	assert.Equal(t, "read-only", sandbox)
}

func TestCodexDefaultsReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	writeCodexConfig(t, path, "on-request", "read-only")

	d := NewCodexDefaults(path)
	defer d.Close()
	require.NoError(t, d.Watch())

	writeCodexConfig(t, path, "never", "danger-full-access")

	require.Eventually(t, func() bool {
		approvalPolicy, sandbox := d.DefaultRunSettings()
		return approvalPolicy == "never" && sandbox == "danger-full-access"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestCodexDefaultsCloseIdempotent(t *testing.T) {
	d := NewCodexDefaults(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, d.Watch())
	d.Close()
	d.Close()
}
