package client

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigPathUsesXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	assert.Equal(t, filepath.Join(dir, "loqa-sign", "client.toml"), DefaultConfigPath())
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), cfg.Apply(DefaultSettings()))
}

func TestLoadConfigOverlaysSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte("daemon_url = \"http://pi.local:8090\"\nrefresh_ms = 500\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	s := cfg.Apply(DefaultSettings())
	assert.Equal(t, "http://pi.local:8090", s.DaemonURL)
	assert.Equal(t, 500*time.Millisecond, s.Refresh)
	assert.Equal(t, 2*time.Second, s.Timeout)
}

func TestLoadConfigRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte("daemon_url = ["), 0o644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
	_, err = LoadConfig("")
	assert.Error(t, err)
}

func TestTemplateDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.toml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultConfigTemplate()), 0o644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NotNil(t, cfg.RefreshMS)
	assert.Equal(t, 200, *cfg.RefreshMS)
}
