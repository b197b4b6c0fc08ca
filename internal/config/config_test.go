package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "meshforge.db", cfg.DBPath)
	assert.Equal(t, "Assets", cfg.ContentRoot)
	assert.Equal(t, "Generated", cfg.GeneratedDir)
	assert.Equal(t, 3, cfg.PollRetrySeconds)
	assert.Equal(t, 60, cfg.RecencyWindowSeconds)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshforge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
content_root: /srv/assets
poll_retry_seconds: 7
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/srv/assets", cfg.ContentRoot)
	assert.Equal(t, 7, cfg.PollRetrySeconds)
	// Unset keys keep their defaults.
	assert.Equal(t, "meshforge.db", cfg.DBPath)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("MESHFORGE_ADDR", ":7070")
	t.Setenv("MESHFORGE_POLL_RETRY_SECONDS", "11")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, 11, cfg.PollRetrySeconds)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MESHFORGE_POLL_RETRY_SECONDS", "-2")
	t.Setenv("MESHFORGE_RECENCY_WINDOW_SECONDS", "0")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.PollRetrySeconds)
	assert.Equal(t, 60, cfg.RecencyWindowSeconds)
}
