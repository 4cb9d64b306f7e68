package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
base_url: https://runner.internal:9404
credentials_file: /etc/pantry/credentials.toml
request_timeout: 45s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := loadFileConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://runner.internal:9404", cfg.BaseURL)
	assert.Equal(t, "/etc/pantry/credentials.toml", cfg.CredentialsFile)
	assert.Equal(t, "45s", cfg.RequestTimeout)
	assert.Empty(t, cfg.SocketPath)
}

func TestLoadFileConfigMissingIsEmpty(t *testing.T) {
	cfg, err := loadFileConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, fileConfig{}, cfg)
}

func TestLoadFileConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o600))

	_, err := loadFileConfig(path)
	assert.Error(t, err)
}

func TestParseParams(t *testing.T) {
	params := parseParams([]string{"system=be brief", "temperature=0.2", "malformed"})
	assert.Equal(t, map[string]string{
		"system":      "be brief",
		"temperature": "0.2",
	}, params)
	assert.Nil(t, parseParams(nil))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
