// ABOUTME: Tests for concierge configuration loading.
// ABOUTME: Covers env expansion, duration parsing, defaults, and validation.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const minimalConfig = `
matrix:
  homeserver: https://matrix.example.org
  user_id: "@concierge:example.org"
  access_token: secret-token
agent:
  api_key: sk-test
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://matrix.example.org", cfg.Matrix.Homeserver)
	assert.Equal(t, "@concierge:example.org", cfg.Matrix.UserID)
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxDepth, cfg.Queue.MaxDepth)
	assert.Equal(t, DefaultStaleAge, cfg.Queue.StaleAge)
	assert.Equal(t, DefaultSweepInterval, cfg.Queue.SweepInterval)
	assert.Equal(t, "data/sessions.db", cfg.Session.Path)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_CONCIERGE_TOKEN", "expanded-token")
	content := `
matrix:
  homeserver: https://matrix.example.org
  user_id: "@concierge:example.org"
  access_token: ${TEST_CONCIERGE_TOKEN}
agent:
  api_key: sk-test
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, "expanded-token", cfg.Matrix.AccessToken)
}

func TestLoad_Durations(t *testing.T) {
	content := minimalConfig + `
queue:
  stale_age: 1h
  sweep_interval: 90s
renderer:
  refresh_interval: 45s
  progress_interval: 3s
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Queue.StaleAge)
	assert.Equal(t, 90*time.Second, cfg.Queue.SweepInterval)
	assert.Equal(t, 45*time.Second, cfg.Renderer.RefreshInterval)
	assert.Equal(t, 3*time.Second, cfg.Renderer.ProgressInterval)
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := minimalConfig + `
queue:
  stale_age: not-a-duration
`
	_, err := Load(writeConfig(t, content))
	assert.Error(t, err)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	cases := map[string]string{
		"homeserver": `
matrix:
  user_id: "@c:example.org"
  access_token: tok
agent:
  api_key: sk
`,
		"access token": `
matrix:
  homeserver: https://matrix.example.org
  user_id: "@c:example.org"
agent:
  api_key: sk
`,
		"api key": `
matrix:
  homeserver: https://matrix.example.org
  user_id: "@c:example.org"
  access_token: tok
`,
	}
	for name, content := range cases {
		_, err := Load(writeConfig(t, content))
		assert.Error(t, err, name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
