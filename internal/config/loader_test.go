package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)
	assert.Equal(t, "assessments", cfg.Events.SubjectPrefix)
	assert.Len(t, cfg.Rounds, 11)
}

func TestLoadWithFile_YAMLOverrides(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8080
gateway:
  base_url: https://eval.example.com
rounds:
  aptitude:
    pass_threshold: 75
    max_attempts: 3
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://eval.example.com", cfg.Gateway.BaseURL)

	apt := cfg.Rounds["aptitude"]
	assert.Equal(t, 75, apt.PassThreshold)
	assert.Equal(t, 3, apt.MaxAttempts)
	// Unset fields fall back to the built-in table.
	assert.Equal(t, 30*time.Minute, apt.DefaultDuration.Duration())
	// Unmentioned kinds keep their defaults.
	assert.Equal(t, 70, cfg.Rounds["coding"].PassThreshold)
}

func TestLoadWithFile_EnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 8080\n")
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8000, cfg.Server.Port)
}

func TestLoadWithFile_InvalidThreshold(t *testing.T) {
	path := writeConfigFile(t, `
rounds:
  sql:
    pass_threshold: 180
`)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pass_threshold")
}

func TestValidate_EventsRequireURL(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Events.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events url")
}

func TestValidate_GatewayURLScheme(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Gateway.BaseURL = "nats://wrong"

	err := cfg.Validate()
	require.Error(t, err)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("soon")))
}
