package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/tradepost/internal/client/api"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, data map[string]any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.json")
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func noEnv(string) string { return "" }

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, api.DefaultBaseURL, c.APIBaseURL)
	assert.Equal(t, 5*time.Second, c.ConversationPollInterval)
	assert.Equal(t, 3*time.Second, c.MessagePollInterval)
	assert.Zero(t, c.HTTPTimeout)
	assert.False(t, c.OwnerScanFallback)
	assert.NotEmpty(t, c.StateDir)
}

func TestLoad_NoSourcesGivesDefaults(t *testing.T) {
	cfg, err := Load(nil, noEnv)
	require.NoError(t, err)

	var want Config
	want.LoadDefaults()
	assert.Empty(t, cmp.Diff(&want, cfg))
}

func TestLoad_Precedence(t *testing.T) {
	path := writeTempJSON(t, map[string]any{
		"api_base_url":               "http://json.example/api/v1",
		"conversation_poll_interval": "10s",
		"message_poll_interval":      int64(2 * time.Second),
		"env":                        "local",
		"log_level":                  "debug",
		"http_timeout":               "30s",
	})
	env := map[string]string{EnvAPIBaseURL: "http://env.example/api/v1", EnvEnv: "dev"}

	t.Run("json only", func(t *testing.T) {
		cfg, err := Load([]string{"-c", path}, noEnv)
		require.NoError(t, err)
		assert.Equal(t, "http://json.example/api/v1", cfg.APIBaseURL)
		assert.Equal(t, 10*time.Second, cfg.ConversationPollInterval)
		assert.Equal(t, 2*time.Second, cfg.MessagePollInterval)
		assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
		assert.Equal(t, "local", cfg.Env)
	})

	t.Run("env over json", func(t *testing.T) {
		cfg, err := Load([]string{"-config", path}, func(k string) string { return env[k] })
		require.NoError(t, err)
		assert.Equal(t, "http://env.example/api/v1", cfg.APIBaseURL)
		assert.Equal(t, "dev", cfg.Env)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("flags over env", func(t *testing.T) {
		args := []string{"-c", path, "-a", "http://flag.example/api/v1", "-cp", "7", "-scan"}
		cfg, err := Load(args, func(k string) string { return env[k] })
		require.NoError(t, err)
		assert.Equal(t, "http://flag.example/api/v1", cfg.APIBaseURL)
		assert.Equal(t, 7*time.Second, cfg.ConversationPollInterval)
		assert.Equal(t, 2*time.Second, cfg.MessagePollInterval, "unset flag keeps the json value")
		assert.True(t, cfg.OwnerScanFallback)
	})
}

func TestLoad_Errors(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

	tests := []struct {
		name string
		args []string
	}{
		{name: "invalid json", args: []string{"-c", bad}},
		{name: "missing file", args: []string{"-c", filepath.Join(t.TempDir(), "none.json")}},
		{name: "non-numeric interval", args: []string{"-cp", "abc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args, noEnv)
			assert.Error(t, err)
		})
	}
}

func TestLoad_IgnoresForeignFlags(t *testing.T) {
	cfg, err := Load([]string{"-x", "1", "-e", "dev", "--verbose"}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.Env)
}
