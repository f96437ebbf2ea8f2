package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"APPS_SCRIPT_URL", "PORT", "DASHSYNC_BACKEND", "DASHSYNC_SHELL_ORIGIN", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8788, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Relay.TimeoutDur)
	assert.Empty(t, cfg.Relay.Upstream)
	assert.False(t, cfg.Relay.CORS.Strict)
	assert.Equal(t, "uwc-analytics-v1", cfg.Agent.StoreName())
	assert.EqualValues(t, 64<<20, cfg.Agent.RAMMaxBytes)
	assert.True(t, cfg.Agent.DynamicMatchers.Match("/api/fetchAllDashboardData"))
	assert.False(t, cfg.Agent.DynamicMatchers.Match("/app.js"))
	assert.Len(t, cfg.Agent.Precache, 8)
	assert.Equal(t, 5*time.Second, cfg.Sync.RetryDelayDur)
	assert.Equal(t, "open_interactive_model", cfg.Journey.InteractionEvent)
}

func TestLoadConfigFileAndEnvironment(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
relay:
  upstream: https://script.example.com/macros/s/abc/exec
  cors:
    strict: true
agent:
  version: v2
  storage:
    backend: leveldb
    path: /tmp/dashsync-cache
sync:
  backend: https://dash.example.org/
  retryDelay: 2s
`)
	t.Setenv("PORT", "9000")
	t.Setenv("APPS_SCRIPT_URL", "https://script.example.com/macros/s/override/exec")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://script.example.com/macros/s/override/exec", cfg.Relay.Upstream)
	assert.True(t, cfg.Relay.CORS.Strict)
	assert.Equal(t, []string{".pages.dev"}, cfg.Relay.CORS.AllowSuffixes)
	assert.Equal(t, "uwc-analytics-v2", cfg.Agent.StoreName())
	assert.Equal(t, "leveldb", cfg.Agent.Storage.Backend)
	assert.Equal(t, "https://dash.example.org", cfg.Sync.Backend)
	assert.Equal(t, 2*time.Second, cfg.Sync.RetryDelayDur)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name string
		body string
	}{
		{"storage backend", "agent:\n  storage:\n    backend: redis\n"},
		{"credentials backend", "sync:\n  credentials:\n    backend: cookie\n"},
		{"duration", "relay:\n  timeout: soon\n"},
		{"dynamic", "agent:\n  dynamic: Host(example.com)\n"},
		{"ram size", "agent:\n  storage:\n    ram:\n      max: lots\n"},
		{"log level", "logging:\n  level: loud\n"},
		{"port", "server:\n  port: 70000\n"},
		{"trusted host", "agent:\n  trustedHosts: ['not a host']\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 0},
		{"512", 512},
		{"64k", 64 << 10},
		{"64mb", 64 << 20},
		{"1.5g", 3 << 29},
		{" 2 MB ", 2 << 20},
	}
	for _, tt := range tests {
		got, err := ParseBytes(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"b", "-1k", "tenmb"} {
		_, err := ParseBytes(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseMatch(t *testing.T) {
	ms, err := ParseMatch("PathPrefix(/api/) | PathPrefix(/exec)")
	require.NoError(t, err)
	assert.True(t, ms.Match("/api/x"))
	assert.True(t, ms.Match("/exec?x=1"))
	assert.False(t, ms.Match("/apix"))

	for _, bad := range []string{"", "PathPrefix(api)", "Header(X)", "|"} {
		_, err := ParseMatch(bad)
		assert.Error(t, err, bad)
	}
}
