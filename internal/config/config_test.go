package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.True(t, cfg.InMemory())
	assert.Equal(t, slog.LevelInfo, cfg.Level())
}

func TestLoad_File(t *testing.T) {
	path := writeFile(t, "relgraph.yaml", `
backend: badger
path: /var/lib/relgraph
log_level: debug
order: lifo
schema: ./schema
badger:
  sync_writes: false
  gc_interval: 30s
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, &Config{
		Backend:  BackendBadger,
		Path:     "/var/lib/relgraph",
		LogLevel: "debug",
		Order:    "lifo",
		Schema:   "./schema",
		Badger:   BadgerConfig{SyncWrites: false, GCInterval: 30 * time.Second},
	}, cfg)
	assert.False(t, cfg.InMemory())
	assert.Equal(t, slog.LevelDebug, cfg.Level())
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_UnknownField(t *testing.T) {
	_, err := Load(writeFile(t, "bad.yaml", "backend: sqlite\nbakend: badger\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bakend")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "relgraph.yaml", "backend: sqlite\npath: file.db\n")
	t.Setenv("RELGRAPH_BACKEND", "badger")
	t.Setenv("RELGRAPH_PATH", "/tmp/badger")
	t.Setenv("RELGRAPH_BADGER_SYNC_WRITES", "false")
	t.Setenv("RELGRAPH_BADGER_GC_INTERVAL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Backend)
	assert.Equal(t, "/tmp/badger", cfg.Path)
	assert.False(t, cfg.Badger.SyncWrites)
	assert.Equal(t, time.Minute, cfg.Badger.GCInterval)
}

func TestApplyEnv_BadValues(t *testing.T) {
	tests := map[string]string{
		"RELGRAPH_BADGER_SYNC_WRITES": "maybe",
		"RELGRAPH_BADGER_GC_INTERVAL": "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			err := Default().ApplyEnv(func(k string) (string, bool) {
				if k == key {
					return value, true
				}
				return "", false
			})
			assert.ErrorContains(t, err, key)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Backend = "postgres"
	cfg.LogLevel = "loud"
	cfg.Order = "random"
	cfg.Badger.GCInterval = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"backend", "log_level", "order", "gc_interval"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "RELGRAPH_ORDER=lifo\nRELGRAPH_LOG_LEVEL=warn\n")
	t.Setenv("RELGRAPH_LOG_LEVEL", "error")
	// Registers cleanup for the variable LoadEnvFile sets.
	t.Setenv("RELGRAPH_ORDER", "")
	require.NoError(t, os.Unsetenv("RELGRAPH_ORDER"))

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env"), path))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "lifo", cfg.Order)
	assert.Equal(t, slog.LevelError, cfg.Level(), "set variables win over the .env file")
}
