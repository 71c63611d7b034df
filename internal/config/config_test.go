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
	for _, key := range []string{
		"RMF_CONFIG", "DATA_DIR", "FILE_PATTERNS", "MAX_FILE_SIZE", "MAX_WORKERS",
		"CACHE_TTL", "METADATA_TTL", "RESCAN_INTERVAL", "HTTP_ADDR",
		"LOG_LEVEL", "LOG_FILE", "TRACING_ENABLED", "TRACING_PROTOCOL", "TRACING_ENDPOINT",
		"CLICKHOUSE_ENABLED", "CLICKHOUSE_HOST", "CLICKHOUSE_PORT", "CLICKHOUSE_DB",
		"CLICKHOUSE_TABLE", "LOG_RETENTION_DAYS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, []string{"RMFW*.txt", "*.txt", "*.gz", "*.lz4"}, cfg.FilePatterns)
	assert.Equal(t, int64(64*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.MetadataTTL)
	assert.Equal(t, 10*time.Second, cfg.RescanInterval)
	assert.Equal(t, "127.0.0.1:5001", cfg.HTTPAddr)
	assert.False(t, cfg.ClickHouseEnabled)
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/srv/rmf")
	t.Setenv("FILE_PATTERNS", " *.rpt ; ;RMFW*.txt")
	t.Setenv("MAX_FILE_SIZE", "10 MiB")
	t.Setenv("MAX_WORKERS", "8")
	t.Setenv("CACHE_TTL", "5m")
	t.Setenv("RESCAN_INTERVAL", "0")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("TRACING_PROTOCOL", "http")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/rmf", cfg.DataDir)
	assert.Equal(t, []string{"*.rpt", "RMFW*.txt"}, cfg.FilePatterns)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, time.Duration(0), cfg.RescanInterval)
	assert.True(t, cfg.TracingEnabled)
	assert.Equal(t, "http", cfg.TracingProtocol)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "rmf.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /reports
max_file_size: 1MB
max_workers: 2
metadata_ttl: 5s
log:
  level: debug
clickhouse:
  enabled: true
  host: ch.local
  retention_days: 7
`), 0o644))

	t.Setenv("RMF_CONFIG", path)
	t.Setenv("MAX_WORKERS", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/reports", cfg.DataDir)
	assert.Equal(t, int64(1000*1000), cfg.MaxFileSize)
	assert.Equal(t, 3, cfg.MaxWorkers, "environment overrides the file")
	assert.Equal(t, 5*time.Second, cfg.MetadataTTL)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.ClickHouseEnabled)
	assert.Equal(t, "ch.local", cfg.ClickHouseHost)
	assert.Equal(t, 7, cfg.LogRetentionDays)
	assert.Equal(t, "workload_activity", cfg.ClickHouseTable)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "too many workers", env: map[string]string{"MAX_WORKERS": "9"}},
		{name: "zero workers", env: map[string]string{"MAX_WORKERS": "0"}},
		{name: "bad size", env: map[string]string{"MAX_FILE_SIZE": "lots"}},
		{name: "bad protocol", env: map[string]string{"TRACING_PROTOCOL": "udp"}},
		{name: "negative rescan", env: map[string]string{"RESCAN_INTERVAL": "-1s"}},
		{name: "missing config file", env: map[string]string{"RMF_CONFIG": "/nonexistent/rmf.yaml"}},
		{name: "clickhouse bad port", env: map[string]string{"CLICKHOUSE_ENABLED": "true", "CLICKHOUSE_PORT": "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "rmf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_workers: [1, 2"), 0o644))
	t.Setenv("RMF_CONFIG", path)

	_, err := Load()
	assert.Error(t, err)
}
