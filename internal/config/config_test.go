package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// envSnapshot saves and clears TASKPIPE_ environment variables.
func envSnapshot(t *testing.T) func() {
	t.Helper()
	saved := make(map[string]string)
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "TASKPIPE_") {
			parts := strings.SplitN(env, "=", 2)
			key := parts[0]
			saved[key] = os.Getenv(key)
			os.Unsetenv(key)
		}
	}
	return func() {
		for _, env := range os.Environ() {
			if strings.HasPrefix(env, "TASKPIPE_") {
				parts := strings.SplitN(env, "=", 2)
				os.Unsetenv(parts[0])
			}
		}
		for key, val := range saved {
			os.Setenv(key, val)
		}
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	restore := envSnapshot(t)
	defer restore()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 16*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 10, cfg.MaxConcurrency)
	assert.Equal(t, 1024, cfg.MaxPending)
	assert.Equal(t, uint64(64), cfg.ExpireEveryNTicks)
	assert.Equal(t, 30*time.Second, cfg.CorrelationTTL)
	assert.Equal(t, 512, cfg.DedupCapacity)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxBackoff)
}

func TestLoadYamlOverridesDefaults(t *testing.T) {
	restore := envSnapshot(t)
	defer restore()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-concurrency: 4\nbase-url: https://example.test\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, "https://example.test", cfg.BaseURL)
	assert.Equal(t, 16*time.Millisecond, cfg.TickInterval, "unset fields keep their default")
}

func TestLoadEnvOverridesYaml(t *testing.T) {
	restore := envSnapshot(t)
	defer restore()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max-concurrency: 4\n"), 0o644))

	os.Setenv("TASKPIPE_MAX_CONCURRENCY", "7")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxConcurrency, "environment variable takes precedence over the file")
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	restore := envSnapshot(t)
	defer restore()

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.MaxConcurrency)
}
