package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/burrowdb/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultListen, cfg.Listen)

	mem, err := cfg.MemoryBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(64*1024*1024), mem)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"listen: \":7777\"\nmemory: 1GB\nmetrics_listen: \":9100\"\nlog_json: true\n"), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Listen)
	assert.Equal(t, ":9100", cfg.MetricsListen)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "info", cfg.LogLevel) // defaulted

	mem, err := cfg.MemoryBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), mem)
}

func TestMemoryUnits(t *testing.T) {
	for in, want := range map[string]int64{
		"64KB":  64 << 10,
		"64MB":  64 << 20,
		"2GB":   2 << 30,
		"8192B": 8192,
	} {
		cfg := Config{Memory: in}
		got, err := cfg.MemoryBytes()
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestBadMemoryRejected(t *testing.T) {
	for _, in := range []string{"lots", "-5MB", ""} {
		cfg := Config{Memory: in}
		_, err := cfg.MemoryBytes()
		if !errors.Is(err, types.ErrInvalidMem) {
			t.Errorf("Memory %q: %v", in, err)
		}
	}
}
