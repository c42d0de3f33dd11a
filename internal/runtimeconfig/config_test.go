package runtimeconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, validate(cfg))

	assert.Equal(t, 120, cfg.Process.DefaultTimeoutSeconds)
	assert.Equal(t, 1200, cfg.Process.MaxTimeoutSeconds)
	assert.Equal(t, 300000, cfg.Session.StreamBufferChars)
	assert.Equal(t, 120, cfg.Session.DefaultCols)
	assert.Equal(t, 36, cfg.Session.DefaultRows)
	assert.InDelta(t, 0.82, cfg.Compaction.HighWatermarkRatio, 1e-9)
	assert.InDelta(t, 0.58, cfg.Compaction.TargetRatio, 1e-9)
	assert.Equal(t, "__LOAF_BASH_", cfg.Shell.MarkerPrefix)
}

func TestValidateRejectsBadRatios(t *testing.T) {
	cfg := Default()
	cfg.Compaction.TargetRatio = 0.95
	cfg.Compaction.HighWatermarkRatio = 0.50
	err := validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targetRatio")
}

func TestValidateRejectsBadTerminalBounds(t *testing.T) {
	cfg := Default()
	cfg.Session.MinCols = 5
	require.Error(t, validate(cfg))
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("LOAF_PROCESS_DEFAULTTIMEOUTSECONDS", "30")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Process.DefaultTimeoutSeconds)
}

func TestConfigFileMerge(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("session:\n  defaultCols: 100\n"), 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Session.DefaultCols)
	// Unset keys keep their defaults.
	assert.Equal(t, 36, cfg.Session.DefaultRows)
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "process:")
}
