//go:build !windows

package process

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crabmiau/loaf/internal/logger"
	"github.com/crabmiau/loaf/internal/runtimeconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, bufferChars int) *Runner {
	t.Helper()
	cfg := runtimeconfig.Default()
	if bufferChars <= 0 {
		bufferChars = cfg.Session.StreamBufferChars
	}
	return NewRunner(cfg.Process, bufferChars, logger.Default())
}

func TestRunnerCapturesStdoutAndStderr(t *testing.T) {
	runner := newTestRunner(t, 0)
	res, err := runner.Run(context.Background(), RunRequest{
		Command: "printf out; printf err 1>&2",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "out", res.Stdout)
	assert.Equal(t, "err", res.Stderr)
	assert.False(t, res.TimedOut)
	assert.False(t, res.Aborted)
}

func TestRunnerReportsExitCode(t *testing.T) {
	runner := newTestRunner(t, 0)
	res, err := runner.Run(context.Background(), RunRequest{Command: "exit 7"})
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}

func TestRunnerRequiresCommand(t *testing.T) {
	runner := newTestRunner(t, 0)
	_, err := runner.Run(context.Background(), RunRequest{})
	require.Error(t, err)
}

func TestRunnerTimeoutKillsChild(t *testing.T) {
	runner := newTestRunner(t, 0)
	start := time.Now()
	res, err := runner.Run(context.Background(), RunRequest{
		Command: "sleep 30",
		Timeout: 200 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunnerAbortOnContextCancel(t *testing.T) {
	runner := newTestRunner(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	res, err := runner.Run(ctx, RunRequest{Command: "sleep 30"})
	require.NoError(t, err)
	assert.True(t, res.Aborted)
	assert.False(t, res.TimedOut)
}

func TestRunnerTruncatesOversizeOutput(t *testing.T) {
	runner := newTestRunner(t, 50)
	res, err := runner.Run(context.Background(), RunRequest{
		Command: `i=0; while [ $i -lt 20 ]; do printf 0123456789; i=$((i+1)); done`,
	})
	require.NoError(t, err)
	assert.True(t, res.StdoutTruncated)
	assert.Len(t, res.Stdout, 50)
}

func TestRunnerSettlesWhenGrandchildHoldsPipe(t *testing.T) {
	runner := newTestRunner(t, 0)
	start := time.Now()
	// The backgrounded sleep inherits stdout and keeps the pipe open long
	// after the parent shell exits; the grace window must settle the run.
	res, err := runner.Run(context.Background(), RunRequest{
		Command: "printf done; sleep 20 & exit 0",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "done")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunnerAppliesEnvDelta(t *testing.T) {
	runner := newTestRunner(t, 0)
	res, err := runner.Run(context.Background(), RunRequest{
		Command: "printf '%s' \"$LOAF_RUNNER_PROBE\"",
		Env:     map[string]string{"LOAF_RUNNER_PROBE": "wired"},
	})
	require.NoError(t, err)
	assert.Equal(t, "wired", res.Stdout)
}

func TestRunnerWorkingDirOverride(t *testing.T) {
	runner := newTestRunner(t, 0)
	dir := t.TempDir()
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	res, err := runner.Run(context.Background(), RunRequest{
		Command:    "pwd -P",
		WorkingDir: dir,
	})
	require.NoError(t, err)
	assert.Equal(t, resolved, strings.TrimSpace(res.Stdout))
}
