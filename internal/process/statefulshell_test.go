//go:build !windows

package process

import (
	"context"
	"strings"
	"testing"

	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/crabmiau/loaf/internal/logger"
	"github.com/crabmiau/loaf/internal/runtimeconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestShell(t *testing.T) *StatefulShell {
	t.Helper()
	cfg := runtimeconfig.Default()
	log := logger.Default()
	runner := NewRunner(cfg.Process, cfg.Session.StreamBufferChars, log)
	return NewStatefulShell(runner, NewResolver(nil), cfg.Shell, cfg.Process, log)
}

func TestMarkerExtraction(t *testing.T) {
	m := markerSet{
		cwdStart: "__LOAF_BASH_1_aa__CWD_START",
		cwdEnd:   "__LOAF_BASH_1_aa__CWD_END",
		envStart: "__LOAF_BASH_1_aa__ENV_START",
		envEnd:   "__LOAF_BASH_1_aa__ENV_END",
	}
	stdout := "user output\n" +
		m.cwdStart + "\n/tmp/somewhere\n" + m.cwdEnd + "\n" +
		m.envStart + "\nFOO=bar\nPATH=/usr/bin\nWITH=EQ=SIGN\n" + m.envEnd + "\n"

	cleaned, cwd, env, captured := m.extract(stdout)
	require.True(t, captured)
	assert.Equal(t, "user output\n", cleaned)
	assert.Equal(t, "/tmp/somewhere", cwd)
	assert.Equal(t, "bar", env["FOO"])
	assert.Equal(t, "EQ=SIGN", env["WITH"]) // split on first '=' only
}

func TestMarkerExtractionMissingMarkers(t *testing.T) {
	m := newMarkerSet("__LOAF_BASH_")
	cleaned, _, _, captured := m.extract("just output, shell crashed before markers\n")
	assert.False(t, captured)
	assert.Equal(t, "just output, shell crashed before markers\n", cleaned)
}

func TestWrapperScriptShape(t *testing.T) {
	m := newMarkerSet("__LOAF_BASH_")
	script := buildWrapperScript(m, "echo hi", "bash")
	assert.True(t, strings.HasPrefix(script, "set +e\n"))
	assert.Contains(t, script, "echo hi")
	assert.Contains(t, script, m.cwdStart)
	assert.Contains(t, script, m.envEnd)
	assert.Contains(t, script, "exit $__loaf_exit")
}

func TestWrapperExecArgsUsesResolvedShell(t *testing.T) {
	prog, args := wrapperExecArgs("/bin/zsh", "zsh", "exit 0")
	assert.Equal(t, "/bin/zsh", prog)
	assert.Equal(t, []string{"-lc", "exit 0"}, args)
}

func TestMarkerSetsAreUniquePerInvocation(t *testing.T) {
	a := newMarkerSet("__LOAF_BASH_")
	b := newMarkerSet("__LOAF_BASH_")
	assert.NotEqual(t, a.cwdStart, b.cwdStart)
}

func TestShellRejectsEmptyCommand(t *testing.T) {
	shell := newTestShell(t)
	_, err := shell.Run(context.Background(), BashRequest{Command: "   "})
	require.Error(t, err)
	kind, ok := loaferr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, loaferr.InvalidInput, kind)
}

func TestShellCwdPersistsAcrossCalls(t *testing.T) {
	shell := newTestShell(t)
	ctx := context.Background()

	first, err := shell.Run(ctx, BashRequest{Command: "cd /"})
	require.NoError(t, err)
	require.True(t, first.CapturedState)
	require.Equal(t, "/", first.CwdAfter)

	second, err := shell.Run(ctx, BashRequest{Command: "pwd"})
	require.NoError(t, err)
	assert.Equal(t, "/", strings.TrimSpace(second.Stdout))
	assert.Equal(t, "/", second.CwdAfter)
}

func TestShellEnvPersistsAcrossCalls(t *testing.T) {
	shell := newTestShell(t)
	ctx := context.Background()

	_, err := shell.Run(ctx, BashRequest{Command: "export LOAF_TEST_VALUE=persisted"})
	require.NoError(t, err)

	res, err := shell.Run(ctx, BashRequest{Command: "echo $LOAF_TEST_VALUE"})
	require.NoError(t, err)
	assert.Equal(t, "persisted", strings.TrimSpace(res.Stdout))
}

func TestShellResetSessionClearsBaseline(t *testing.T) {
	shell := newTestShell(t)
	ctx := context.Background()

	_, err := shell.Run(ctx, BashRequest{Command: "cd /tmp && export LOAF_RESET_PROBE=x"})
	require.NoError(t, err)

	res, err := shell.Run(ctx, BashRequest{Command: "echo ${LOAF_RESET_PROBE:-unset}", ResetSession: true})
	require.NoError(t, err)
	assert.Equal(t, "unset", strings.TrimSpace(res.Stdout))
}

func TestShellPreservesExitCode(t *testing.T) {
	shell := newTestShell(t)
	res, err := shell.Run(context.Background(), BashRequest{Command: "exit 42"})
	require.NoError(t, err)
	assert.Equal(t, 42, res.ExitCode)
	// State capture still ran after the failing command.
	assert.True(t, res.CapturedState)
}

func TestShellSessionsAreIsolatedByKey(t *testing.T) {
	shell := newTestShell(t)
	ctx := context.Background()

	_, err := shell.Run(ctx, BashRequest{SessionKey: "a", Command: "cd /"})
	require.NoError(t, err)

	res, err := shell.Run(ctx, BashRequest{SessionKey: "b", Command: "pwd"})
	require.NoError(t, err)
	assert.NotEqual(t, "", strings.TrimSpace(res.Stdout))
	assert.NotEqual(t, "/", shellBaselineCwd(shell, "b"))
}

func shellBaselineCwd(s *StatefulShell, key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baselines[key].Cwd
}
