//go:build windows

package process

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPowerShellWrapperScriptShape(t *testing.T) {
	m := newMarkerSet("__LOAF_BASH_")
	script := buildWrapperScript(m, "Get-Date", "powershell")
	assert.True(t, strings.HasPrefix(script, "$ErrorActionPreference = 'Continue'\n"))
	assert.Contains(t, script, "Get-Date")
	assert.Contains(t, script, m.cwdStart)
	assert.Contains(t, script, "Get-ChildItem Env:")
	assert.Contains(t, script, "exit $__loafExit")
}

func TestCmdWrapperScriptShape(t *testing.T) {
	m := newMarkerSet("__LOAF_BASH_")
	script := buildWrapperScript(m, "dir", "cmd")
	// One line, &-joined; delayed expansion reads errorlevel post-run.
	assert.NotContains(t, script, "\n")
	assert.Contains(t, script, "(dir)")
	assert.Contains(t, script, "set __loaf_exit=!errorlevel!")
	assert.Contains(t, script, "echo "+m.envStart)
	assert.Contains(t, script, "exit /b !__loaf_exit!")
}

func TestWrapperExecArgsWindows(t *testing.T) {
	prog, args := wrapperExecArgs(`C:\Windows\System32\cmd.exe`, "cmd", "dir")
	assert.Equal(t, `C:\Windows\System32\cmd.exe`, prog)
	assert.Equal(t, []string{"/d", "/v:on", "/c", "dir"}, args)

	prog, args = wrapperExecArgs("powershell.exe", "powershell", "Get-Date")
	assert.Equal(t, "powershell.exe", prog)
	assert.Equal(t, []string{"-NoProfile", "-NonInteractive", "-Command", "Get-Date"}, args)
}
