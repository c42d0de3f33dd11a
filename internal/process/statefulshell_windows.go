//go:build windows

package process

import (
	"fmt"
	"strings"
)

// buildWrapperScript emits the PowerShell or CMD equivalent of the POSIX
// wrapper (spec §4.1): run the command without stopping on failure,
// capture its exit status, print the marker-bracketed cwd/env dump, then
// exit with the saved status.
func buildWrapperScript(m markerSet, command, tag string) string {
	if tag == "cmd" {
		return buildCmdWrapperScript(m, command)
	}
	return buildPowerShellWrapperScript(m, command)
}

func buildPowerShellWrapperScript(m markerSet, command string) string {
	var b strings.Builder
	b.WriteString("$ErrorActionPreference = 'Continue'\n")
	b.WriteString(command)
	b.WriteString("\n")
	// $LASTEXITCODE is unset when the command ran no native executable;
	// fall back to whether the last PowerShell statement succeeded.
	b.WriteString("$__loafOk = $?\n")
	b.WriteString("$__loafExit = $LASTEXITCODE\n")
	b.WriteString("if ($null -eq $__loafExit) { if ($__loafOk) { $__loafExit = 0 } else { $__loafExit = 1 } }\n")
	fmt.Fprintf(&b, "Write-Output '%s'\n", m.cwdStart)
	b.WriteString("Write-Output (Get-Location).Path\n")
	fmt.Fprintf(&b, "Write-Output '%s'\n", m.cwdEnd)
	fmt.Fprintf(&b, "Write-Output '%s'\n", m.envStart)
	b.WriteString("Get-ChildItem Env: | ForEach-Object { Write-Output \"$($_.Name)=$($_.Value)\" }\n")
	fmt.Fprintf(&b, "Write-Output '%s'\n", m.envEnd)
	b.WriteString("exit $__loafExit\n")
	return b.String()
}

// buildCmdWrapperScript joins the steps with "&" into the single line
// cmd.exe accepts; delayed expansion (!errorlevel!, enabled via /v:on in
// wrapperExecArgs) reads the exit status after the command ran rather
// than at parse time.
func buildCmdWrapperScript(m markerSet, command string) string {
	steps := []string{
		"(" + command + ")",
		"set __loaf_exit=!errorlevel!",
		"echo " + m.cwdStart,
		"cd",
		"echo " + m.cwdEnd,
		"echo " + m.envStart,
		"set",
		"echo " + m.envEnd,
		"exit /b !__loaf_exit!",
	}
	return strings.Join(steps, " & ")
}

// wrapperExecArgs runs the wrapper script through the resolved shell:
// powershell without profile loading, or cmd with delayed expansion on.
func wrapperExecArgs(shellPath, tag, script string) (prog string, args []string) {
	if tag == "cmd" {
		return shellPath, []string{"/d", "/v:on", "/c", script}
	}
	return shellPath, []string{"-NoProfile", "-NonInteractive", "-Command", script}
}
