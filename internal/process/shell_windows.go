//go:build windows

package process

// platformCandidates returns the Windows shell probe order: powershell,
// then cmd.
func platformCandidates(configured []string) []string {
	if len(configured) > 0 {
		return configured
	}
	return []string{"powershell", "cmd"}
}

// ShellExecArgs returns the program and arguments needed to execute a
// command string through the system shell: cmd /c "command".
func ShellExecArgs(command string) (prog string, args []string) {
	return "cmd", []string{"/c", command}
}

func loginArgs(candidate string) []string {
	return []string{candidate}
}
