//go:build !windows

package process

import (
	"fmt"
	"strings"
)

// buildWrapperScript prepends `set +e`, runs command, and appends the
// marker-bracketed pwd/env dump, preserving the command's own exit status.
// The shell tag is unused on POSIX: zsh, bash, and sh all accept the same
// Bourne syntax here.
func buildWrapperScript(m markerSet, command, _ string) string {
	var b strings.Builder
	b.WriteString("set +e\n")
	b.WriteString("{\n")
	b.WriteString(command)
	b.WriteString("\n}\n")
	b.WriteString("__loaf_exit=$?\n")
	fmt.Fprintf(&b, "printf '%%s\\n' '%s'\n", m.cwdStart)
	b.WriteString("pwd\n")
	fmt.Fprintf(&b, "printf '%%s\\n' '%s'\n", m.cwdEnd)
	fmt.Fprintf(&b, "printf '%%s\\n' '%s'\n", m.envStart)
	b.WriteString("env\n")
	fmt.Fprintf(&b, "printf '%%s\\n' '%s'\n", m.envEnd)
	b.WriteString("exit $__loaf_exit\n")
	return b.String()
}

// wrapperExecArgs runs the wrapper script through the resolved shell as a
// login shell, so the user's PATH setup applies.
func wrapperExecArgs(shellPath, _, script string) (prog string, args []string) {
	return shellPath, []string{"-lc", script}
}
