//go:build !windows

package process

import (
	"os/exec"
	"syscall"
)

// setProcGroup isolates cmd in its own process group so the whole subtree
// can be signaled together.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to every process in pid's group, falling back to
// signaling pid alone if the group lookup fails.
func signalGroup(pid int, sig syscall.Signal) error {
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return syscall.Kill(pid, sig)
	}
	return syscall.Kill(-pgid, sig)
}

func terminateSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal      { return syscall.SIGKILL }

// exitStatus extracts exit code and signal name from a completed exec.Cmd's error.
func exitStatus(err error) (code int, signal string) {
	if err == nil {
		return 0, ""
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return 1, ""
	}
	waitStatus, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return 1, ""
	}
	if waitStatus.Signaled() {
		return 128 + int(waitStatus.Signal()), waitStatus.Signal().String()
	}
	return waitStatus.ExitStatus(), ""
}
