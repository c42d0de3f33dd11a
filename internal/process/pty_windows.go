//go:build windows

package process

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/UserExistsError/conpty"
)

type windowsPTY struct{ cpty *conpty.ConPty }

func (p *windowsPTY) Read(b []byte) (int, error)  { return p.cpty.Read(b) }
func (p *windowsPTY) Write(b []byte) (int, error) { return p.cpty.Write(b) }
func (p *windowsPTY) Close() error                { return p.cpty.Close() }

func (p *windowsPTY) Resize(cols, rows uint16) error {
	return p.cpty.Resize(int(cols), int(rows))
}

// startPTY starts cmd attached to a Windows ConPTY sized cols x rows.
func startPTY(cmd *exec.Cmd, cols, rows int) (ptyHandle, error) {
	cmdLine := strings.Join(cmd.Args, " ")
	if len(cmd.Args) == 0 {
		cmdLine = cmd.Path
	}

	opts := []conpty.ConPtyOption{conpty.ConPtyDimensions(cols, rows)}
	if cmd.Dir != "" {
		opts = append(opts, conpty.ConPtyWorkDir(cmd.Dir))
	}
	if cmd.Env != nil {
		opts = append(opts, conpty.ConPtyEnv(cmd.Env))
	}

	cpty, err := conpty.Start(cmdLine, opts...)
	if err != nil {
		return nil, err
	}

	proc, err := os.FindProcess(int(cpty.Pid()))
	if err != nil {
		_ = cpty.Close()
		return nil, fmt.Errorf("failed to find ConPTY process %d: %w", cpty.Pid(), err)
	}
	cmd.Process = proc

	return &windowsPTY{cpty: cpty}, nil
}

// preservedSystemEnvKeys are the variables a Windows PTY spawn needs even
// when the caller's environment overrides strip them, or commands that
// depend on system binaries (git, node, ...) fail to spawn (spec §4.2
// "Platform guard").
func preservedSystemEnvKeys() []string {
	return []string{"Path", "PATH", "SystemRoot", "SYSTEMROOT", "ComSpec", "COMSPEC"}
}
