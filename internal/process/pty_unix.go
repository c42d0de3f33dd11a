//go:build !windows

package process

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
)

type unixPTY struct{ f *os.File }

func (p *unixPTY) Read(b []byte) (int, error)  { return p.f.Read(b) }
func (p *unixPTY) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *unixPTY) Close() error                { return p.f.Close() }

func (p *unixPTY) Resize(cols, rows uint16) error {
	return pty.Setsize(p.f, &pty.Winsize{Cols: cols, Rows: rows})
}

// startPTY starts cmd attached to a Unix PTY sized cols x rows.
func startPTY(cmd *exec.Cmd, cols, rows int) (ptyHandle, error) {
	f, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, err
	}
	return &unixPTY{f: f}, nil
}

// preservedSystemEnvKeys is empty on POSIX; the Windows PATH-rehydration
// guard in spec §4.2 is Windows-specific.
func preservedSystemEnvKeys() []string { return nil }
