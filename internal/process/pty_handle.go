package process

import "io"

// ptyHandle abstracts pseudo-terminal operations across platforms: creack/pty
// on POSIX, Windows ConPTY elsewhere.
type ptyHandle interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}
