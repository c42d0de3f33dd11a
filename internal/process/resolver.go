package process

import (
	"fmt"
	"os/exec"
	"sync"

	"github.com/crabmiau/loaf/internal/loaferr"
)

// Resolver probes candidate shells once per process and caches the result
// (spec §C2/§5 "the shell-availability cache is process-wide"). POSIX
// probes zsh, then bash, then sh; Windows probes powershell, then cmd.
type Resolver struct {
	candidates []string

	once     sync.Once
	resolved string
	tag      string
	lookErr  error
}

func NewResolver(configuredCandidates []string) *Resolver {
	return &Resolver{candidates: platformCandidates(configuredCandidates)}
}

// Resolve returns the path of the first available candidate shell,
// memoized after the first call.
func (r *Resolver) Resolve() (string, error) {
	r.once.Do(func() {
		for _, candidate := range r.candidates {
			if path, err := exec.LookPath(candidate); err == nil {
				r.resolved = path
				r.tag = candidate
				return
			}
		}
		r.lookErr = loaferr.New(loaferr.EnvUnavailable, fmt.Sprintf("no runnable shell found among %v", r.candidates))
	})
	if r.lookErr != nil {
		return "", r.lookErr
	}
	return r.resolved, nil
}

// Tag returns the resolved shell's candidate name (zsh, bash, sh,
// powershell, or cmd), or "" when resolution failed.
func (r *Resolver) Tag() string {
	if _, err := r.Resolve(); err != nil {
		return ""
	}
	return r.tag
}

// LoginArgs returns the argv for starting the resolved shell as an
// interactive login shell (used by background sessions started without a
// command).
func (r *Resolver) LoginArgs() ([]string, error) {
	shell, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	return loginArgs(shell), nil
}
