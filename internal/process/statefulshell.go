package process

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/crabmiau/loaf/internal/logger"
	"github.com/crabmiau/loaf/internal/runtimeconfig"
	"go.uber.org/zap"
)

// Baseline is the process-wide (or, per session key, per-logical-session)
// cwd/env state used by the next foreground bash invocation. spec.md §9
// notes the original keeps a single process-global baseline; this
// reimplementation keys it by session so multi-session reuse stays
// possible without changing single-user semantics when callers use one key.
type Baseline struct {
	Cwd string
	Env map[string]string
}

func (b Baseline) clone() Baseline {
	env := make(map[string]string, len(b.Env))
	for k, v := range b.Env {
		env[k] = v
	}
	return Baseline{Cwd: b.Cwd, Env: env}
}

// BashRequest is a single stateful-shell invocation.
type BashRequest struct {
	SessionKey   string // logical bash-session identity; "" means the default session
	Command      string
	TimeoutSecs  int
	CwdOverride  string
	EnvDelta     map[string]string
	ResetSession bool
}

// BashResult is the outcome of a stateful-shell invocation.
type BashResult struct {
	ExitCode      int
	Signal        string
	Duration      time.Duration
	Stdout        string
	Stderr        string
	StdoutTrunc   bool
	StderrTrunc   bool
	TimedOut      bool
	CwdBefore     string
	CwdAfter      string
	CapturedState bool
}

// StatefulShell wraps a Runner with persistent-cwd/env semantics (spec §4.1).
type StatefulShell struct {
	runner   *Runner
	resolver *Resolver
	cfg      runtimeconfig.ShellConfig
	procCfg  runtimeconfig.ProcessConfig
	logger   *logger.Logger

	mu        sync.Mutex
	baselines map[string]Baseline
}

func NewStatefulShell(runner *Runner, resolver *Resolver, cfg runtimeconfig.ShellConfig, procCfg runtimeconfig.ProcessConfig, log *logger.Logger) *StatefulShell {
	return &StatefulShell{
		runner:    runner,
		resolver:  resolver,
		cfg:       cfg,
		procCfg:   procCfg,
		logger:    log.WithFields(zap.String("component", "stateful-shell")),
		baselines: make(map[string]Baseline),
	}
}

func (s *StatefulShell) key(req BashRequest) string {
	if req.SessionKey == "" {
		return "default"
	}
	return req.SessionKey
}

// Run executes req, advancing the session's baseline on success.
func (s *StatefulShell) Run(ctx context.Context, req BashRequest) (*BashResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, loaferr.New(loaferr.InvalidInput, "command is required")
	}

	key := s.key(req)

	s.mu.Lock()
	baseline, ok := s.baselines[key]
	if !ok {
		baseline = Baseline{Env: map[string]string{}}
	}
	if req.ResetSession {
		baseline = Baseline{Env: map[string]string{}}
	}
	preSnapshot := baseline.clone()
	s.mu.Unlock()

	cwd := baseline.Cwd
	if req.CwdOverride != "" {
		cwd = req.CwdOverride
	}

	shellPath, err := s.resolver.Resolve()
	if err != nil {
		return nil, err
	}
	tag := s.resolver.Tag()

	timeout := time.Duration(req.TimeoutSecs) * time.Second
	if req.TimeoutSecs <= 0 {
		timeout = time.Duration(s.procCfg.DefaultTimeoutSeconds) * time.Second
	}
	maxTimeout := time.Duration(s.procCfg.MaxTimeoutSeconds) * time.Second
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	markers := newMarkerSet(s.cfg.MarkerPrefix)
	script := buildWrapperScript(markers, req.Command, tag)
	prog, args := wrapperExecArgs(shellPath, tag, script)

	mergedEnv := make(map[string]string, len(baseline.Env)+len(req.EnvDelta))
	for k, v := range baseline.Env {
		mergedEnv[k] = v
	}
	for k, v := range req.EnvDelta {
		mergedEnv[k] = v
	}

	runResult, err := s.runner.Run(ctx, RunRequest{
		Prog:       prog,
		Args:       args,
		WorkingDir: cwd,
		Env:        mergedEnv,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, err
	}

	cleanStdout, capturedCwd, capturedEnv, captured := markers.extract(runResult.Stdout)

	result := &BashResult{
		ExitCode:    runResult.ExitCode,
		Signal:      runResult.Signal,
		Duration:    runResult.Duration,
		Stdout:      cleanStdout,
		Stderr:      runResult.Stderr,
		StdoutTrunc: runResult.StdoutTruncated,
		StderrTrunc: runResult.StderrTruncated,
		TimedOut:    runResult.TimedOut,
		CwdBefore:   cwd,
		CwdAfter:    cwd,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if captured {
		result.CapturedState = true
		result.CwdAfter = capturedCwd
		s.baselines[key] = Baseline{Cwd: capturedCwd, Env: capturedEnv}
	} else {
		// Markers missing: roll environment back to the pre-call snapshot
		// but keep any explicit cwd override, per spec §4.1.
		rolledBack := preSnapshot
		if req.CwdOverride != "" {
			rolledBack.Cwd = req.CwdOverride
		}
		s.baselines[key] = rolledBack
		result.CwdAfter = rolledBack.Cwd
	}

	return result, nil
}

// markerSet is one invocation's unique bracketing tokens.
type markerSet struct {
	cwdStart, cwdEnd, envStart, envEnd string
}

func newMarkerSet(prefix string) markerSet {
	if prefix == "" {
		prefix = "__LOAF_BASH_"
	}
	ms := time.Now().UnixMilli()
	randBytes := make([]byte, 6)
	_, _ = rand.Read(randBytes)
	suffix := fmt.Sprintf("%d_%s", ms, hex.EncodeToString(randBytes))
	base := prefix + suffix + "__"
	return markerSet{
		cwdStart: base + "CWD_START",
		cwdEnd:   base + "CWD_END",
		envStart: base + "ENV_START",
		envEnd:   base + "ENV_END",
	}
}

// extract removes the marker-bracketed block from stdout and, if found in
// full, returns the captured cwd/env as the new baseline.
func (m markerSet) extract(stdout string) (cleaned, cwd string, env map[string]string, captured bool) {
	cwdStartIdx := strings.Index(stdout, m.cwdStart)
	cwdEndIdx := strings.Index(stdout, m.cwdEnd)
	envStartIdx := strings.Index(stdout, m.envStart)
	envEndIdx := strings.Index(stdout, m.envEnd)

	if cwdStartIdx < 0 || cwdEndIdx < 0 || envStartIdx < 0 || envEndIdx < 0 {
		return stdout, "", nil, false
	}

	cwdBlock := stdout[cwdStartIdx+len(m.cwdStart) : cwdEndIdx]
	cwd = strings.TrimSpace(cwdBlock)

	envBlock := stdout[envStartIdx+len(m.envStart) : envEndIdx]
	env = map[string]string{}
	for _, line := range strings.Split(strings.Trim(envBlock, "\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if eq := strings.IndexByte(line, '='); eq >= 0 {
			env[line[:eq]] = line[eq+1:]
		}
	}

	// The marker block begins at cwdStartIdx and ends after envEndIdx's line.
	blockEnd := envEndIdx + len(m.envEnd)
	if nl := strings.IndexByte(stdout[blockEnd:], '\n'); nl >= 0 {
		blockEnd += nl + 1
	} else {
		blockEnd = len(stdout)
	}

	cleaned = stdout[:cwdStartIdx] + stdout[blockEnd:]
	return cleaned, cwd, env, true
}
