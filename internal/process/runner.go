// Package process implements the tool-execution layer's process plumbing:
// the foreground process runner (C1), shell resolver (C2), stateful shell
// wrapper (C3), and the background session manager (C4).
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/crabmiau/loaf/internal/logger"
	"github.com/crabmiau/loaf/internal/runtimeconfig"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RunRequest describes a single foreground, run-to-completion invocation.
type RunRequest struct {
	// Prog/Args run the command directly. If Prog is empty, Command is
	// executed through the system shell (see ShellExecArgs).
	Prog    string
	Args    []string
	Command string

	WorkingDir string
	Env        map[string]string // delta merged over the parent environment
	Stdin      io.Reader         // nil => stdin is not attached (ignore)
	Timeout    time.Duration     // 0 => runner default; capped at config max
}

// RunResult is the settled outcome of a foreground run.
type RunResult struct {
	ID              string
	ExitCode        int
	Signal          string
	Duration        time.Duration
	Stdout          string
	Stderr          string
	StdoutTruncated bool
	StderrTruncated bool
	TimedOut        bool
	Aborted         bool
}

// Runner executes one-shot foreground commands with ring-buffered capture
// and the exit/close settlement discipline described in spec §4.3: a
// process is not considered finished merely because its pipes closed (a
// detached grandchild can hold them open) nor merely because Wait()
// returned (buffered output may still be draining); it settles when both
// have happened, or when a short grace period after exit elapses first.
type Runner struct {
	logger      *logger.Logger
	cfg         runtimeconfig.ProcessConfig
	bufferChars int
}

func NewRunner(cfg runtimeconfig.ProcessConfig, bufferChars int, log *logger.Logger) *Runner {
	return &Runner{
		logger:      log.WithFields(zap.String("component", "process-runner")),
		cfg:         cfg,
		bufferChars: bufferChars,
	}
}

// Run spawns req, waits for it to settle, and returns the captured result.
// Cancelling ctx aborts the run (SIGTERM immediately, SIGKILL 1.5s later)
// exactly like a timeout expiry does, but is reported as Aborted rather
// than TimedOut.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = time.Duration(r.cfg.DefaultTimeoutSeconds) * time.Second
	}
	maxTimeout := time.Duration(r.cfg.MaxTimeoutSeconds) * time.Second
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	prog, args := req.Prog, req.Args
	if prog == "" {
		if req.Command == "" {
			return nil, fmt.Errorf("command is required")
		}
		prog, args = ShellExecArgs(req.Command)
	}

	id := uuid.New().String()
	cmd := exec.Command(prog, args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = mergeEnv(req.Env)
	setProcGroup(cmd)

	if req.Stdin != nil {
		cmd.Stdin = req.Stdin
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to attach stderr: %w", err)
	}

	outCap := newOutputCapture(r.bufferChars)
	errCap := newOutputCapture(r.bufferChars)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	var closeWG sync.WaitGroup
	closeWG.Add(2)
	go drainPipe(&closeWG, stdout, outCap)
	go drainPipe(&closeWG, stderr, errCap)

	closeDone := make(chan struct{})
	go func() {
		closeWG.Wait()
		close(closeDone)
	}()

	waitErrCh := make(chan error, 1)
	go func() { waitErrCh <- cmd.Wait() }()

	result := &RunResult{ID: id}

	timeoutTimer := time.NewTimer(timeout)
	defer timeoutTimer.Stop()

	var waitErr error
	var exited bool

	for !exited {
		select {
		case waitErr = <-waitErrCh:
			exited = true
		case <-timeoutTimer.C:
			result.TimedOut = true
			r.escalate(cmd)
			waitErr = <-waitErrCh
			exited = true
		case <-ctx.Done():
			result.Aborted = true
			r.escalate(cmd)
			waitErr = <-waitErrCh
			exited = true
		}
	}

	// Settlement: finalize once pipes have also closed, or after a short
	// grace window, whichever comes first: a forked-off grandchild that
	// inherited the pipe must not hang the caller indefinitely.
	grace := time.Duration(r.cfg.ExitCloseGraceMillis) * time.Millisecond
	select {
	case <-closeDone:
	case <-time.After(grace):
	}

	result.Duration = time.Since(start)
	result.ExitCode, result.Signal = exitStatus(waitErr)
	result.Stdout, result.StdoutTruncated = outCap.result()
	result.Stderr, result.StderrTruncated = errCap.result()

	r.logger.Debug("foreground run settled",
		zap.String("run_id", id),
		zap.Int("exit_code", result.ExitCode),
		zap.Bool("timed_out", result.TimedOut),
		zap.Bool("aborted", result.Aborted),
	)

	return result, nil
}

// escalate sends SIGTERM to the process group immediately, then SIGKILL
// after the kill-grace window (1.5s by default) if it has not yet exited.
func (r *Runner) escalate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = signalGroup(cmd.Process.Pid, terminateSignal())
	grace := time.Duration(r.cfg.KillGraceMillis) * time.Millisecond
	time.AfterFunc(grace, func() {
		if cmd.ProcessState == nil {
			_ = signalGroup(cmd.Process.Pid, killSignal())
		}
	})
}

func drainPipe(wg *sync.WaitGroup, reader io.ReadCloser, capture *outputCapture) {
	defer wg.Done()
	defer func() { _ = reader.Close() }()
	buf := bufio.NewReader(reader)
	chunk := make([]byte, 4096)
	for {
		n, err := buf.Read(chunk)
		if n > 0 {
			capture.write(string(chunk[:n]))
		}
		if err != nil {
			return
		}
	}
}

// mergeEnv overlays delta on top of the parent environment, in KEY=VALUE form.
func mergeEnv(delta map[string]string) []string {
	base := make(map[string]string, len(os.Environ())+len(delta))
	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			base[entry[:eq]] = entry[eq+1:]
		}
	}
	for k, v := range delta {
		base[k] = v
	}
	merged := make([]string, 0, len(base))
	for k, v := range base {
		merged = append(merged, fmt.Sprintf("%s=%s", k, v))
	}
	return merged
}
