package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/crabmiau/loaf/internal/eventbus"
	"github.com/crabmiau/loaf/internal/loaferr"
	"github.com/crabmiau/loaf/internal/logger"
	"github.com/crabmiau/loaf/internal/runtimeconfig"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transport is the I/O plumbing a background session uses.
type Transport string

const (
	TransportPipe Transport = "pipe"
	TransportPTY  Transport = "pty"
)

// SessionStatus is a background session's lifecycle state.
type SessionStatus string

const (
	SessionRunning SessionStatus = "running"
	SessionExited  SessionStatus = "exited"
)

// StartRequest describes a new or reused background session (spec §4.2).
type StartRequest struct {
	SessionName  string
	Command      string // empty => start an interactive login shell
	WorkingDir   string
	Env          map[string]string
	FullTerminal *bool // nil => default true
	Cols, Rows   int
	ReuseSession bool
	ShellTag     string
}

// WriteRequest is either raw input text or a named special key.
type WriteRequest struct {
	Input         string
	AppendNewline bool
	Key           string
	Repeat        int
}

var specialKeys = map[string]string{
	"enter":     "\r",
	"tab":       "\t",
	"esc":       "\x1b",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"pgup":      "\x1b[5~",
	"pgdown":    "\x1b[6~",
	"backspace": "\x7f",
	"delete":    "\x1b[3~",
	"ctrl+c":    "\x03",
	"ctrl+d":    "\x04",
	"ctrl+z":    "\x1a",
}

// Session is a single long-lived shell session tracked by the Manager.
type Session struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastActivity time.Time
	WorkingDir   string
	ShellTag     string
	ShellPath    string
	Argv         []string
	Command      string
	Pid          int
	Transport    Transport
	FullTerminal bool
	Cols, Rows   int

	Stdout *StreamState
	Stderr *StreamState

	mu         sync.Mutex
	status     SessionStatus
	exitCode   *int
	signal     string
	cmd        *exec.Cmd
	pty        ptyHandle
	stdin      io.WriteCloser
	stopOnce   sync.Once
	stopSignal chan struct{}
}

// Info is the read-only snapshot returned to callers.
type Info struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastActivity time.Time
	WorkingDir   string
	ShellTag     string
	Pid          int
	Status       SessionStatus
	ExitCode     *int
	Signal       string
	Transport    Transport
	FullTerminal bool
	Cols, Rows   int
}

func (s *Session) snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt, LastActivity: s.LastActivity,
		WorkingDir: s.WorkingDir, ShellTag: s.ShellTag, Pid: s.Pid, Status: s.status,
		ExitCode: s.exitCode, Signal: s.signal, Transport: s.Transport,
		FullTerminal: s.FullTerminal, Cols: s.Cols, Rows: s.Rows,
	}
}

// SessionRecorder persists session metadata durably. The runtime assembly
// wires the sessionstore index in here so the registry survives a process
// restart (SPEC_FULL.md §B); the Manager itself stays storage-agnostic.
type SessionRecorder interface {
	RecordStart(ctx context.Context, info Info) error
	RecordExit(ctx context.Context, info Info) error
}

// Manager owns the process-wide registry of background sessions (C4).
type Manager struct {
	logger   *logger.Logger
	resolver *Resolver
	cfg      runtimeconfig.SessionConfig
	bus      eventbus.Bus
	recorder SessionRecorder

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(resolver *Resolver, cfg runtimeconfig.SessionConfig, log *logger.Logger) *Manager {
	return &Manager{
		logger:   log.WithFields(zap.String("component", "session-manager")),
		resolver: resolver,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// SetBus attaches a notification bus; session lifecycle transitions are
// published on "session.started" and "session.exited" for a frontend to
// relay. Must be called before the first Start.
func (m *Manager) SetBus(bus eventbus.Bus) { m.bus = bus }

// SetRecorder attaches a durable session recorder. Must be called before
// the first Start.
func (m *Manager) SetRecorder(r SessionRecorder) { m.recorder = r }

func (m *Manager) record(s *Session, exited bool) {
	if m.recorder == nil {
		return
	}
	info := s.snapshot()
	var err error
	if exited {
		err = m.recorder.RecordExit(context.Background(), info)
	} else {
		err = m.recorder.RecordStart(context.Background(), info)
	}
	if err != nil {
		m.logger.Warn("recording session state", zap.String("session_id", info.ID), zap.Error(err))
	}
}

func (m *Manager) publish(subject string, s *Session) {
	if m.bus == nil {
		return
	}
	info := s.snapshot()
	data := map[string]interface{}{
		"session_id": info.ID,
		"name":       info.Name,
		"status":     string(info.Status),
		"transport":  string(info.Transport),
	}
	if info.ExitCode != nil {
		data["exit_code"] = *info.ExitCode
	}
	_ = m.bus.Publish(context.Background(), subject, eventbus.NewEvent(subject, "session-manager", data))
}

// Start creates a session, or returns an existing one when reuse applies.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Info, error) {
	fullTerminal := true
	if req.FullTerminal != nil {
		fullTerminal = *req.FullTerminal
	}

	if req.ReuseSession && req.SessionName != "" {
		if existing, ok := m.findReusable(req.SessionName, req.WorkingDir, fullTerminal); ok {
			return existing.snapshot(), nil
		}
	}

	cols, rows := clamp(req.Cols, m.cfg.MinCols, m.cfg.MaxCols, m.cfg.DefaultCols),
		clamp(req.Rows, m.cfg.MinRows, m.cfg.MaxRows, m.cfg.DefaultRows)

	shellPath, err := m.resolver.Resolve()
	if err != nil {
		return Info{}, err
	}

	var prog string
	var args []string
	if req.Command != "" {
		prog, args = ShellExecArgs(req.Command)
	} else {
		loginArgs, err := m.resolver.LoginArgs()
		if err != nil {
			return Info{}, err
		}
		prog, args = loginArgs[0], loginArgs[1:]
	}

	shellTag := req.ShellTag
	if shellTag == "" {
		shellTag = m.resolver.Tag()
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	session := &Session{
		ID:           id,
		Name:         req.SessionName,
		CreatedAt:    now,
		LastActivity: now,
		WorkingDir:   req.WorkingDir,
		ShellTag:     shellTag,
		ShellPath:    shellPath,
		Argv:         append([]string{prog}, args...),
		Command:      req.Command,
		Transport:    TransportPipe,
		FullTerminal: fullTerminal,
		Cols:         cols,
		Rows:         rows,
		Stdout:       NewStreamState(m.cfg.StreamBufferChars),
		Stderr:       NewStreamState(m.cfg.StreamBufferChars),
		status:       SessionRunning,
		stopSignal:   make(chan struct{}),
	}
	if fullTerminal {
		session.Transport = TransportPTY
	}

	cmd := exec.Command(prog, args...)
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.Env = mergeEnvPreserving(req.Env, preservedSystemEnvKeys())
	setProcGroup(cmd)

	if fullTerminal {
		handle, err := startPTY(cmd, cols, rows)
		if err != nil {
			return Info{}, fmt.Errorf("failed to start pty session: %w", err)
		}
		session.pty = handle
		session.cmd = cmd
		if cmd.Process != nil {
			session.Pid = cmd.Process.Pid
		}
		go m.readPTY(session)
	} else {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return Info{}, fmt.Errorf("failed to attach stdin: %w", err)
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return Info{}, fmt.Errorf("failed to attach stdout: %w", err)
		}
		stderr, err := cmd.StderrPipe()
		if err != nil {
			return Info{}, fmt.Errorf("failed to attach stderr: %w", err)
		}
		if err := cmd.Start(); err != nil {
			return Info{}, fmt.Errorf("failed to start pipe session: %w", err)
		}
		session.cmd = cmd
		session.stdin = stdin
		session.Pid = cmd.Process.Pid
		go m.readPipe(session, stdout, session.Stdout)
		go m.readPipe(session, stderr, session.Stderr)
	}

	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	m.publish("session.started", session)
	m.record(session, false)
	go m.wait(session)

	return session.snapshot(), nil
}

func (m *Manager) findReusable(name, cwd string, fullTerminal bool) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		s.mu.Lock()
		match := s.Name == name && s.WorkingDir == cwd && s.FullTerminal == fullTerminal && s.status == SessionRunning
		s.mu.Unlock()
		if match {
			return s, true
		}
	}
	return nil, false
}

func clamp(v, lo, hi, def int) int {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Get returns a session's current info.
func (m *Manager) Get(id string) (Info, bool) {
	s, ok := m.get(id)
	if !ok {
		return Info{}, false
	}
	return s.snapshot(), true
}

// List returns every tracked session.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	return out
}

func (m *Manager) get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Read performs an incremental, cursor-based read against one or both streams.
func (m *Manager) Read(id string, stream string, sel ReadSelector) (ReadResult, error) {
	s, ok := m.get(id)
	if !ok {
		return ReadResult{}, loaferr.New(loaferr.NotFound, "unknown background session: "+id)
	}
	if sel.MaxChars > m.cfg.MaxReadChars {
		sel.MaxChars = m.cfg.MaxReadChars
	}
	if sel.MaxChars <= 0 {
		sel.MaxChars = m.cfg.DefaultReadChars
	}

	switch stream {
	case "stdout", "":
		return s.Stdout.Read(sel), nil
	case "stderr":
		return s.Stderr.Read(sel), nil
	case "both":
		out := s.Stdout.Read(sel)
		if s.Transport == TransportPipe {
			errOut := s.Stderr.Read(sel)
			out.Data += errOut.Data
			out.Dropped = out.Dropped || errOut.Dropped
			out.HasMore = out.HasMore || errOut.HasMore
		}
		return out, nil
	default:
		return ReadResult{}, loaferr.New(loaferr.InvalidInput, "unknown stream selector: "+stream)
	}
}

// Write sends raw input text or a resolved special key to the session.
func (m *Manager) Write(id string, req WriteRequest) error {
	s, ok := m.get(id)
	if !ok {
		return loaferr.New(loaferr.NotFound, "unknown background session: "+id)
	}

	var payload strings.Builder
	if req.Key != "" {
		seq, ok := specialKeys[req.Key]
		if !ok {
			return loaferr.New(loaferr.Unsupported, "unknown special key: "+req.Key)
		}
		repeat := req.Repeat
		if repeat <= 0 {
			repeat = 1
		}
		if repeat > 100 {
			repeat = 100
		}
		for i := 0; i < repeat; i++ {
			payload.WriteString(seq)
		}
	} else {
		payload.WriteString(req.Input)
		if req.AppendNewline {
			payload.WriteString("\n")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now().UTC()
	if s.Transport == TransportPTY {
		_, err := s.pty.Write([]byte(payload.String()))
		return err
	}
	if s.stdin == nil {
		return loaferr.New(loaferr.Unsupported, "session has no writable stdin")
	}
	_, err := s.stdin.Write([]byte(payload.String()))
	return err
}

// Resize changes a PTY session's terminal dimensions; unsupported on pipe
// sessions.
func (m *Manager) Resize(id string, cols, rows int) error {
	s, ok := m.get(id)
	if !ok {
		return loaferr.New(loaferr.NotFound, "unknown background session: "+id)
	}
	if s.Transport != TransportPTY {
		return loaferr.New(loaferr.Unsupported, "resize is only valid for pty sessions")
	}

	cols = clamp(cols, m.cfg.MinCols, m.cfg.MaxCols, s.Cols)
	rows = clamp(rows, m.cfg.MinRows, m.cfg.MaxRows, s.Rows)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pty.Resize(uint16(cols), uint16(rows)); err != nil {
		return err
	}
	s.Cols, s.Rows = cols, rows
	return nil
}

// Stop terminates a session: it sends a terminate signal (a kill signal when
// force is set), waits out the matching grace period, and returns without
// escalating further; the exit itself is observed asynchronously.
func (m *Manager) Stop(ctx context.Context, id string, force bool) error {
	s, ok := m.get(id)
	if !ok {
		return loaferr.New(loaferr.NotFound, "unknown background session: "+id)
	}

	s.stopOnce.Do(func() { close(s.stopSignal) })

	grace := time.Duration(m.cfg.StopGraceMillis) * time.Millisecond
	sig := terminateSignal()
	if force {
		grace = time.Duration(m.cfg.ForceGraceMillis) * time.Millisecond
		sig = killSignal()
	}

	s.mu.Lock()
	pid := s.Pid
	if s.Transport == TransportPTY && s.pty != nil {
		_ = s.pty.Close() // triggers SIGHUP to the child
	}
	s.mu.Unlock()

	if pid > 0 {
		_ = signalGroup(pid, sig)
	}

	select {
	case <-time.After(grace):
	case <-ctx.Done():
	}
	return nil
}

// Shutdown best-effort terminates every running session; called on process
// exit (spec §4.2 "Process-exit cleanup").
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		s.mu.Lock()
		running := s.status == SessionRunning
		s.mu.Unlock()
		if running {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range ids {
		_ = m.Stop(ctx, id, false)
	}
}

func (m *Manager) readPTY(s *Session) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-s.stopSignal:
			return
		default:
		}
		n, err := s.pty.Read(buf)
		if n > 0 {
			data := buf[:n]
			if containsDSRQuery(data) {
				_, _ = s.pty.Write(dsrResponse())
			}
			if containsDA1Query(data) {
				_, _ = s.pty.Write(da1Response())
			}
			clean := sanitizePTYOutput(data)
			s.Stdout.Append(string(clean))
			s.mu.Lock()
			s.LastActivity = time.Now().UTC()
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) readPipe(s *Session, reader io.ReadCloser, state *StreamState) {
	defer func() { _ = reader.Close() }()
	buf := make([]byte, 4096)
	for {
		select {
		case <-s.stopSignal:
			return
		default:
		}
		n, err := reader.Read(buf)
		if n > 0 {
			state.Append(string(buf[:n]))
			s.mu.Lock()
			s.LastActivity = time.Now().UTC()
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) wait(s *Session) {
	err := s.cmd.Wait()
	code, signal := exitStatus(err)

	s.mu.Lock()
	s.status = SessionExited
	s.exitCode = &code
	s.signal = signal
	s.mu.Unlock()

	m.logger.Debug("background session exited",
		zap.String("session_id", s.ID),
		zap.Int("exit_code", code),
		zap.String("signal", signal),
	)
	m.publish("session.exited", s)
	m.record(s, true)
}

// mergeEnvPreserving merges delta over the parent environment, then
// restores any forced key the delta stripped or emptied. On Windows the
// forced set covers Path/SystemRoot/ComSpec, without which a ConPTY spawn
// cannot launch commands that depend on system binaries (spec §4.2
// "Platform guard"); on POSIX the set is empty and this reduces to
// mergeEnv.
func mergeEnvPreserving(delta map[string]string, forcedKeys []string) []string {
	merged := mergeEnv(delta)
	if len(forcedKeys) == 0 {
		return merged
	}

	present := make(map[string]bool, len(merged))
	for _, entry := range merged {
		if eq := strings.IndexByte(entry, '='); eq >= 0 && entry[eq+1:] != "" {
			present[entry[:eq]] = true
		}
	}
	for _, key := range forcedKeys {
		if present[key] {
			continue
		}
		if val, ok := os.LookupEnv(key); ok && val != "" {
			merged = append(merged, key+"="+val)
		}
	}
	return merged
}
