package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of the spawned child.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// DefaultTailLines is how many output lines an ExitStatus carries.
const DefaultTailLines = 50

// ErrAlreadyRunning is returned by Start while a child is running.
var ErrAlreadyRunning = errors.New("process already running")

// Config holds configuration for a spawned child.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// WorkDir is the working directory for the process.
	WorkDir string

	// GracefulTimeout is how long to wait for graceful shutdown before SIGKILL.
	GracefulTimeout time.Duration

	// Output receives every line the child writes to stdout or stderr.
	Output io.Writer

	// TailLines bounds the output kept for ExitStatus.
	TailLines int

	// OnExit is called once per child, from the spawner's goroutine.
	OnExit func(ExitStatus)
}

// ExitStatus describes how a child ended.
type ExitStatus struct {
	PID  int `json:"pid"`
	Code int `json:"code"`
	// Signal names the terminating signal, if any.
	Signal string        `json:"signal,omitempty"`
	Output []string      `json:"output,omitempty"`
	Uptime time.Duration `json:"uptime"`
	// Requested is true when the exit followed a call to Stop.
	Requested bool  `json:"requested"`
	Err       error `json:"-"`
}

// Logger defines the logging interface for the spawner.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Spawner runs one child process at a time.
type Spawner struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	startTime     time.Time
	stopRequested bool
	last          *ExitStatus
	done          chan struct{}
}

// NewSpawner creates a Spawner.
func NewSpawner(cfg Config) *Spawner {
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 3 * time.Second
	}
	if cfg.TailLines <= 0 {
		cfg.TailLines = DefaultTailLines
	}
	return &Spawner{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the spawner.
func (s *Spawner) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the child and returns its pid. The child is not tied to
// any context; it runs until it exits or Stop is called.
func (s *Spawner) Start() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusRunning {
		return 0, fmt.Errorf("%w: %s", ErrAlreadyRunning, s.config.Name)
	}

	s.logger.Info("starting process",
		"name", s.config.Name,
		"binary", s.config.Binary,
		"args", s.config.Args,
	)

	cmd := exec.Command(s.config.Binary, s.config.Args...) //nolint:gosec // binary validated by engine settings
	// A new process group lets Stop signal the child's own children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if s.config.Env != nil {
		cmd.Env = append(os.Environ(), s.config.Env...)
	}
	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	}

	r, w, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close() //nolint:errcheck,gosec // error path
		w.Close() //nolint:errcheck,gosec // error path
		return 0, fmt.Errorf("starting %s: %w", s.config.Name, err)
	}
	w.Close() //nolint:errcheck,gosec // the child holds its own copy

	s.cmd = cmd
	s.status = StatusRunning
	s.startTime = time.Now()
	s.stopRequested = false
	s.done = make(chan struct{})

	tail := newRing(s.config.TailLines)
	captured := make(chan struct{})
	go s.capture(r, tail, captured)
	go s.wait(cmd, r, tail, captured, s.startTime, s.done)

	s.logger.Info("process started", "name", s.config.Name, "pid", cmd.Process.Pid)
	return cmd.Process.Pid, nil
}

// capture copies output line by line into the tail and the output writer.
func (s *Spawner) capture(r io.Reader, tail *ring, done chan<- struct{}) {
	defer close(done)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		line := sc.Text()
		tail.add(line)
		if s.config.Output != nil {
			if _, err := io.WriteString(s.config.Output, line+"\n"); err != nil {
				s.logger.Debug("writing process output failed", "name", s.config.Name, "error", err)
			}
		}
	}
}

func (s *Spawner) wait(cmd *exec.Cmd, r *os.File, tail *ring, captured <-chan struct{}, started time.Time, done chan struct{}) {
	waitErr := cmd.Wait()

	// Grandchildren may keep the pipe open; do not wait on them for long.
	select {
	case <-captured:
	case <-time.After(time.Second):
	}
	r.Close() //nolint:errcheck,gosec // reader side, exit path

	st := exitStatus(cmd, waitErr)
	st.Output = tail.lines()
	st.Uptime = time.Since(started)

	s.mu.Lock()
	st.Requested = s.stopRequested
	s.status = StatusStopped
	s.last = &st
	s.mu.Unlock()
	close(done)

	s.logger.Info("process exited",
		"name", s.config.Name,
		"pid", st.PID,
		"code", st.Code,
		"signal", st.Signal,
		"requested", st.Requested,
		"uptime", st.Uptime,
	)
	if s.config.OnExit != nil {
		s.config.OnExit(st)
	}
}

// exitStatus derives the exit code, mapping signal deaths to 128+signal.
func exitStatus(cmd *exec.Cmd, waitErr error) ExitStatus {
	st := ExitStatus{PID: cmd.Process.Pid, Err: waitErr}
	ps := cmd.ProcessState
	if ps == nil {
		st.Code = -1
		return st
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Code = 128 + int(ws.Signal())
		st.Signal = ws.Signal().String()
		return st
	}
	st.Code = ps.ExitCode()
	return st
}

// Stop gracefully stops the child.
// It sends SIGTERM and waits for graceful shutdown, then SIGKILL if needed.
func (s *Spawner) Stop() error {
	s.mu.Lock()
	if s.status != StatusRunning || s.cmd == nil || s.cmd.Process == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopRequested = true
	pid := s.cmd.Process.Pid
	done := s.done
	s.mu.Unlock()

	s.logger.Info("stopping process", "name", s.config.Name, "pid", pid)

	// Negative pid signals the whole process group.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to send SIGTERM to process group", "name", s.config.Name, "error", err)
	}

	select {
	case <-done:
		s.logger.Info("process stopped gracefully", "name", s.config.Name)
		return nil
	case <-time.After(s.config.GracefulTimeout):
		s.logger.Warn("graceful shutdown timeout, sending SIGKILL",
			"name", s.config.Name,
			"timeout", s.config.GracefulTimeout,
		)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", s.config.Name, err)
	}

	<-done
	s.logger.Info("process killed", "name", s.config.Name)
	return nil
}

// Status returns the current status of the child.
func (s *Spawner) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsRunning returns true if the child is currently running.
func (s *Spawner) IsRunning() bool {
	return s.Status() == StatusRunning
}

// PID returns the child's pid, or 0 if not running.
func (s *Spawner) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == StatusRunning && s.cmd != nil && s.cmd.Process != nil {
		return s.cmd.Process.Pid
	}
	return 0
}

// LastExit returns the status of the most recent exit, if any.
func (s *Spawner) LastExit() (ExitStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return ExitStatus{}, false
	}
	return *s.last, true
}

// Uptime returns how long the child has been running.
// Returns 0 if it is not running.
func (s *Spawner) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusRunning {
		return 0
	}
	return time.Since(s.startTime)
}

// ring keeps the last n lines.
type ring struct {
	mu   sync.Mutex
	buf  []string
	next int
	full bool
}

func newRing(n int) *ring { return &ring{buf: make([]string, n)} }

func (r *ring) add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = line
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.buf[:r.next]...)
	}
	out := make([]string, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
