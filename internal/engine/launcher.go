package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nerrad567/keymap-core/internal/process"
)

// Logger defines the logging interface for the engine package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Runner executes a shell command, usually through the privileged channel.
type Runner interface {
	Run(ctx context.Context, command string) (string, error)
}

// DirectLauncher spawns the engine as a child of keymapd. Each launch
// appends to the engine log; the exit callback fires once per launch.
type DirectLauncher struct {
	settings Settings
	onExit   func(process.ExitStatus)
	logger   Logger

	mu      sync.Mutex
	spawner *process.Spawner
}

// NewDirectLauncher returns a launcher for settings. onExit may be nil.
func NewDirectLauncher(settings Settings, onExit func(process.ExitStatus)) *DirectLauncher {
	return &DirectLauncher{settings: settings, onExit: onExit, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (l *DirectLauncher) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Launch starts a new engine child. It returns once the child has been
// spawned.
func (l *DirectLauncher) Launch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spawner != nil && l.spawner.IsRunning() {
		return fmt.Errorf("%w: pid %d", process.ErrAlreadyRunning, l.spawner.PID())
	}

	out, err := openLog(l.settings.LogPath)
	if err != nil {
		return err
	}
	if out != nil {
		fmt.Fprintf(out, "--- engine launch %s ---\n", time.Now().UTC().Format(time.RFC3339)) //nolint:errcheck // best-effort marker
	}

	sp := process.NewSpawner(process.Config{
		Name:            "engine",
		Binary:          l.settings.Binary,
		Args:            l.settings.BuildArgs(),
		GracefulTimeout: l.settings.GracefulTimeout,
		Output:          writerOrNil(out),
		OnExit: func(st process.ExitStatus) {
			if out != nil {
				out.Close() //nolint:errcheck,gosec // log file, exit path
			}
			if l.onExit != nil {
				l.onExit(st)
			}
		},
	})
	sp.SetLogger(l.logger)

	if _, err := sp.Start(); err != nil {
		if out != nil {
			out.Close() //nolint:errcheck,gosec // error path
		}
		return err
	}
	l.spawner = sp
	return nil
}

// Stop stops the child started by the last launch, if it is still running.
func (l *DirectLauncher) Stop() error {
	l.mu.Lock()
	sp := l.spawner
	l.mu.Unlock()
	if sp == nil {
		return nil
	}
	return sp.Stop()
}

// PID returns the pid of the running child, or 0.
func (l *DirectLauncher) PID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spawner == nil {
		return 0
	}
	return l.spawner.PID()
}

// LastExit returns how the most recent child ended.
func (l *DirectLauncher) LastExit() (process.ExitStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spawner == nil {
		return process.ExitStatus{}, false
	}
	return l.spawner.LastExit()
}

func openLog(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec // log directory
		return nil, fmt.Errorf("creating engine log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // path from config
	if err != nil {
		return nil, fmt.Errorf("opening engine log: %w", err)
	}
	return f, nil
}

// writerOrNil avoids handing the spawner a typed nil.
func writerOrNil(f *os.File) io.Writer {
	if f == nil {
		return nil
	}
	return f
}

// CommandLauncher starts the engine by running a configured start command,
// e.g. "launchctl kickstart gui/501/com.keymapd.engine".
type CommandLauncher struct {
	command string
	runner  Runner
	logger  Logger
}

// NewCommandLauncher returns a launcher that runs command through runner.
func NewCommandLauncher(command string, runner Runner) *CommandLauncher {
	return &CommandLauncher{command: command, runner: runner, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (l *CommandLauncher) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Launch runs the start command.
func (l *CommandLauncher) Launch(ctx context.Context) error {
	l.logger.Info("starting engine via command", "command", l.command)
	out, err := l.runner.Run(ctx, l.command)
	if err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	if out != "" {
		l.logger.Debug("start command output", "output", out)
	}
	return nil
}
