package privileged

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Mode selects how commands are elevated.
type Mode string

const (
	ModeDirect    Mode = "direct"
	ModeSudo      Mode = "sudo"
	ModeOSAScript Mode = "osascript"
)

// Logger defines the logging interface for this package.
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

// Executor runs shell commands in one Mode.
type Executor struct {
	mode   Mode
	shell  string
	logger Logger
}

// New creates an Executor.
func New(mode Mode) (*Executor, error) {
	switch mode {
	case ModeDirect, ModeSudo, ModeOSAScript:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	return &Executor{mode: mode, shell: "/bin/sh", logger: noopLogger{}}, nil
}

// SetLogger sets the logger for the executor.
func (e *Executor) SetLogger(l Logger) {
	if l != nil {
		e.logger = l
	}
}

// Mode returns the executor's mode.
func (e *Executor) Mode() Mode { return e.mode }

// Run executes command and returns its combined output.
func (e *Executor) Run(ctx context.Context, command string) (string, error) {
	name, args := e.argv(command)
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // commands come from keymapd config
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	e.logger.Debug("running privileged command", "mode", e.mode, "command", command)
	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err == nil {
		return output, nil
	}

	if isCancelled(e.mode, output) {
		e.logger.Info("privilege prompt declined", "command", command)
		return output, ErrUserCancelled
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e.logger.Warn("privileged command failed", "command", command, "exit_code", exitErr.ExitCode(), "output", output)
		return output, fmt.Errorf("%w: exit %d: %s", ErrCommandFailed, exitErr.ExitCode(), output)
	}
	return output, fmt.Errorf("%w: %v", ErrCommandFailed, err)
}

func (e *Executor) argv(command string) (string, []string) {
	switch e.mode {
	case ModeSudo:
		return "sudo", []string{"-n", e.shell, "-c", command}
	case ModeOSAScript:
		script := fmt.Sprintf("do shell script %s with administrator privileges", appleScriptString(command))
		return "osascript", []string{"-e", script}
	default:
		return e.shell, []string{"-c", command}
	}
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// isCancelled recognises the prompt-declined error (-128).
func isCancelled(mode Mode, output string) bool {
	if mode != ModeOSAScript {
		return false
	}
	return strings.Contains(output, "User canceled") || strings.Contains(output, "(-128)")
}
