package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	dialTimeout       = 500 * time.Millisecond
	readyPollInterval = 100 * time.Millisecond

	// blockedThreshold is how many consecutive checks may find the engine in
	// uninterruptible sleep before it counts as hung.
	blockedThreshold = 3
)

// HealthError is returned by Check when a layer fails.
type HealthError struct {
	// Layer is which check failed: 0 binary, 1 process state, 2 TCP port.
	Layer int
	// Recoverable indicates whether relaunching might fix the issue.
	Recoverable bool
	Err         error
}

func (e *HealthError) Error() string {
	return fmt.Sprintf("health check layer %d failed: %v", e.Layer, e.Err)
}

func (e *HealthError) Unwrap() error {
	return e.Err
}

// IsRecoverable reports whether relaunching might fix the issue.
func (e *HealthError) IsRecoverable() bool {
	return e.Recoverable
}

func newHealthError(layer int, recoverable bool, err error) *HealthError {
	return &HealthError{Layer: layer, Recoverable: recoverable, Err: fmt.Errorf("%w: %w", ErrUnhealthy, err)}
}

// HealthChecker probes a running engine.
//
// Layers:
//   - Layer 0: binary still present (not recoverable)
//   - Layer 1: process state via gopsutil (stopped, zombie, hung)
//   - Layer 2: TCP connect to the engine port, when one is configured
type HealthChecker struct {
	settings Settings
	host     string
	blocked  atomic.Int32
	logger   Logger
}

// NewHealthChecker returns a checker for settings.
func NewHealthChecker(settings Settings) *HealthChecker {
	return &HealthChecker{settings: settings, host: "127.0.0.1", logger: noopLogger{}}
}

// SetLogger sets the logger.
func (h *HealthChecker) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Check runs every layer against pid. It returns nil or a *HealthError.
func (h *HealthChecker) Check(ctx context.Context, pid int) error {
	if err := h.settings.BinaryPresent(); err != nil {
		return newHealthError(0, false, err)
	}
	if err := h.checkProcessState(ctx, pid); err != nil {
		return newHealthError(1, true, err)
	}
	if h.settings.Port > 0 {
		if err := h.dial(ctx); err != nil {
			return newHealthError(2, true, err)
		}
	}
	return nil
}

func (h *HealthChecker) checkProcessState(ctx context.Context, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("no engine pid")
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid)) //nolint:gosec // pid range checked
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return fmt.Errorf("engine process %d is gone", pid)
		}
		return fmt.Errorf("cannot read process state: %w", err)
	}
	states, err := p.StatusWithContext(ctx)
	if err != nil {
		return fmt.Errorf("cannot read process state: %w", err)
	}

	for _, state := range states {
		switch state {
		case process.Stop:
			return fmt.Errorf("engine process is stopped (state=%s)", state)
		case process.Zombie:
			return fmt.Errorf("engine process is zombie (state=%s)", state)
		case process.Blocked:
			count := h.blocked.Add(1)
			if count >= blockedThreshold {
				return fmt.Errorf("engine process stuck in uninterruptible sleep (count=%d)", count)
			}
			h.logger.Debug("engine process in uninterruptible sleep", "count", count)
			return nil
		}
	}
	h.blocked.Store(0)
	return nil
}

func (h *HealthChecker) dial(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", h.address())
	if err != nil {
		return fmt.Errorf("engine port: %w", err)
	}
	conn.Close() //nolint:errcheck,gosec // probe connection
	return nil
}

func (h *HealthChecker) address() string {
	return net.JoinHostPort(h.host, strconv.Itoa(h.settings.Port))
}

// WaitReady polls the engine port until it accepts a connection or timeout
// elapses. With no port configured it returns immediately.
func (h *HealthChecker) WaitReady(ctx context.Context, timeout time.Duration) error {
	if h.settings.Port <= 0 {
		return nil
	}
	h.logger.Debug("waiting for engine to be ready", "address", h.address())

	deadline := time.Now().Add(timeout)
	for {
		if err := h.dial(ctx); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %v", ErrNotReady, h.address(), timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for engine: %w", ctx.Err())
		case <-time.After(readyPollInterval):
		}
	}
}
