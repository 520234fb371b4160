package permissions

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"
)

// Kind names an OS permission.
type Kind string

const (
	// InputCapture allows the engine to read and grab the keyboard.
	InputCapture Kind = "input_capture"
	// Automation allows the engine to post synthetic input events.
	Automation Kind = "automation"
)

// All lists every Kind in check order.
var All = []Kind{InputCapture, Automation}

// DefaultCacheTTL is how long CachedChecker keeps an answer.
const DefaultCacheTTL = 3 * time.Second

// Checker reports whether a permission is granted.
type Checker interface {
	Granted(ctx context.Context, kind Kind) (bool, error)
}

// Missing returns the kinds in All that checker reports as not granted.
// A probe error counts as not granted.
func Missing(ctx context.Context, checker Checker) []Kind {
	var missing []Kind
	for _, k := range All {
		ok, err := checker.Granted(ctx, k)
		if err != nil || !ok {
			missing = append(missing, k)
		}
	}
	return missing
}

// CommandChecker runs a probe command per kind. Exit status zero means
// granted; a kind without a probe is always granted.
type CommandChecker struct {
	Probes map[Kind][]string
}

// Granted implements Checker.
func (c CommandChecker) Granted(ctx context.Context, kind Kind) (bool, error) {
	argv := c.Probes[kind]
	if len(argv) == 0 {
		return true, nil
	}
	err := exec.CommandContext(ctx, argv[0], argv[1:]...).Run() //nolint:gosec // probes come from keymapd config
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, fmt.Errorf("running %s probe: %w", kind, err)
}

type cached struct {
	granted bool
	at      time.Time
}

// CachedChecker wraps a Checker with a short-lived cache. Errors are not
// cached.
type CachedChecker struct {
	inner Checker
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	answers map[Kind]cached
}

// NewCachedChecker creates a CachedChecker. A ttl of zero uses DefaultCacheTTL.
func NewCachedChecker(inner Checker, ttl time.Duration) *CachedChecker {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedChecker{inner: inner, ttl: ttl, now: time.Now, answers: make(map[Kind]cached)}
}

// Granted implements Checker.
func (c *CachedChecker) Granted(ctx context.Context, kind Kind) (bool, error) {
	c.mu.Lock()
	if a, ok := c.answers[kind]; ok && c.now().Sub(a.at) < c.ttl {
		c.mu.Unlock()
		return a.granted, nil
	}
	c.mu.Unlock()

	granted, err := c.inner.Granted(ctx, kind)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.answers[kind] = cached{granted: granted, at: c.now()}
	c.mu.Unlock()
	return granted, nil
}

// Invalidate drops every cached answer.
func (c *CachedChecker) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.answers = make(map[Kind]cached)
}
