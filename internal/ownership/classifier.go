package ownership

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/keymap-core/internal/inventory"
)

// DefaultGraceWindow is how long after a launch attempt newly observed
// engine processes are assumed to be the one just launched.
const DefaultGraceWindow = 5 * time.Second

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

// Classifier attributes engine processes to keymapd or to someone else.
type Classifier struct {
	registry   *Registry
	signatures *SignatureSet
	grace      time.Duration
	now        func() time.Time
	logger     Logger

	mu         sync.Mutex
	lastLaunch time.Time
	// launchGen counts launch attempts; seen maps an unattributed pid to
	// the generation in which it was first observed.
	launchGen uint64
	seen      map[int]uint64
}

// NewClassifier creates a Classifier. A grace of zero uses DefaultGraceWindow.
func NewClassifier(registry *Registry, signatures *SignatureSet, grace time.Duration) *Classifier {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Classifier{
		registry:   registry,
		signatures: signatures,
		grace:      grace,
		now:        time.Now,
		logger:     noopLogger{},
		seen:       make(map[int]uint64),
	}
}

// SetLogger sets the logger.
func (c *Classifier) SetLogger(l Logger) {
	if l != nil {
		c.logger = l
	}
}

// SetClock replaces the time source. Tests only.
func (c *Classifier) SetClock(now func() time.Time) {
	c.now = now
	c.registry.now = now
}

// Registry returns the underlying registry.
func (c *Classifier) Registry() *Registry { return c.registry }

// Signatures returns the signature table.
func (c *Classifier) Signatures() *SignatureSet { return c.signatures }

// MarkLaunchAttempt opens the grace window. Called immediately before the
// engine is launched.
func (c *Classifier) MarkLaunchAttempt() {
	c.mu.Lock()
	c.lastLaunch = c.now()
	c.launchGen++
	c.mu.Unlock()
}

// LastLaunchAttempt returns when the grace window was last opened.
func (c *Classifier) LastLaunchAttempt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLaunch
}

func (c *Classifier) inGraceWindow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.lastLaunch.IsZero() && c.now().Sub(c.lastLaunch) < c.grace
}

// predatesLaunch records the first sighting of pid and reports whether that
// sighting happened before the most recent launch attempt.
func (c *Classifier) predatesLaunch(pid int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	gen, ok := c.seen[pid]
	if !ok {
		c.seen[pid] = c.launchGen
		return false
	}
	return gen < c.launchGen
}

// Classify returns the ownership of p. It never fails: registry errors are
// logged and treated as a miss.
//
// The order is registry, signature table, then the grace window. A process
// that was already visible before the latest launch attempt cannot be the
// one just launched; it is registered as external instead.
func (c *Classifier) Classify(ctx context.Context, p inventory.ManagedProcess) Ownership {
	if o, ok, err := c.registry.Lookup(ctx, p.PID); err != nil {
		c.logger.Warn("ownership registry lookup failed", "pid", p.PID, "error", err)
	} else if ok {
		return o
	}

	if name, ok := c.signatures.Match(p.CommandLine); ok {
		c.logger.Debug("process matched signature", "pid", p.PID, "signature", name)
		return c.register(ctx, p.PID, Owned(ReasonPatternMatch))
	}

	if c.predatesLaunch(p.PID) {
		c.logger.Debug("process predates the last launch", "pid", p.PID)
		return c.register(ctx, p.PID, External)
	}

	if c.inGraceWindow() {
		c.logger.Debug("process attributed to recent launch", "pid", p.PID)
		return c.register(ctx, p.PID, Owned(ReasonGracePeriod))
	}

	return Unknown
}

// Adopt registers p as owned, taking over an instance keymapd did not start.
func (c *Classifier) Adopt(ctx context.Context, p inventory.ManagedProcess) error {
	return c.registry.Register(ctx, p.PID, Owned(ReasonAdopted))
}

// Partition classifies procs and splits them into owned and non-owned.
// Input order is preserved. procs is taken to be the whole process table:
// sightings of pids missing from it are forgotten.
func (c *Classifier) Partition(ctx context.Context, procs []inventory.ManagedProcess) (owned, external []inventory.ManagedProcess) {
	live := make(map[int]struct{}, len(procs))
	for _, p := range procs {
		live[p.PID] = struct{}{}
		if c.Classify(ctx, p).IsOwned() {
			owned = append(owned, p)
		} else {
			external = append(external, p)
		}
	}

	c.mu.Lock()
	for pid := range c.seen {
		if _, ok := live[pid]; !ok {
			delete(c.seen, pid)
		}
	}
	c.mu.Unlock()
	return owned, external
}

func (c *Classifier) register(ctx context.Context, pid int, o Ownership) Ownership {
	if err := c.registry.Register(ctx, pid, o); err != nil {
		c.logger.Warn("ownership registry write failed", "pid", pid, "error", err)
	}
	return o
}
