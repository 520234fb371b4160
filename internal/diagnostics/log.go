package diagnostics

import (
	"context"
	"sync"
)

// DefaultMaxEntries is the in-memory cap on diagnostics.
const DefaultMaxEntries = 50

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

// Log is an append-only list of diagnostics capped at a maximum size; the
// oldest entries are evicted first.
type Log struct {
	mu      sync.RWMutex
	entries []Diagnostic
	max     int
	repo    Repository
	logger  Logger
}

// NewLog creates a Log. A max below 1 uses DefaultMaxEntries. repo may be nil.
func NewLog(maxEntries int, repo Repository) *Log {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{max: maxEntries, repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger for the log.
func (l *Log) SetLogger(logger Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// Add appends diagnostics. Persistence failures are logged, not returned.
func (l *Log) Add(ctx context.Context, diags ...Diagnostic) {
	if len(diags) == 0 {
		return
	}

	l.mu.Lock()
	l.entries = append(l.entries, diags...)
	if over := len(l.entries) - l.max; over > 0 {
		l.entries = append([]Diagnostic(nil), l.entries[over:]...)
	}
	l.mu.Unlock()

	if l.repo == nil {
		return
	}
	for _, d := range diags {
		if err := l.repo.Save(ctx, d); err != nil {
			l.logger.Warn("persisting diagnostic failed", "id", d.ID, "error", err)
		}
	}
}

// List returns a copy of the entries, oldest first.
func (l *Log) List() []Diagnostic {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Diagnostic(nil), l.entries...)
}

// Get returns the diagnostic with id.
func (l *Log) Get(id string) (Diagnostic, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, d := range l.entries {
		if d.ID == id {
			return d, nil
		}
	}
	return Diagnostic{}, ErrNotFound
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear removes every in-memory entry. Persisted history is kept.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}
