package audit

import (
	"context"
	"time"

	"github.com/nerrad567/keymap-core/internal/supervisor"
)

const writeTimeout = 2 * time.Second

// Logger defines the logging interface for the recorder.
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

// Recorder writes supervisor commands and transitions to a Repository.
// Write failures are logged and never reach the supervisor.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, logger: noopLogger{}}
}

// SetLogger sets the logger.
func (r *Recorder) SetLogger(l Logger) {
	if l != nil {
		r.logger = l
	}
}

// OnCommand implements supervisor.CommandObserver.
func (r *Recorder) OnCommand(name, source string, err error) {
	details := map[string]any{"command": name, "result": "ok"}
	if err != nil {
		details["result"] = "error"
		details["error"] = err.Error()
	}
	r.write(&Entry{Action: ActionCommand, Source: source, Details: details})
}

// OnTransition implements supervisor.TransitionObserver.
func (r *Recorder) OnTransition(from, to supervisor.State, reason string) {
	r.write(&Entry{
		Action: ActionTransition,
		Source: "supervisor",
		Details: map[string]any{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		},
	})
}

// OnStatus implements supervisor.StatusObserver; status snapshots are not
// audited.
func (r *Recorder) OnStatus(supervisor.Status) {}

func (r *Recorder) write(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Warn("writing audit entry failed", "action", e.Action, "error", err)
	}
}
