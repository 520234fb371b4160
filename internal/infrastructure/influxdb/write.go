package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/recovery"
	"github.com/nerrad567/keymap-core/internal/supervisor"
)

// Measurement names.
const (
	MeasurementLifecycle  = "lifecycle"
	MeasurementDiagnostic = "diagnostic"
	MeasurementRecovery   = "recovery"
)

// PointWriter accepts points. *Client implements it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Recorder turns supervisor events into points.
type Recorder struct {
	w   PointWriter
	now func() time.Time
}

// NewRecorder creates a Recorder writing to w.
func NewRecorder(w PointWriter) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

// OnStatus implements supervisor.StatusObserver. Status snapshots are
// covered by the transition points.
func (r *Recorder) OnStatus(supervisor.Status) {}

// OnTransition implements supervisor.TransitionObserver.
func (r *Recorder) OnTransition(from, to supervisor.State, reason string) {
	r.w.WritePoint(write.NewPoint(MeasurementLifecycle,
		map[string]string{"from": string(from), "to": string(to)},
		map[string]any{"reason": reason},
		r.now(),
	))
}

// OnDiagnostic implements supervisor.DiagnosticObserver.
func (r *Recorder) OnDiagnostic(d diagnostics.Diagnostic) {
	r.w.WritePoint(write.NewPoint(MeasurementDiagnostic,
		map[string]string{"category": string(d.Category), "severity": string(d.Severity)},
		map[string]any{"title": d.Title, "auto_fix": d.CanAutoFix},
		d.Timestamp,
	))
}

// OnRecovery implements supervisor.RecoveryObserver.
func (r *Recorder) OnRecovery(rep recovery.Report) {
	ts := rep.StartedAt
	if ts.IsZero() {
		ts = r.now()
	}
	r.w.WritePoint(write.NewPoint(MeasurementRecovery,
		map[string]string{"trigger": rep.Trigger},
		map[string]any{
			"success":     rep.Success(),
			"duration_ms": float64(rep.Duration) / float64(time.Millisecond),
			"terminated":  len(rep.Terminated),
		},
		ts,
	))
}
