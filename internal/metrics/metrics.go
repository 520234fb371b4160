package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/keymap-core/internal/diagnostics"
	"github.com/nerrad567/keymap-core/internal/recovery"
	"github.com/nerrad567/keymap-core/internal/supervisor"
)

const namespace = "keymapd"

var states = []supervisor.State{
	supervisor.StateStarting,
	supervisor.StateRunning,
	supervisor.StateNeedsHelp,
	supervisor.StateStopped,
}

// Collector records supervisor activity.
type Collector struct {
	registry *prometheus.Registry

	state            *prometheus.GaugeVec
	engineUp         prometheus.Gauge
	retryAttempts    *prometheus.GaugeVec
	configUpdated    prometheus.Gauge
	transitions      *prometheus.CounterVec
	diagnostics      *prometheus.CounterVec
	commands         *prometheus.CounterVec
	recoveries       *prometheus.CounterVec
	recoveryDuration prometheus.Histogram
}

// New creates a Collector on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lifecycle_state",
			Help:      "Current lifecycle state (1 for the active state).",
		}, []string{"state"}),
		engineUp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_up",
			Help:      "Whether an owned engine process is running.",
		}),
		retryAttempts: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_attempts",
			Help:      "Attempts recorded against each retry budget.",
		}, []string{"budget"}),
		configUpdated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "config_last_update_timestamp_seconds",
			Help:      "Unix time of the last configuration commit.",
		}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Lifecycle state transitions.",
		}, []string{"from", "to"}),
		diagnostics: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Diagnostics recorded, by category and severity.",
		}, []string{"category", "severity"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Supervisor commands, by name, source and result.",
		}, []string{"command", "source", "result"}),
		recoveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Driver recovery runs, by trigger and result.",
		}, []string{"trigger", "result"}),
		recoveryDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recovery_duration_seconds",
			Help:      "Duration of driver recovery runs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to ~64s
		}),
	}
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// OnStatus implements supervisor.StatusObserver.
func (c *Collector) OnStatus(st supervisor.Status) {
	for _, s := range states {
		v := 0.0
		if s == st.State {
			v = 1
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}

	if st.OwnedPID > 0 && st.State == supervisor.StateRunning {
		c.engineUp.Set(1)
	} else {
		c.engineUp.Set(0)
	}
	c.retryAttempts.WithLabelValues("auto_start").Set(float64(st.AutoStartAttempts))
	c.retryAttempts.WithLabelValues("external_fix").Set(float64(st.ExternalFixAttempts))
	if !st.LastConfigUpdate.IsZero() {
		c.configUpdated.Set(float64(st.LastConfigUpdate.UnixNano()) / float64(time.Second))
	}
}

// OnTransition implements supervisor.TransitionObserver.
func (c *Collector) OnTransition(from, to supervisor.State, _ string) {
	c.transitions.WithLabelValues(string(from), string(to)).Inc()
}

// OnDiagnostic implements supervisor.DiagnosticObserver.
func (c *Collector) OnDiagnostic(d diagnostics.Diagnostic) {
	c.diagnostics.WithLabelValues(string(d.Category), string(d.Severity)).Inc()
}

// OnCommand implements supervisor.CommandObserver.
func (c *Collector) OnCommand(name, source string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.commands.WithLabelValues(name, source, result).Inc()
}

// OnRecovery implements supervisor.RecoveryObserver.
func (c *Collector) OnRecovery(rep recovery.Report) {
	result := "success"
	if !rep.Success() {
		result = "failure"
	}
	c.recoveries.WithLabelValues(rep.Trigger, result).Inc()
	c.recoveryDuration.Observe(rep.Duration.Seconds())
}
