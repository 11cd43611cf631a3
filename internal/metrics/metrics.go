// Package metrics exposes prometheus collectors for the orchestration core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles the core's instrumentation. All methods are nil-safe so
// instrumented code paths need no guards.
type Collectors struct {
	transitions *prometheus.CounterVec
	units       *prometheus.CounterVec
	lockWait    prometheus.Histogram
	activeTasks prometheus.Gauge
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "transitions_total",
			Help:      "State transitions committed, by machine and result.",
		}, []string{"machine", "result"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "espalier",
			Name:      "units_total",
			Help:      "Invocation units completed, by result.",
		}, []string{"result"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "espalier",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a session lock.",
			Buckets:   prometheus.DefBuckets,
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "espalier",
			Name:      "active_tasks",
			Help:      "Invocation graphs currently in flight.",
		}),
	}
	reg.MustRegister(c.transitions, c.units, c.lockWait, c.activeTasks)
	return c
}

// Transition records a committed (or rejected) transition.
func (c *Collectors) Transition(machine, result string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(machine, result).Inc()
}

// Unit records a completed invocation unit.
func (c *Collectors) Unit(result string) {
	if c == nil {
		return
	}
	c.units.WithLabelValues(result).Inc()
}

// LockWait records a lock acquisition wait.
func (c *Collectors) LockWait(seconds float64) {
	if c == nil {
		return
	}
	c.lockWait.Observe(seconds)
}

// TaskStarted marks a graph as in flight.
func (c *Collectors) TaskStarted() {
	if c == nil {
		return
	}
	c.activeTasks.Inc()
}

// TaskFinished marks a graph as done.
func (c *Collectors) TaskFinished() {
	if c == nil {
		return
	}
	c.activeTasks.Dec()
}
