package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Assignment results
const (
	ResultAssigned      = "assigned"
	ResultNoneAvailable = "none_available"
	ResultStoreError    = "store_error"
)

// Refill modes
const (
	RefillSync    = "sync"
	RefillAsync   = "async"
	RefillReclaim = "reclaim"
	RefillRebuild = "rebuild"
)

// Sweep outcomes
const (
	SweepOK      = "ok"
	SweepSkipped = "skipped"
	SweepFailed  = "failed"
)

// Recorder holds the Prometheus instruments for the assignment core.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	assignments    *prometheus.CounterVec
	assignLatency  prometheus.Histogram
	lostRaces      prometheus.Counter
	cacheErrors    *prometheus.CounterVec
	refills        *prometheus.CounterVec
	refilledIDs    prometheus.Counter
	refillFailures *prometheus.CounterVec
	refillDropped  prometheus.Counter
	reclaimed      prometheus.Counter
	sweeps         *prometheus.CounterVec
}

// NewRecorder creates and registers the collectors.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: metrics namespace (defaults to "cati" if empty)
func NewRecorder(reg prometheus.Registerer, namespace string) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "cati"
	}

	r := &Recorder{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "requests_total",
			Help:      "Assignment requests by result.",
		}, []string{"result"}),
		assignLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "duration_seconds",
			Help:      "Time spent serving one assignment request.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		lostRaces: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assignment",
			Name:      "lost_races_total",
			Help:      "Popped ids discarded because the conditional claim failed.",
		}),
		cacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue_cache",
			Name:      "errors_total",
			Help:      "Queue cache operations that failed and were treated as a miss.",
		}, []string{"op"}),
		refills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refill",
			Name:      "runs_total",
			Help:      "Queue refills by mode.",
		}, []string{"mode"}),
		refilledIDs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refill",
			Name:      "ids_total",
			Help:      "Respondent ids pushed onto queues by refills.",
		}),
		refillFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refill",
			Name:      "failures_total",
			Help:      "Refills that failed by mode.",
		}, []string{"mode"}),
		refillDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "refill",
			Name:      "dropped_total",
			Help:      "Background refill requests dropped because the pool was saturated.",
		}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reclaimer",
			Name:      "reclaimed_total",
			Help:      "Stale assignments returned to pending.",
		}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reclaimer",
			Name:      "sweeps_total",
			Help:      "Reclaimer sweeps by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		r.assignments,
		r.assignLatency,
		r.lostRaces,
		r.cacheErrors,
		r.refills,
		r.refilledIDs,
		r.refillFailures,
		r.refillDropped,
		r.reclaimed,
		r.sweeps,
	)

	return r
}

// ObserveAssignment records one assignment request outcome
func (r *Recorder) ObserveAssignment(result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.assignments.WithLabelValues(result).Inc()
	r.assignLatency.Observe(elapsed.Seconds())
}

// LostRace records a discarded pop
func (r *Recorder) LostRace() {
	if r == nil {
		return
	}
	r.lostRaces.Inc()
}

// CacheError records a queue cache failure treated as a miss
func (r *Recorder) CacheError(op string) {
	if r == nil {
		return
	}
	r.cacheErrors.WithLabelValues(op).Inc()
}

// Refill records a refill run and how many ids it pushed
func (r *Recorder) Refill(mode string, pushed int) {
	if r == nil {
		return
	}
	r.refills.WithLabelValues(mode).Inc()
	r.refilledIDs.Add(float64(pushed))
}

// RefillFailed records a refill error
func (r *Recorder) RefillFailed(mode string) {
	if r == nil {
		return
	}
	r.refillFailures.WithLabelValues(mode).Inc()
}

// RefillDropped records a background refill that could not be scheduled
func (r *Recorder) RefillDropped() {
	if r == nil {
		return
	}
	r.refillDropped.Inc()
}

// Sweep records a reclaimer sweep
func (r *Recorder) Sweep(outcome string, reclaimed int) {
	if r == nil {
		return
	}
	r.sweeps.WithLabelValues(outcome).Inc()
	r.reclaimed.Add(float64(reclaimed))
}
