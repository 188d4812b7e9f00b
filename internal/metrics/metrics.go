// Package metrics holds the prometheus collectors for the editor session.
// Collectors register with the default registry on first import.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "codecards"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

var (
	autosaveWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "writes_total",
			Help:      "Total number of auto-save writes by field, target mode and result",
		},
		[]string{"field", "mode", "result"},
	)

	autosaveWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "write_duration_seconds",
			Help:      "Duration of auto-save writes in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"field"},
	)

	autosaveDeferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autosave",
			Name:      "deferred_total",
			Help:      "Total number of debounce firings re-armed because the coordinator was suspended",
		},
		[]string{"field"},
	)

	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Total number of mode transitions by target mode and result",
		},
		[]string{"to", "result"},
	)

	transitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transition_duration_seconds",
			Help:      "Duration of mode transitions in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"to"},
	)

	transitionsRejectedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_rejected_total",
			Help:      "Total number of mode transition requests rejected while busy",
		},
	)

	cacheOverridesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "cache_overrides_total",
			Help:      "Total number of synchronization passes where cached content won over storage",
		},
	)

	guardVerdictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "verdicts_total",
			Help:      "Total number of validation verdicts by outcome",
		},
		[]string{"outcome"},
	)

	guardRecoveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "recoveries_total",
			Help:      "Total number of recovery attempts by result",
		},
		[]string{"result"},
	)

	focusOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "focus",
			Name:      "operations_total",
			Help:      "Total number of focus-mode operations by direction and result",
		},
		[]string{"direction", "result"},
	)

	focusOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "focus",
			Name:      "operation_duration_seconds",
			Help:      "Duration of focus-mode operations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .3, 1},
		},
		[]string{"direction"},
	)

	focusBudgetExceededTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "focus",
			Name:      "budget_exceeded_total",
			Help:      "Total number of focus-mode operations slower than their budget",
		},
		[]string{"direction"},
	)
)

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

func RecordAutoSaveWrite(field, mode string, ok bool, duration time.Duration) {
	autosaveWritesTotal.WithLabelValues(field, mode, result(ok)).Inc()
	autosaveWriteDuration.WithLabelValues(field).Observe(duration.Seconds())
}

func RecordAutoSaveDeferred(field string) {
	autosaveDeferredTotal.WithLabelValues(field).Inc()
}

func RecordTransition(to string, ok bool, duration time.Duration) {
	transitionsTotal.WithLabelValues(to, result(ok)).Inc()
	transitionDuration.WithLabelValues(to).Observe(duration.Seconds())
}

func RecordTransitionRejected() {
	transitionsRejectedTotal.Inc()
}

func RecordCacheOverride() {
	cacheOverridesTotal.Inc()
}

// RecordGuardVerdict counts a verdict as "valid", "warning" or "invalid".
func RecordGuardVerdict(outcome string) {
	guardVerdictsTotal.WithLabelValues(outcome).Inc()
}

func RecordGuardRecovery(ok bool) {
	guardRecoveriesTotal.WithLabelValues(result(ok)).Inc()
}

// RecordFocusOperation observes one focus-mode operation. overBudget marks
// operations slower than their configured warning threshold.
func RecordFocusOperation(direction string, ok, overBudget bool, duration time.Duration) {
	focusOperationsTotal.WithLabelValues(direction, result(ok)).Inc()
	focusOperationDuration.WithLabelValues(direction).Observe(duration.Seconds())
	if overBudget {
		focusBudgetExceededTotal.WithLabelValues(direction).Inc()
	}
}
