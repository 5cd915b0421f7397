package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "EntityDB"

var (
	Registry = prometheus.NewRegistry()

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "operation_duration_seconds",
			Help:      "Duration of gateway operations by component and operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		},
		[]string{"component", "operation"},
	)

	OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "operation_errors_total",
			Help:      "Failed gateway operations by component and operation.",
		},
		[]string{"component", "operation"},
	)

	ScannedCells = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "scanned_cells_total",
			Help:      "Cells returned by scanners.",
		},
		[]string{"component"},
	)
)

func init() {
	Registry.MustRegister(
		OperationDuration,
		OperationErrors,
		ScannedCells,
	)
}

// Timer measures one operation, call Done with the operation's result.
type Timer struct {
	timer     *prometheus.Timer
	component string
	operation string
}

func StartTimer(component, operation string) *Timer {
	return &Timer{
		timer:     prometheus.NewTimer(OperationDuration.WithLabelValues(component, operation)),
		component: component,
		operation: operation,
	}
}

func (t *Timer) Done(err error) {
	t.timer.ObserveDuration()
	if err != nil {
		OperationErrors.WithLabelValues(t.component, t.operation).Inc()
	}
}
