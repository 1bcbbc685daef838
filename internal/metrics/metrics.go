// Package metrics defines the Prometheus collectors for stock operations.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/erazemk/zaloga/internal/model"
)

// Metrics groups the collectors. The zero value is not usable; call New.
type Metrics struct {
	Movements    *prometheus.CounterVec
	LockWait     prometheus.Histogram
	Fulfillments *prometheus.CounterVec
	SerialEvents *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests and library users without a
// metrics endpoint want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zaloga",
			Name:      "stock_movements_total",
			Help:      "Stock movements by transaction type and result.",
		}, []string{"type", "result"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "zaloga",
			Name:      "lock_wait_seconds",
			Help:      "Time spent acquiring balance and asset locks.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2, 5},
		}),
		Fulfillments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zaloga",
			Name:      "fulfillment_steps_total",
			Help:      "Request line fulfillment attempts by result.",
		}, []string{"result"}),
		SerialEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zaloga",
			Name:      "serial_events_total",
			Help:      "Serialized asset tracking operations by action and result.",
		}, []string{"action", "result"}),
	}

	if reg != nil {
		reg.MustRegister(m.Movements, m.LockWait, m.Fulfillments, m.SerialEvents)
	}
	return m
}

// ObserveLockWait records how long a lock acquisition started at start took.
func (m *Metrics) ObserveLockWait(start time.Time) {
	m.LockWait.Observe(time.Since(start).Seconds())
}

// Result maps an operation error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, model.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, model.ErrInvalidTransfer):
		return "invalid"
	case errors.Is(err, model.ErrContention):
		return "contention"
	case errors.Is(err, model.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
