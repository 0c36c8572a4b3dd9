package metrics

import (
	"github.com/jogardn/delivery-tracker/internal/circuitbreaker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PushEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_push_events_total",
		Help: "Total number of push channel events handled, by type.",
	},
		[]string{"type"},
	)

	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_assignments_total",
		Help: "Assignment offers by outcome (offered, accepted, rejected, expired, failed).",
	},
		[]string{"outcome"},
	)

	OperationErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_operation_errors_total",
		Help: "Total number of errors encountered during specific operations.",
	},
		[]string{"operation"},
	)

	LocationPingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_location_pings_total",
		Help: "Total number of rider location updates emitted.",
	})

	RefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_refreshes_total",
		Help: "Active order reconciliations, by trigger.",
	},
		[]string{"trigger"},
	)

	JournalDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracker_journal_dropped_total",
		Help: "Journal entries dropped because the sink queue was full.",
	})

	ActiveOrder = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_active_order",
		Help: "1 while an order is being tracked.",
	})

	RiderOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_rider_online",
		Help: "1 while the rider is online.",
	})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracker_circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
	},
		[]string{"name"},
	)
)

// ObserveBreaker is a circuitbreaker state change hook.
func ObserveBreaker(name string, from, to circuitbreaker.State) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(to))
}

func Flag(on bool) float64 {
	if on {
		return 1
	}
	return 0
}
