// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ordersaga"

var (
	SagasStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sagas_started_total",
		Help:      "Order sagas started by the orchestrator.",
	})

	SagaOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "saga_outcomes_total",
		Help:      "Terminal saga outcomes by resulting order status.",
	}, []string{"status"})

	SagaDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "saga_duration_seconds",
		Help:      "Time from order creation to a terminal saga outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	CompensationStepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensation_step_failures_total",
		Help:      "Compensation steps whose reversal action failed.",
	}, []string{"step"})

	DuplicateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_events_total",
		Help:      "Feedback deliveries dropped because their eventId was already processed.",
	}, []string{"event_type"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dead_letters_total",
		Help:      "Messages and saga tasks routed to the dead-letter exchange.",
	}, []string{"reason"})

	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inventory_reservations_total",
		Help:      "Reservation attempts by result (reserved, replayed, failed, released).",
	}, []string{"result"})

	ProductEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "product_events_total",
		Help:      "Catalog announcements consumed by the order service.",
	}, []string{"event_type"})

	AuditRedrives = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_actions_total",
		Help:      "Actions taken by the pending-order audit sweep.",
	}, []string{"action"})
)
