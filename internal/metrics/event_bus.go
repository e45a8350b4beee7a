package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	busSubscribers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "bwt",
		Subsystem: "event_bus",
		Name:      "subscribers",
		Help:      "Number of connected event subscribers.",
	}, []string{"network"})

	busPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwt",
		Subsystem: "event_bus",
		Name:      "events_published_total",
		Help:      "Count of events published to the bus.",
	}, []string{"network", "category"})

	busDroppedSubscribers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bwt",
		Subsystem: "event_bus",
		Name:      "subscribers_dropped_total",
		Help:      "Count of subscribers disconnected for falling behind.",
	}, []string{"network"})
)

// EventBus tracks metrics for the event fan-out.
type EventBus struct {
	network string
}

// NewEventBus constructs an EventBus metrics collector.
func NewEventBus(network string) *EventBus {
	if network == "" {
		network = "unknown"
	}
	return &EventBus{network: network}
}

// ObserveSubscribers records the current subscriber count.
func (m EventBus) ObserveSubscribers(count int) {
	busSubscribers.WithLabelValues(m.network).Set(float64(count))
}

// ObservePublish records one published event.
func (m EventBus) ObservePublish(category string) {
	busPublishedTotal.WithLabelValues(m.network, category).Inc()
}

// ObserveDroppedSubscriber records a subscriber disconnected for overflow.
func (m EventBus) ObserveDroppedSubscriber() {
	busDroppedSubscribers.WithLabelValues(m.network).Inc()
}
