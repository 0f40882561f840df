package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsvp",
			Name:      "reservations_total",
			Help:      "Reservation operations by name and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	feedDeliveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rsvp",
			Name:      "feed_deliveries_total",
			Help:      "Change entries delivered to feed subscribers.",
		},
	)

	feedSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rsvp",
			Name:      "feed_subscribers",
			Help:      "Currently registered feed subscribers.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rsvp",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(reservations, feedDeliveries, feedSubscribers, httpRequests)
	})
}

// IncOperation counts one reservation operation with its outcome
// ("ok", "conflict", "not_found", "invalid", "error").
func IncOperation(operation, outcome string) {
	reservations.WithLabelValues(operation, outcome).Inc()
}

// IncFeedDelivery counts one change entry handed to a subscriber.
func IncFeedDelivery() {
	feedDeliveries.Inc()
}

// SetSubscribers tracks the live subscriber count.
func SetSubscribers(n int) {
	feedSubscribers.Set(float64(n))
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
