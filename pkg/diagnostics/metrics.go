package diagnostics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backend_http_requests_total",
		Help: "Total backend requests by endpoint, status and origin",
	}, []string{"endpoint", "status", "origin"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backend_http_request_duration_seconds",
		Help:    "Backend request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backend_diagnostics_events_dropped_total",
		Help: "Diagnostics events dropped because the buffer was full",
	})
)

// observeEvent updates the prometheus metrics for one request outcome.
func observeEvent(event Event) {
	status := "network_error"
	if event.ResponseCode != NoStatusCode {
		status = strconv.Itoa(event.ResponseCode)
	}

	requestsTotal.WithLabelValues(event.Endpoint, status, string(event.Origin)).Inc()
	requestDuration.WithLabelValues(event.Endpoint).Observe(event.ResponseTime.Seconds())
}
