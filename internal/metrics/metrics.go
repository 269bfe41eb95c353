package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

const namespace = "stockkeeper"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests.",
		ConstLabels: prometheus.Labels{"service": service},
	}, []string{"route", "method", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Name:        "http_request_duration_ms",
		Help:        "HTTP request latency in milliseconds.",
		ConstLabels: prometheus.Labels{"service": service},
		Buckets:     []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route", "method"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// OrderMetrics counts core operations by outcome. Outcome is "ok" or the
// error code the HTTP layer reports.
type OrderMetrics struct {
	Operations *prometheus.CounterVec
	Shortages  *prometheus.CounterVec
}

func NewOrderMetrics(reg prometheus.Registerer) *OrderMetrics {
	ops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "operations_total",
		Help:      "Order and product operations by outcome.",
	}, []string{"op", "outcome"})
	shortages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "stock_shortages_total",
		Help:      "Reservations rejected for insufficient stock, by product.",
	}, []string{"product_id"})

	reg.MustRegister(ops, shortages)
	return &OrderMetrics{Operations: ops, Shortages: shortages}
}

type ProjectorMetrics struct {
	Events *prometheus.CounterVec
}

func NewProjectorMetrics(reg prometheus.Registerer) *ProjectorMetrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "projector",
		Name:      "events_total",
		Help:      "Order events consumed by the status projector.",
	}, []string{"event_type", "outcome"})

	reg.MustRegister(events)
	return &ProjectorMetrics{Events: events}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
