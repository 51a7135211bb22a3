package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CarrierErrors   *prometheus.CounterVec
	PollAttempts    *prometheus.CounterVec
	Requotes        *prometheus.CounterVec
	Bookings        *prometheus.CounterVec
	WebhooksTotal   *prometheus.CounterVec
}

// NewMetrics creates the service metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skydrop_bridge_carrier_requests_total",
				Help: "Total number of carrier requests by operation, carrier, and status",
			},
			[]string{"operation", "carrier", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skydrop_bridge_carrier_request_duration_seconds",
				Help:    "Carrier request duration in seconds by operation and carrier",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "carrier"},
		),
		CarrierErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skydrop_bridge_carrier_errors_total",
				Help: "Total carrier API errors by carrier and error type",
			},
			[]string{"carrier", "error_type"},
		),
		PollAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skydrop_bridge_poll_attempts_total",
				Help: "Polling reads by operation and whether the resource was done",
			},
			[]string{"operation", "done"},
		),
		Requotes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skydrop_bridge_requotes_total",
				Help: "Stale-quotation recoveries by outcome",
			},
			[]string{"outcome"},
		),
		Bookings: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skydrop_bridge_bookings_total",
				Help: "Shipment bookings by carrier and outcome",
			},
			[]string{"carrier", "outcome"},
		),
		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skydrop_bridge_webhooks_total",
				Help: "Webhook deliveries by event and status",
			},
			[]string{"event", "status"},
		),
	}
}

// RecordRequest records a carrier request metric.
func (m *Metrics) RecordRequest(operation, carrier, status string, duration float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(operation, carrier, status).Inc()
	m.RequestDuration.WithLabelValues(operation, carrier).Observe(duration)
}

// RecordError records a carrier error metric.
func (m *Metrics) RecordError(carrier, errorType string) {
	if m == nil {
		return
	}
	m.CarrierErrors.WithLabelValues(carrier, errorType).Inc()
}

// RecordPoll records one polling read.
func (m *Metrics) RecordPoll(operation string, _ int, done bool) {
	if m == nil {
		return
	}
	status := "pending"
	if done {
		status = "done"
	}
	m.PollAttempts.WithLabelValues(operation, status).Inc()
}

// RecordRequote records a stale-quotation recovery outcome.
func (m *Metrics) RecordRequote(outcome string) {
	if m == nil {
		return
	}
	m.Requotes.WithLabelValues(outcome).Inc()
}

// RecordBooking records a booking outcome.
func (m *Metrics) RecordBooking(carrier, outcome string) {
	if m == nil {
		return
	}
	m.Bookings.WithLabelValues(carrier, outcome).Inc()
}

// RecordWebhook records a webhook delivery.
func (m *Metrics) RecordWebhook(event, status string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(event, status).Inc()
}
