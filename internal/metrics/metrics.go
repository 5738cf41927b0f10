// Package metrics provides Prometheus metrics for APNs deliveries.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Error kinds used for the errors_total label.
const (
	KindValidation = "validation"
	KindCrypto     = "crypto"
	KindTransport  = "transport"
	KindDelivery   = "delivery"
)

// PushMetrics groups the delivery metrics. A nil *PushMetrics is valid and
// records nothing, so callers never branch on whether metrics are enabled.
type PushMetrics struct {
	OutcomesTotal *prometheus.CounterVec // Responses by outcome
	ErrorsTotal   *prometheus.CounterVec // Errors by kind
	SendDuration  prometheus.Histogram   // Wall time of a Send call
	TokensIssued  prometheus.Counter     // Provider tokens signed
}

// NewPushMetrics creates the metrics and registers them on registry.
func NewPushMetrics(registry prometheus.Registerer) (*PushMetrics, error) {
	m := &PushMetrics{
		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apns_push_outcomes_total",
				Help: "APNs responses by outcome (delivered, invalid_token, failed)",
			},
			[]string{"outcome"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apns_push_errors_total",
				Help: "Errors returned from Send by kind (validation, crypto, transport, delivery)",
			},
			[]string{"kind"},
		),
		SendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "apns_push_duration_seconds",
				Help:    "Time taken by a single Send, including TLS and HTTP/2 setup",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
		),
		TokensIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "apns_token_issued_total",
				Help: "Provider tokens signed",
			},
		),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register apns metrics: %w", err)
	}
	return m, nil
}

// RecordOutcome counts one classified response and its duration.
func (m *PushMetrics) RecordOutcome(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(outcome).Inc()
	m.SendDuration.Observe(d.Seconds())
}

// RecordError counts one error by kind.
func (m *PushMetrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(kind).Inc()
}

func (m *PushMetrics) RecordTokenIssued() {
	if m == nil {
		return
	}
	m.TokensIssued.Inc()
}

// Describe implements prometheus.Collector.
func (m *PushMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OutcomesTotal.Describe(ch)
	m.ErrorsTotal.Describe(ch)
	m.SendDuration.Describe(ch)
	m.TokensIssued.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *PushMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OutcomesTotal.Collect(ch)
	m.ErrorsTotal.Collect(ch)
	m.SendDuration.Collect(ch)
	m.TokensIssued.Collect(ch)
}
