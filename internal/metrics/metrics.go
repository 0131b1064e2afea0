package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "payout"

type Metrics struct {
	Disbursements   *prometheus.CounterVec
	Webhooks        *prometheus.CounterVec
	ProviderLatency *prometheus.HistogramVec
	HTTPDuration    *prometheus.HistogramVec
	HTTPRequests    *prometheus.CounterVec
}

// New registers all collectors on reg. Tests pass prometheus.NewRegistry().
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Disbursements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disbursements_total",
			Help:      "Disbursement attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		Webhooks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_total",
			Help:      "Provider callbacks by provider and outcome",
		}, []string{"provider", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Duration of outbound provider API calls",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
		}, []string{"provider", "endpoint", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of inbound HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of inbound HTTP requests",
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) Disbursement(provider, outcome string) {
	if m == nil {
		return
	}
	m.Disbursements.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Webhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) ObserveProviderCall(provider, endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider, endpoint, status).Observe(seconds)
}
