// Package metrics implements ports.Metrics with Prometheus.
package metrics

import (
	"time"

	"shop-integrations-layer/internal/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const DefaultNamespace = "integrations"

// Metrics implements ports.Metrics using Prometheus.
type Metrics struct {
	authorizeTotal       *prometheus.CounterVec
	callbacksTotal       *prometheus.CounterVec
	webhookEventsTotal   *prometheus.CounterVec
	providerCallsTotal   *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	alertsTotal          *prometheus.CounterVec
	alertsDroppedTotal   prometheus.Counter
}

var _ ports.Metrics = (*Metrics)(nil)

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		authorizeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_authorize_total",
			Help:      "Total number of OAuth authorize requests.",
		}, []string{"provider", "outcome"}),

		callbacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callbacks_total",
			Help:      "Total number of OAuth callbacks by result.",
		}, []string{"provider", "outcome"}),

		webhookEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Total number of inbound webhooks by processing outcome.",
		}, []string{"topic", "outcome"}),

		providerCallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_api_calls_total",
			Help:      "Total number of outbound provider API calls.",
		}, []string{"provider", "endpoint", "status"}),

		providerCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_api_duration_seconds",
			Help:      "Latency of outbound provider API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "endpoint"}),

		alertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Total number of operational alerts raised.",
		}, []string{"category"}),

		alertsDroppedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_dropped_total",
			Help:      "Alerts not delivered because the queue was full.",
		}),
	}
}

func (m *Metrics) RecordAuthorize(provider, outcome string) {
	m.authorizeTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordCallback(provider, outcome string) {
	m.callbacksTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) RecordWebhook(topic, outcome string) {
	m.webhookEventsTotal.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) RecordProviderCall(provider, endpoint, status string, duration time.Duration) {
	m.providerCallsTotal.WithLabelValues(provider, endpoint, status).Inc()
	m.providerCallDuration.WithLabelValues(provider, endpoint).Observe(duration.Seconds())
}

func (m *Metrics) RecordAlert(category string) {
	m.alertsTotal.WithLabelValues(category).Inc()
}

func (m *Metrics) RecordAlertDropped() {
	m.alertsDroppedTotal.Inc()
}
