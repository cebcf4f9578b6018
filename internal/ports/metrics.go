package ports

import "time"

// Metrics records operational counters. Implementations must be safe for concurrent use.
type Metrics interface {
	RecordAuthorize(provider, outcome string)
	RecordCallback(provider, outcome string)
	RecordWebhook(topic, outcome string)
	RecordProviderCall(provider, endpoint, status string, duration time.Duration)
	RecordAlert(category string)
	RecordAlertDropped()
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (NoopMetrics) RecordAuthorize(_, _ string)                        {}
func (NoopMetrics) RecordCallback(_, _ string)                         {}
func (NoopMetrics) RecordWebhook(_, _ string)                          {}
func (NoopMetrics) RecordProviderCall(_, _, _ string, _ time.Duration) {}
func (NoopMetrics) RecordAlert(_ string)                               {}
func (NoopMetrics) RecordAlertDropped()                                {}
