package domain

import "time"

// Webhook topics handled by this service.
const (
	TopicAppUninstalled        = "app/uninstalled"
	TopicAppSubscriptionUpdate = "app_subscriptions/update"
)

var webhookRoutes = map[string]string{
	"app-uninstalled":          TopicAppUninstalled,
	"app-subscriptions-update": TopicAppSubscriptionUpdate,
}

// WebhookTopics returns the topics this service subscribes to.
func WebhookTopics() []string {
	return []string{TopicAppUninstalled, TopicAppSubscriptionUpdate}
}

// TopicForRoute maps a webhook URL segment to its topic.
func TopicForRoute(event string) (string, bool) {
	topic, ok := webhookRoutes[event]
	return topic, ok
}

// RouteForTopic maps a topic to the URL segment it is delivered to.
func RouteForTopic(topic string) (string, bool) {
	for event, t := range webhookRoutes {
		if t == topic {
			return event, true
		}
	}
	return "", false
}

// WebhookMetadata is extracted from request headers, independently of signature checks.
type WebhookMetadata struct {
	Topic       string
	ShopDomain  string
	WebhookID   string
	APIVersion  string
	TriggeredAt *time.Time
}

// WebhookEvent is a verified inbound webhook ready for dispatch.
type WebhookEvent struct {
	Topic    string
	Shop     string
	Metadata WebhookMetadata
	Payload  []byte
	Verified bool
}

// WebhookOutcome is the processing result recorded in the webhook log.
type WebhookOutcome string

const (
	WebhookProcessed         WebhookOutcome = "processed"
	WebhookFailed            WebhookOutcome = "failed"
	WebhookIgnored           WebhookOutcome = "ignored"
	WebhookRejectedSignature WebhookOutcome = "rejected_signature"
	WebhookRejectedTopic     WebhookOutcome = "rejected_topic"
)

// WebhookLog is the append-only record of an inbound webhook. Never updated after insert.
type WebhookLog struct {
	ID         string         `json:"id"`
	Topic      string         `json:"topic"`
	ShopDomain string         `json:"shop_domain"`
	WebhookID  string         `json:"webhook_id"`
	APIVersion string         `json:"api_version,omitempty"`
	Outcome    WebhookOutcome `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	ReceivedAt time.Time      `json:"received_at"`
}

// Alert is an operational notification for conditions that may mean silent data loss.
type Alert struct {
	Category string
	Message  string
	Context  map[string]string
	Cause    error
}

// Alert categories.
const (
	AlertIntegrationVerification = "integration_verification_failed"
	AlertIntegrationPersist      = "integration_persist_failed"
	AlertBillingAudit            = "billing_audit_failed"
	AlertSubscriptionUpdate      = "subscription_update_failed"
	AlertUninstall               = "uninstall_failed"
	AlertCacheInvalidation       = "cache_invalidation_failed"
	AlertWebhookLog              = "webhook_log_failed"
)
