package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
)

const webhookProcessTimeout = 20 * time.Second

// ErrWebhookIgnored is returned by handlers for deliveries that need no action, such as
// duplicates or out-of-order updates.
var ErrWebhookIgnored = errors.New("webhook ignored")

// WebhookHandler processes one family of webhook topics
type WebhookHandler interface {
	CanHandle(topic string) bool
	Handle(ctx context.Context, event *domain.WebhookEvent) error
}

// InboundWebhook is a delivery as read off the wire.
type InboundWebhook struct {
	// RouteTopic is the topic implied by the URL the delivery arrived on.
	RouteTopic string
	Metadata   domain.WebhookMetadata
	Signature  string
	Body       []byte
}

// WebhookDispatcher authenticates deliveries, routes them to handlers and logs every one.
// Handler failures never surface as transport errors; they are logged and alerted.
type WebhookDispatcher struct {
	auth     ports.WebhookAuthenticator
	audit    ports.AuditRepository
	alerter  ports.Alerter
	metrics  ports.Metrics
	handlers []WebhookHandler
	logger   zerolog.Logger
}

func NewWebhookDispatcher(
	auth ports.WebhookAuthenticator,
	audit ports.AuditRepository,
	alerter ports.Alerter,
	metrics ports.Metrics,
	logger zerolog.Logger,
) *WebhookDispatcher {
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}
	return &WebhookDispatcher{
		auth:    auth,
		audit:   audit,
		alerter: alerter,
		metrics: metrics,
		logger:  logger.With().Str("component", "webhooks").Logger(),
	}
}

// RegisterHandler adds a handler. The first handler that can handle a topic wins.
func (d *WebhookDispatcher) RegisterHandler(h WebhookHandler) {
	d.handlers = append(d.handlers, h)
}

// Receive processes a delivery and returns the outcome recorded for it.
func (d *WebhookDispatcher) Receive(ctx context.Context, in InboundWebhook) domain.WebhookOutcome {
	md := in.Metadata
	log := d.logger.With().
		Str("topic", md.Topic).
		Str("shop", md.ShopDomain).
		Str("webhookId", md.WebhookID).
		Logger()

	// Bookkeeping and handlers finish even if the sender hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), webhookProcessTimeout)
	defer cancel()

	var (
		outcome domain.WebhookOutcome
		cause   error
	)
	switch {
	case !d.auth.Verify(in.Body, in.Signature):
		outcome, cause = domain.WebhookRejectedSignature, domain.ErrInvalidSignature
		log.Warn().Msg("Webhook signature verification failed")
	case d.auth.ValidateTopic(md.Topic) != nil:
		outcome, cause = domain.WebhookRejectedTopic, fmt.Errorf("%w: %q", domain.ErrTopicNotAllowed, md.Topic)
		log.Warn().Msg("Webhook topic not allowed")
	case in.RouteTopic != "" && md.Topic != in.RouteTopic:
		outcome, cause = domain.WebhookRejectedTopic, fmt.Errorf("%w: %q delivered to %q route", domain.ErrTopicNotAllowed, md.Topic, in.RouteTopic)
		log.Warn().Str("routeTopic", in.RouteTopic).Msg("Webhook topic does not match route")
	default:
		outcome, cause = d.dispatch(ctx, log, &domain.WebhookEvent{
			Topic:    md.Topic,
			Shop:     md.ShopDomain,
			Metadata: md,
			Payload:  in.Body,
			Verified: true,
		})
	}

	d.record(ctx, log, md, outcome, cause)
	d.metrics.RecordWebhook(topicLabel(md.Topic, outcome), string(outcome))
	return outcome
}

func (d *WebhookDispatcher) dispatch(ctx context.Context, log zerolog.Logger, event *domain.WebhookEvent) (domain.WebhookOutcome, error) {
	for _, h := range d.handlers {
		if !h.CanHandle(event.Topic) {
			continue
		}
		err := h.Handle(ctx, event)
		switch {
		case err == nil:
			log.Info().Msg("Webhook processed")
			return domain.WebhookProcessed, nil
		case errors.Is(err, ErrWebhookIgnored):
			log.Info().Err(err).Msg("Webhook ignored")
			return domain.WebhookIgnored, err
		default:
			log.Error().Err(err).Msg("Webhook handler failed")
			return domain.WebhookFailed, err
		}
	}
	log.Warn().Msg("No handler registered for webhook topic")
	return domain.WebhookIgnored, errors.New("no handler for topic")
}

func (d *WebhookDispatcher) record(ctx context.Context, log zerolog.Logger, md domain.WebhookMetadata, outcome domain.WebhookOutcome, cause error) {
	entry := &domain.WebhookLog{
		ID:         domain.NewID(),
		Topic:      md.Topic,
		ShopDomain: md.ShopDomain,
		WebhookID:  md.WebhookID,
		APIVersion: md.APIVersion,
		Outcome:    outcome,
		ReceivedAt: time.Now().UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	if err := d.audit.InsertWebhookLog(ctx, entry); err != nil {
		log.Error().Err(err).Msg("Failed to write webhook log")
		d.alerter.Alert(ctx, domain.Alert{
			Category: domain.AlertWebhookLog,
			Message:  "webhook delivery was not recorded",
			Context: map[string]string{
				"topic":      md.Topic,
				"shop":       md.ShopDomain,
				"webhook_id": md.WebhookID,
				"outcome":    string(outcome),
			},
			Cause: err,
		})
	}
}

// topicLabel keeps unauthenticated topic headers out of metric labels.
func topicLabel(topic string, outcome domain.WebhookOutcome) string {
	if outcome == domain.WebhookRejectedSignature || outcome == domain.WebhookRejectedTopic {
		return "rejected"
	}
	return topic
}
