package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/infrastructure/shopify"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type stubHandler struct {
	topic string
	err   error

	mu     sync.Mutex
	events []*domain.WebhookEvent
}

func (h *stubHandler) CanHandle(topic string) bool { return topic == h.topic }

func (h *stubHandler) Handle(_ context.Context, event *domain.WebhookEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return h.err
}

func (h *stubHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type webhookMetricCall struct{ topic, outcome string }

type webhookMetrics struct {
	mu    sync.Mutex
	calls []webhookMetricCall
	ports.NoopMetrics
}

func (m *webhookMetrics) RecordWebhook(topic, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, webhookMetricCall{topic, outcome})
}

func newDispatcher(env *testEnv, metrics *webhookMetrics, handlers ...WebhookHandler) *WebhookDispatcher {
	verifier := shopify.NewWebhookVerifier(testWebhookSecret, domain.WebhookTopics())
	d := NewWebhookDispatcher(verifier, env.store, env.alerter, metrics, zerolog.Nop())
	for _, h := range handlers {
		d.RegisterHandler(h)
	}
	return d
}

func delivery(topic string, body []byte) InboundWebhook {
	route, _ := domain.RouteForTopic(topic)
	routeTopic, _ := domain.TopicForRoute(route)
	return InboundWebhook{
		RouteTopic: routeTopic,
		Metadata:   domain.WebhookMetadata{Topic: topic, ShopDomain: "acme.example", WebhookID: "wh-" + topic},
		Signature:  shopify.Sign([]byte(testWebhookSecret), body),
		Body:       body,
	}
}

func TestWebhookDispatcher_Outcomes(t *testing.T) {
	body := []byte(`{"id":1}`)

	tests := []struct {
		name       string
		in         func() InboundWebhook
		handlerErr error
		want       domain.WebhookOutcome
		handled    bool
		label      string
	}{
		{
			name:    "processed",
			in:      func() InboundWebhook { return delivery(domain.TopicAppUninstalled, body) },
			want:    domain.WebhookProcessed,
			handled: true,
			label:   domain.TopicAppUninstalled,
		},
		{
			name:       "ignored by handler",
			in:         func() InboundWebhook { return delivery(domain.TopicAppUninstalled, body) },
			handlerErr: ErrWebhookIgnored,
			want:       domain.WebhookIgnored,
			handled:    true,
			label:      domain.TopicAppUninstalled,
		},
		{
			name:       "handler failure",
			in:         func() InboundWebhook { return delivery(domain.TopicAppUninstalled, body) },
			handlerErr: errors.New("boom"),
			want:       domain.WebhookFailed,
			handled:    true,
			label:      domain.TopicAppUninstalled,
		},
		{
			name: "bad signature",
			in: func() InboundWebhook {
				in := delivery(domain.TopicAppUninstalled, body)
				in.Signature = shopify.Sign([]byte("wrong"), body)
				return in
			},
			want:  domain.WebhookRejectedSignature,
			label: "rejected",
		},
		{
			name: "body altered after signing",
			in: func() InboundWebhook {
				in := delivery(domain.TopicAppUninstalled, body)
				in.Body = []byte(`{"id":2}`)
				return in
			},
			want:  domain.WebhookRejectedSignature,
			label: "rejected",
		},
		{
			name: "missing signature",
			in: func() InboundWebhook {
				in := delivery(domain.TopicAppUninstalled, body)
				in.Signature = ""
				return in
			},
			want:  domain.WebhookRejectedSignature,
			label: "rejected",
		},
		{
			name: "topic not allowed",
			in: func() InboundWebhook {
				in := delivery("orders/create", body)
				in.RouteTopic = ""
				return in
			},
			want:  domain.WebhookRejectedTopic,
			label: "rejected",
		},
		{
			name: "topic does not match route",
			in: func() InboundWebhook {
				in := delivery(domain.TopicAppSubscriptionUpdate, body)
				in.RouteTopic = domain.TopicAppUninstalled
				return in
			},
			want:  domain.WebhookRejectedTopic,
			label: "rejected",
		},
		{
			name:  "no handler",
			in:    func() InboundWebhook { return delivery(domain.TopicAppSubscriptionUpdate, body) },
			want:  domain.WebhookIgnored,
			label: domain.TopicAppSubscriptionUpdate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			metrics := &webhookMetrics{}
			handler := &stubHandler{topic: domain.TopicAppUninstalled, err: tt.handlerErr}
			d := newDispatcher(env, metrics, handler)

			got := d.Receive(context.Background(), tt.in())
			assert.Equal(t, tt.want, got)

			if tt.handled {
				assert.Equal(t, 1, handler.calls())
			} else {
				assert.Zero(t, handler.calls())
			}

			logs := env.store.WebhookLogs()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.want, logs[0].Outcome)
			assert.NotEmpty(t, logs[0].ID)
			if tt.want != domain.WebhookProcessed {
				assert.NotEmpty(t, logs[0].Error)
			}

			require.Len(t, metrics.calls, 1)
			assert.Equal(t, webhookMetricCall{tt.label, string(tt.want)}, metrics.calls[0])
			assert.Empty(t, env.alerter.categories())
		})
	}
}

func TestWebhookDispatcher_HandlerSeesVerifiedEvent(t *testing.T) {
	env := newTestEnv(t)
	handler := &stubHandler{topic: domain.TopicAppUninstalled}
	d := newDispatcher(env, &webhookMetrics{}, handler)

	body := []byte(`{"myshopify_domain":"acme.example"}`)
	require.Equal(t, domain.WebhookProcessed, d.Receive(context.Background(), delivery(domain.TopicAppUninstalled, body)))

	require.Equal(t, 1, handler.calls())
	event := handler.events[0]
	assert.True(t, event.Verified)
	assert.Equal(t, "acme.example", event.Shop)
	assert.Equal(t, body, event.Payload)
	assert.Equal(t, "wh-"+domain.TopicAppUninstalled, event.Metadata.WebhookID)
}

func TestWebhookDispatcher_HandlerRunsAfterSenderHangsUp(t *testing.T) {
	env := newTestEnv(t)
	handler := &ctxCheckingHandler{topic: domain.TopicAppUninstalled}
	d := newDispatcher(env, &webhookMetrics{}, handler)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got := d.Receive(ctx, delivery(domain.TopicAppUninstalled, []byte(`{}`)))
	assert.Equal(t, domain.WebhookProcessed, got)
	assert.NoError(t, handler.ctxErr)
	assert.Len(t, env.store.WebhookLogs(), 1)
}

func TestWebhookDispatcher_LogFailureAlerts(t *testing.T) {
	env := newTestEnv(t)
	env.store.webhookLogErr = errStoreDown
	handler := &stubHandler{topic: domain.TopicAppUninstalled}
	d := newDispatcher(env, &webhookMetrics{}, handler)

	got := d.Receive(context.Background(), delivery(domain.TopicAppUninstalled, []byte(`{}`)))
	assert.Equal(t, domain.WebhookProcessed, got)
	assert.Equal(t, []string{domain.AlertWebhookLog}, env.alerter.categories())
}

type ctxCheckingHandler struct {
	topic  string
	ctxErr error
}

func (h *ctxCheckingHandler) CanHandle(topic string) bool { return topic == h.topic }

func (h *ctxCheckingHandler) Handle(ctx context.Context, _ *domain.WebhookEvent) error {
	h.ctxErr = ctx.Err()
	return nil
}
