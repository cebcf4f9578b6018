package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	ports.NoopMetrics
	mu      sync.Mutex
	alerts  map[string]int
	dropped int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{alerts: map[string]int{}}
}

func (m *countingMetrics) RecordAlert(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[category]++
}

func (m *countingMetrics) RecordAlertDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *countingMetrics) droppedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func TestAlerter_DeliversToWebhook(t *testing.T) {
	received := make(chan payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p payload
		if err := json.NewDecoder(r.Body).Decode(&p); err == nil {
			received <- p
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	metrics := newCountingMetrics()
	a := New(Config{WebhookURL: srv.URL}, metrics, zerolog.Nop())

	a.Alert(context.Background(), domain.Alert{
		Category: domain.AlertBillingAudit,
		Message:  "billing event not recorded",
		Context:  map[string]string{"shop": "acme.myshopify.com"},
		Cause:    errors.New("insert failed"),
	})

	select {
	case p := <-received:
		assert.Equal(t, domain.AlertBillingAudit, p.Category)
		assert.Equal(t, "billing event not recorded", p.Message)
		assert.Equal(t, "acme.myshopify.com", p.Context["shop"])
		assert.Equal(t, "insert failed", p.Cause)
	case <-time.After(2 * time.Second):
		t.Fatal("alert was not delivered")
	}

	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, 1, metrics.alerts[domain.AlertBillingAudit])
}

func TestAlerter_WithoutWebhookOnlyLogs(t *testing.T) {
	metrics := newCountingMetrics()
	a := New(Config{}, metrics, zerolog.Nop())

	a.Alert(context.Background(), domain.Alert{Category: domain.AlertUninstall, Message: "x"})

	assert.Equal(t, 1, metrics.alerts[domain.AlertUninstall])
	assert.Equal(t, 0, metrics.droppedCount())
	require.NoError(t, a.Close(context.Background()))
}

func TestAlerter_FullQueueDropsWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	metrics := newCountingMetrics()
	a := New(Config{WebhookURL: srv.URL, QueueSize: 1, Timeout: 5 * time.Second}, metrics, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 10; i++ {
		a.Alert(context.Background(), domain.Alert{Category: domain.AlertWebhookLog, Message: "x"})
	}
	assert.Less(t, time.Since(start), time.Second)

	// At most one alert in flight and one queued.
	assert.GreaterOrEqual(t, metrics.droppedCount(), 8)

	close(release)
	require.NoError(t, a.Close(context.Background()))
}

func TestAlerter_AlertAfterCloseIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	metrics := newCountingMetrics()
	a := New(Config{WebhookURL: srv.URL}, metrics, zerolog.Nop())
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	a.Alert(context.Background(), domain.Alert{Category: domain.AlertUninstall, Message: "late"})
	assert.Equal(t, 1, metrics.droppedCount())
}
