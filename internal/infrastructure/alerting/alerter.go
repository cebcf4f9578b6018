// Package alerting delivers operational alerts without blocking the request path.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"shop-integrations-layer/internal/domain"
	"shop-integrations-layer/internal/ports"

	"github.com/rs/zerolog"
)

const (
	DefaultQueueSize = 256
	defaultTimeout   = 5 * time.Second
)

// Config configures the alerter.
type Config struct {
	// WebhookURL receives a JSON POST per alert. Empty disables delivery.
	WebhookURL string
	QueueSize  int
	Timeout    time.Duration
	HTTPClient *http.Client
}

type payload struct {
	Category string            `json:"category"`
	Message  string            `json:"message"`
	Context  map[string]string `json:"context,omitempty"`
	Cause    string            `json:"cause,omitempty"`
	At       time.Time         `json:"at"`
}

// Alerter logs every alert and forwards it to an optional webhook from a background worker.
type Alerter struct {
	cfg     Config
	queue   chan payload
	metrics ports.Metrics
	logger  zerolog.Logger

	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	shutdown chan struct{}
}

var _ ports.Alerter = (*Alerter)(nil)

// New creates an Alerter and starts its worker when a webhook URL is set.
func New(cfg Config, metrics ports.Metrics, logger zerolog.Logger) *Alerter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if metrics == nil {
		metrics = ports.NoopMetrics{}
	}

	a := &Alerter{
		cfg:      cfg,
		queue:    make(chan payload, cfg.QueueSize),
		metrics:  metrics,
		logger:   logger.With().Str("component", "alerter").Logger(),
		shutdown: make(chan struct{}),
	}
	if cfg.WebhookURL != "" {
		a.startWorker()
	}
	return a
}

// Alert records the alert and enqueues delivery. It never blocks.
func (a *Alerter) Alert(_ context.Context, alert domain.Alert) {
	a.metrics.RecordAlert(alert.Category)

	ev := a.logger.Error().Bool("alert", true).Str("category", alert.Category)
	if alert.Cause != nil {
		ev = ev.Err(alert.Cause)
	}
	for k, v := range alert.Context {
		ev = ev.Str(k, v)
	}
	ev.Msg(alert.Message)

	if a.cfg.WebhookURL == "" {
		return
	}

	p := payload{
		Category: alert.Category,
		Message:  alert.Message,
		Context:  alert.Context,
		At:       time.Now().UTC(),
	}
	if alert.Cause != nil {
		p.Cause = alert.Cause.Error()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.metrics.RecordAlertDropped()
		return
	}
	select {
	case a.queue <- p:
	default:
		a.metrics.RecordAlertDropped()
		a.logger.Warn().Str("category", alert.Category).Msg("Alert queue full, dropping alert")
	}
}

// Close stops accepting alerts and drains the queue, bounded by ctx.
func (a *Alerter) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.shutdown)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain alert queue: %w", ctx.Err())
	}
}

func (a *Alerter) startWorker() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case p := <-a.queue:
				a.deliver(p)
			case <-a.shutdown:
				for {
					select {
					case p := <-a.queue:
						a.deliver(p)
					default:
						return
					}
				}
			}
		}
	}()
}

func (a *Alerter) deliver(p payload) {
	body, err := json.Marshal(p)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode alert")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to build alert request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		a.logger.Warn().Err(err).Str("category", p.Category).Msg("Failed to deliver alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn().Int("status", resp.StatusCode).Str("category", p.Category).Msg("Alert webhook rejected alert")
	}
}
