// Package notify informs the external notification collaborator about
// produced deltas so it can render visual indicators. The engine does not
// own notification read state; this is strictly a typed outbound call.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"tabsync/core"
)

// Notifier is the outbound notification contract the mutation service
// calls after every committed delta. Failures are logged and isolated;
// they never reach the mutation path.
type Notifier interface {
	DeltaProduced(ctx context.Context, recipients []core.Topic, delta *core.Delta)
}

// Config holds webhook notifier settings.
type Config struct {
	Enabled    bool
	WebhookURL string
	Method     string
	Headers    map[string]string
	Timeout    time.Duration
}

// WebhookNotifier posts delta notifications to a configured endpoint,
// guarded by a circuit breaker so a dead endpoint costs a rejected call
// instead of an HTTP timeout per delta.
type WebhookNotifier struct {
	cfg     Config
	client  *http.Client
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// notification is the wire body sent to the collaborator.
type notification struct {
	Recipients []core.Topic   `json:"recipients"`
	Kind       core.DeltaKind `json:"kind"`
	OrderID    string         `json:"order_id"`
	Version    int64          `json:"version"`
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg Config, logger *zap.SugaredLogger) *WebhookNotifier {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: core.NewCircuitBreaker(core.DefaultCircuitBreakerConfig()),
		logger:  logger,
	}
}

// DeltaProduced informs the collaborator of (recipient set, kind) for one
// committed delta. Best effort: errors are logged, never returned.
func (n *WebhookNotifier) DeltaProduced(ctx context.Context, recipients []core.Topic, delta *core.Delta) {
	if !n.cfg.Enabled {
		return
	}
	if err := n.breaker.Allow(); err != nil {
		n.logger.Debugw("Notification skipped, circuit open",
			"order_id", delta.OrderID,
			"kind", delta.Kind)
		return
	}

	if err := n.send(ctx, recipients, delta); err != nil {
		n.breaker.RecordFailure()
		n.logger.Errorw("Notification delivery failed",
			"order_id", delta.OrderID,
			"kind", delta.Kind,
			"error", err)
		return
	}
	n.breaker.RecordSuccess()
}

func (n *WebhookNotifier) send(ctx context.Context, recipients []core.Topic, delta *core.Delta) error {
	body, err := json.Marshal(notification{
		Recipients: recipients,
		Kind:       delta.Kind,
		OrderID:    delta.OrderID,
		Version:    delta.Version,
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, n.cfg.Method, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("notification endpoint returned %d", resp.StatusCode)
	}
	return nil
}
