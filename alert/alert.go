// Package alert delivers operational failure notifications for events a
// human should see, independent of whatever the caller's own result
// callback does with the error: a queued drain that fails outright (not
// a single skipped DataFetchError packet).
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"
)

// Severity classifies a Notifier payload.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Notifier delivers an operational alert somewhere a human will see it.
type Notifier interface {
	Notify(ctx context.Context, severity Severity, title, description, detail string) error
}

// WebhookConfig configures a WebhookNotifier.
type WebhookConfig struct {
	Enabled     bool
	Endpoint    string
	Timeout     time.Duration
	ServiceName string
	Version     string
	// DevLogOnly, when Enabled is false, causes alerts to be logged
	// locally instead of silently dropped — useful for local runs of
	// cmd/s2sctl against a dev cluster.
	DevLogOnly bool
}

// WebhookNotifier posts a JSON payload to a configured HTTP endpoint.
type WebhookNotifier struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookNotifier builds a WebhookNotifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookNotifier{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type payload struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	Severity    string `json:"severity"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Detail      string `json:"detail"`
	Timestamp   string `json:"timestamp"`
}

// Notify sends the alert, or logs it locally when alerting is disabled
// and DevLogOnly is set.
func (n *WebhookNotifier) Notify(ctx context.Context, severity Severity, title, description, detail string) error {
	if !n.cfg.Enabled {
		if n.cfg.DevLogOnly {
			log.Infof("alert [%s]: %s - %s (%s)", severity, title, description, detail)
		}
		return nil
	}
	if n.cfg.Endpoint == "" {
		return errors.New("alert: webhook endpoint not configured")
	}

	body, err := json.Marshal(payload{
		Service:     n.cfg.ServiceName,
		Version:     n.cfg.Version,
		Severity:    string(severity),
		Title:       title,
		Description: description,
		Detail:      detail,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return errors.Wrap(err, "marshal alert payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build alert request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "send alert")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	log.Debugf("alert sent: %s", title)
	return nil
}

// NoopNotifier discards every alert; the default when no webhook is
// configured and dev logging isn't wanted either.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Severity, string, string, string) error { return nil }
