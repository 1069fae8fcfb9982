package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-collector/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate AlertType = "failure_rate"
	AlertPartialRuns AlertType = "partial_runs"
	AlertStalledRuns AlertType = "stalled_runs"
)

// minUnits is the smallest sample a failure rate is judged on.
const minUnits = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Source    string         `json:"source"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, h := range snap.Sources {
		if h.Units() >= minUnits && h.FailRate > a.cfg.FailureRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertFailureRate,
				Source:   h.Source,
				Severity: "high",
				Message: fmt.Sprintf(
					"%s failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d units in last %dh)",
					h.Source, h.FailRate*100, a.cfg.FailureRateThreshold*100,
					h.Failed, h.Units(), snap.LookbackHours,
				),
				Details: map[string]any{
					"failure_rate": h.FailRate,
					"threshold":    a.cfg.FailureRateThreshold,
					"failed":       h.Failed,
					"units":        h.Units(),
				},
				Timestamp: now,
			})
		}

		if h.Partial > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertPartialRuns,
				Source:   h.Source,
				Severity: "medium",
				Message: fmt.Sprintf("%d of %d %s run(s) ended early in last %dh",
					h.Partial, h.Done, h.Source, snap.LookbackHours),
				Details: map[string]any{
					"partial": h.Partial,
					"done":    h.Done,
				},
				Timestamp: now,
			})
		}

		if h.Stalled > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertStalledRuns,
				Source:   h.Source,
				Severity: "high",
				Message:  fmt.Sprintf("%d %s run(s) stopped before finishing", h.Stalled, h.Source),
				Details: map[string]any{
					"stalled": h.Stalled,
					"runs":    h.Runs,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("source", alert.Source),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("source", alert.Source),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
