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

	"github.com/enviroquery/aqroute/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertErrorRate    AlertType = "error_rate"
	AlertSQLRouteRate AlertType = "sql_route_rate"
	AlertLatency      AlertType = "latency"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
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
// Rate checks need at least 5 finished runs so a single early failure does
// not page anyone.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.RunTotal >= 5 && a.cfg.ErrorRate > 0 && snap.ErrorRate > a.cfg.ErrorRate {
		alerts = append(alerts, Alert{
			Type:     AlertErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Error rate %.1f%% exceeds threshold %.1f%% (%d failed / %d runs in window)",
				snap.ErrorRate*100, a.cfg.ErrorRate*100,
				snap.RunTotal-snap.RunSuccess, snap.RunTotal,
			),
			Details: map[string]any{
				"error_rate": snap.ErrorRate,
				"threshold":  a.cfg.ErrorRate,
				"run_total":  snap.RunTotal,
			},
			Timestamp: now,
		})
	}

	if snap.RunTotal >= 5 && a.cfg.SQLRate > 0 && snap.SQLRouteRate > a.cfg.SQLRate {
		alerts = append(alerts, Alert{
			Type:     AlertSQLRouteRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"SQL route rate %.1f%% exceeds threshold %.1f%%; the report path is shedding questions",
				snap.SQLRouteRate*100, a.cfg.SQLRate*100,
			),
			Details: map[string]any{
				"sql_route_rate": snap.SQLRouteRate,
				"threshold":      a.cfg.SQLRate,
				"run_total":      snap.RunTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.LatencySecs > 0 && snap.AvgLatencySecs > a.cfg.LatencySecs {
		alerts = append(alerts, Alert{
			Type:     AlertLatency,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average latency %.1fs exceeds threshold %.1fs",
				snap.AvgLatencySecs, a.cfg.LatencySecs,
			),
			Details: map[string]any{
				"avg_latency_secs": snap.AvgLatencySecs,
				"threshold_secs":   a.cfg.LatencySecs,
			},
			Timestamp: now,
		})
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
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
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
