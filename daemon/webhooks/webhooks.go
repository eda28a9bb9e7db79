// SPDX-License-Identifier: LGPL-3.0-or-later

package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"dlcd/config"
	"dlcd/daemon/models"
	"dlcd/logger"
)

// Event types
const (
	EventDlcInstalling   = "dlc.installing"
	EventDlcInstalled    = "dlc.installed"
	EventDlcNotInstalled = "dlc.not_installed"
	EventDlcProgress     = "dlc.progress"
)

// Payload is the webhook request body.
type Payload struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	State     models.DlcState `json:"state"`
}

// Manager delivers DLC state changes to configured webhook endpoints. It
// implements notify.Observer.
type Manager struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	log      logger.Logger
}

// NewManager creates a webhook manager.
func NewManager(webhooks []config.WebhookConfig, log logger.Logger) *Manager {
	return &Manager{
		webhooks: webhooks,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// DlcStateChanged fans a state change out to subscribed endpoints.
func (m *Manager) DlcStateChanged(state models.DlcState) {
	event := eventFor(state)
	payload := Payload{
		Event:     event,
		Timestamp: time.Now(),
		State:     state,
	}

	for _, webhook := range m.webhooks {
		if !webhook.Enabled || !subscribed(webhook, event) {
			continue
		}
		go m.send(webhook, payload)
	}
}

func eventFor(state models.DlcState) string {
	switch state.Status {
	case models.StatusInstalled:
		return EventDlcInstalled
	case models.StatusNotInstalled:
		return EventDlcNotInstalled
	case models.StatusInstalling:
		if state.Progress > 0 {
			return EventDlcProgress
		}
		return EventDlcInstalling
	}
	return EventDlcNotInstalled
}

func subscribed(webhook config.WebhookConfig, event string) bool {
	if len(webhook.Events) == 0 {
		return true
	}
	for _, e := range webhook.Events {
		if e == event || e == "*" {
			return true
		}
	}
	return false
}

// send delivers one payload with retry and exponential backoff.
func (m *Manager) send(webhook config.WebhookConfig, payload Payload) {
	maxRetries := webhook.Retry
	if maxRetries == 0 {
		maxRetries = 3
	}
	timeout := webhook.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			m.log.Info("retrying webhook delivery",
				"url", webhook.URL, "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := m.deliver(ctx, webhook, payload)
		cancel()
		if err == nil {
			m.log.Debug("webhook delivered", "url", webhook.URL, "event", payload.Event)
			return
		}
		lastErr = err
	}

	m.log.Error("webhook delivery failed",
		"url", webhook.URL, "event", payload.Event, "error", lastErr)
}

func (m *Manager) deliver(ctx context.Context, webhook config.WebhookConfig, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range webhook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
