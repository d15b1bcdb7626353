// ABOUTME: Operator notification delivery for escalations
// ABOUTME: Ships webhook and log-only notifiers behind one interface

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/relaywise/concierge/internal/store"
)

// Notifier delivers an escalation alert to the operator channel.
type Notifier interface {
	NotifyHandoff(ctx context.Context, rec *store.HandoffRecord, conv *store.Conversation) error
}

// WebhookNotifier POSTs a JSON alert to a configured webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With("component", "notify"),
	}
}

type webhookPayload struct {
	HandoffID      string    `json:"handoff_id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Platform       string    `json:"platform"`
	Reason         string    `json:"reason"`
	Description    string    `json:"description"`
	Severity       string    `json:"severity"`
	InitiatedAt    time.Time `json:"initiated_at"`
}

// NotifyHandoff posts the alert. Non-2xx responses are errors.
func (n *WebhookNotifier) NotifyHandoff(ctx context.Context, rec *store.HandoffRecord, conv *store.Conversation) error {
	payload := webhookPayload{
		HandoffID:      rec.ID,
		ConversationID: rec.ConversationID,
		UserID:         conv.UserID,
		Platform:       conv.Platform,
		Reason:         rec.Reason,
		Description:    rec.Description,
		Severity:       rec.Severity,
		InitiatedAt:    rec.InitiatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %d", resp.StatusCode)
	}

	n.logger.Debug("handoff alert delivered", "handoff_id", rec.ID, "reason", rec.Reason)
	return nil
}

// LogNotifier writes alerts to the log only. Used when no webhook is
// configured so escalations are still visible.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// NotifyHandoff logs the alert and always succeeds.
func (n *LogNotifier) NotifyHandoff(ctx context.Context, rec *store.HandoffRecord, conv *store.Conversation) error {
	n.logger.Warn("operator attention required",
		"handoff_id", rec.ID,
		"conversation_id", rec.ConversationID,
		"user_id", conv.UserID,
		"platform", conv.Platform,
		"reason", rec.Reason,
		"severity", rec.Severity,
		"description", rec.Description)
	return nil
}
