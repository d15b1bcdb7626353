// ABOUTME: Escalation coordinator for AI-to-human handoffs
// ABOUTME: Owns the handoff record lifecycle and the conversation mode flips around it

package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaywise/concierge/internal/conversation"
	"github.com/relaywise/concierge/internal/notify"
	"github.com/relaywise/concierge/internal/store"
)

// Coordinator moves conversations between AI and human handling and keeps
// the handoff record lifecycle in step: pending -> notified -> accepted ->
// resolved.
type Coordinator struct {
	store    store.Store
	convs    *conversation.Manager
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewCoordinator creates an escalation coordinator.
func NewCoordinator(st store.Store, convs *conversation.Manager, notifier notify.Notifier, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:    st,
		convs:    convs,
		notifier: notifier,
		logger:   logger.With("component", "escalation"),
	}
}

// InitiateHandoff switches the conversation to human mode, records the
// handoff and alerts operators. The mode flip and record are the critical
// part; a notification failure is logged but does not fail the handoff,
// the record stays pending for operators polling the API.
func (c *Coordinator) InitiateHandoff(ctx context.Context, conversationID, reason, description, severity string) (*store.HandoffRecord, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}

	if err := c.convs.SetMode(ctx, conversationID, store.ModeHuman); err != nil {
		return nil, fmt.Errorf("switching to human mode: %w", err)
	}

	rec := &store.HandoffRecord{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Reason:         reason,
		Description:    description,
		Severity:       severity,
		Status:         store.HandoffPending,
		InitiatedAt:    time.Now().UTC(),
	}
	if err := c.store.CreateHandoff(ctx, rec); err != nil {
		return nil, fmt.Errorf("recording handoff: %w", err)
	}

	c.logger.Info("handoff initiated",
		"handoff_id", rec.ID,
		"conversation_id", conversationID,
		"reason", reason,
		"severity", severity)

	if c.notifier != nil {
		if err := c.notifier.NotifyHandoff(ctx, rec, conv); err != nil {
			c.logger.Error("handoff notification failed", "handoff_id", rec.ID, "error", err)
		} else {
			now := time.Now().UTC()
			rec.Status = store.HandoffNotified
			rec.NotifiedAt = &now
			if err := c.store.UpdateHandoff(ctx, rec); err != nil {
				c.logger.Error("failed to mark handoff notified", "handoff_id", rec.ID, "error", err)
			}
		}
	}

	return rec, nil
}

// Accept marks a handoff as taken by an operator.
func (c *Coordinator) Accept(ctx context.Context, handoffID, operator string) (*store.HandoffRecord, error) {
	rec, err := c.store.GetHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}
	if rec.Status == store.HandoffResolved {
		return nil, fmt.Errorf("handoff %s already resolved", handoffID)
	}

	now := time.Now().UTC()
	rec.Status = store.HandoffAccepted
	rec.AcceptedAt = &now
	rec.AcceptedBy = operator
	if err := c.store.UpdateHandoff(ctx, rec); err != nil {
		return nil, fmt.Errorf("accepting handoff: %w", err)
	}

	c.logger.Info("handoff accepted", "handoff_id", handoffID, "operator", operator)
	return rec, nil
}

// Resolve closes a handoff. When the outcome returns the conversation to
// the AI, the conversation mode flips back.
func (c *Coordinator) Resolve(ctx context.Context, handoffID, outcome string) (*store.HandoffRecord, error) {
	rec, err := c.store.GetHandoff(ctx, handoffID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec.Status = store.HandoffResolved
	rec.ResolvedAt = &now
	rec.Outcome = outcome
	if err := c.store.UpdateHandoff(ctx, rec); err != nil {
		return nil, fmt.Errorf("resolving handoff: %w", err)
	}

	if outcome == store.OutcomeReturnedToAI {
		if err := c.convs.SetMode(ctx, rec.ConversationID, store.ModeAI); err != nil {
			return nil, fmt.Errorf("returning conversation to AI: %w", err)
		}
	}

	c.logger.Info("handoff resolved", "handoff_id", handoffID, "outcome", outcome)
	return rec, nil
}

// ReturnToAI flips a conversation back to AI mode without touching any
// handoff record. Used by the ops API for manual overrides.
func (c *Coordinator) ReturnToAI(ctx context.Context, conversationID string) error {
	return c.convs.SetMode(ctx, conversationID, store.ModeAI)
}

// IsHumanMode reports whether a conversation is currently operator-handled.
func (c *Coordinator) IsHumanMode(ctx context.Context, conversationID string) bool {
	return c.convs.IsHumanMode(ctx, conversationID)
}
