// ABOUTME: Tests for the escalation coordinator
// ABOUTME: Covers the handoff lifecycle, mode flips and notifier failure isolation

package escalation

import (
	"context"
	"errors"
	"testing"

	"github.com/relaywise/concierge/internal/conversation"
	"github.com/relaywise/concierge/internal/store"
)

type fakeNotifier struct {
	calls int
	err   error
}

func (f *fakeNotifier) NotifyHandoff(ctx context.Context, rec *store.HandoffRecord, conv *store.Conversation) error {
	f.calls++
	return f.err
}

func setup(t *testing.T, notifierErr error) (*Coordinator, *store.MockStore, *fakeNotifier) {
	t.Helper()
	st := store.NewMockStore()
	convs := conversation.NewManager(st, 40, nil)
	fn := &fakeNotifier{err: notifierErr}
	c := NewCoordinator(st, convs, fn, nil)

	ctx := context.Background()
	if _, err := convs.GetOrCreate(ctx, "conv-1", "user-1", "telegram"); err != nil {
		t.Fatalf("creating conversation: %v", err)
	}
	return c, st, fn
}

func TestInitiateHandoff(t *testing.T) {
	c, st, fn := setup(t, nil)
	ctx := context.Background()

	rec, err := c.InitiateHandoff(ctx, "conv-1", store.ReasonOperatorRequest, "user asked for a human", store.SeverityMedium)
	if err != nil {
		t.Fatalf("InitiateHandoff failed: %v", err)
	}

	if fn.calls != 1 {
		t.Errorf("notifier calls: got %d, want 1", fn.calls)
	}
	if rec.Status != store.HandoffNotified {
		t.Errorf("status: got %q, want %q", rec.Status, store.HandoffNotified)
	}
	if rec.NotifiedAt == nil {
		t.Error("NotifiedAt should be set after successful notification")
	}

	conv, err := st.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if conv.Mode != store.ModeHuman {
		t.Errorf("mode: got %q, want %q", conv.Mode, store.ModeHuman)
	}
}

func TestInitiateHandoff_NotifierFailureDoesNotFailHandoff(t *testing.T) {
	c, st, _ := setup(t, errors.New("webhook down"))
	ctx := context.Background()

	rec, err := c.InitiateHandoff(ctx, "conv-1", store.ReasonLowConfidence, "model unsure", store.SeverityLow)
	if err != nil {
		t.Fatalf("InitiateHandoff should succeed despite notifier failure: %v", err)
	}
	if rec.Status != store.HandoffPending {
		t.Errorf("status: got %q, want %q", rec.Status, store.HandoffPending)
	}

	conv, _ := st.GetConversation(ctx, "conv-1")
	if conv.Mode != store.ModeHuman {
		t.Error("mode flip must happen even when notification fails")
	}
}

func TestAcceptAndResolve(t *testing.T) {
	c, st, _ := setup(t, nil)
	ctx := context.Background()

	rec, err := c.InitiateHandoff(ctx, "conv-1", store.ReasonHighComplexity, "", store.SeverityHigh)
	if err != nil {
		t.Fatalf("InitiateHandoff failed: %v", err)
	}

	accepted, err := c.Accept(ctx, rec.ID, "alice")
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	if accepted.Status != store.HandoffAccepted || accepted.AcceptedBy != "alice" {
		t.Errorf("unexpected accepted record: %+v", accepted)
	}

	resolved, err := c.Resolve(ctx, rec.ID, store.OutcomeReturnedToAI)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != store.HandoffResolved {
		t.Errorf("status: got %q, want %q", resolved.Status, store.HandoffResolved)
	}

	conv, _ := st.GetConversation(ctx, "conv-1")
	if conv.Mode != store.ModeAI {
		t.Error("conversation should return to AI mode on that outcome")
	}

	// Accepting a resolved handoff is rejected
	if _, err := c.Accept(ctx, rec.ID, "bob"); err == nil {
		t.Error("expected error accepting a resolved handoff")
	}
}

func TestResolve_OperatorOutcomeKeepsHumanMode(t *testing.T) {
	c, st, _ := setup(t, nil)
	ctx := context.Background()

	rec, err := c.InitiateHandoff(ctx, "conv-1", store.ReasonEmotionalEscalation, "", store.SeverityCritical)
	if err != nil {
		t.Fatalf("InitiateHandoff failed: %v", err)
	}
	if _, err := c.Resolve(ctx, rec.ID, store.OutcomeResolvedByOperator); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	conv, _ := st.GetConversation(ctx, "conv-1")
	if conv.Mode != store.ModeHuman {
		t.Error("operator-resolved handoff should leave the conversation with the operator")
	}
}
