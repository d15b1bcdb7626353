// ABOUTME: Tests for the conversation manager
// ABOUTME: Uses the in-memory mock store

package conversation

import (
	"context"
	"testing"

	"github.com/relaywise/concierge/internal/store"
)

func newTestManager() (*Manager, *store.MockStore) {
	st := store.NewMockStore()
	return NewManager(st, 40, nil), st
}

func TestGetOrCreate(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	conv, err := m.GetOrCreate(ctx, "conv-1", "user-1", "telegram")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if conv.Mode != store.ModeAI {
		t.Errorf("new conversation mode: got %q, want %q", conv.Mode, store.ModeAI)
	}

	again, err := m.GetOrCreate(ctx, "conv-1", "user-1", "telegram")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if again.ID != conv.ID {
		t.Errorf("expected the same conversation back, got %q", again.ID)
	}
}

func TestGetOrCreate_SecondChatSameUser(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	first, err := m.GetOrCreate(ctx, "chat-1", "user-1", "telegram")
	if err != nil {
		t.Fatalf("GetOrCreate(chat-1) failed: %v", err)
	}

	// The same user writing from a different chat id must get a second
	// conversation, not an error.
	second, err := m.GetOrCreate(ctx, "chat-2", "user-1", "telegram")
	if err != nil {
		t.Fatalf("GetOrCreate(chat-2) failed: %v", err)
	}
	if second.ID != "chat-2" {
		t.Errorf("second conversation id: got %q, want %q", second.ID, "chat-2")
	}
	if second.ID == first.ID {
		t.Error("expected two distinct conversations for the two chats")
	}

	// Histories stay independent.
	if err := m.AppendMessage(ctx, first, &store.Message{Role: store.RoleUser, Text: "in private"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	history, err := m.History(ctx, "chat-2")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("chat-2 history: got %d messages, want 0", len(history))
	}
}

func TestAppendMessageAndHistory(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	conv, err := m.GetOrCreate(ctx, "conv-1", "user-1", "telegram")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if err := m.AppendMessage(ctx, conv, &store.Message{Role: store.RoleUser, Text: "hello"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := m.AppendMessage(ctx, conv, &store.Message{Role: store.RoleAssistant, Text: "hi there", HandledBy: store.HandledByAI}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	history, err := m.History(ctx, "conv-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length: got %d, want 2", len(history))
	}
	if history[0].Role != store.RoleUser || history[1].Role != store.RoleAssistant {
		t.Error("history not in chronological order")
	}
	if history[0].ID == "" {
		t.Error("message ID was not assigned")
	}
}

func TestSetModeAndIsHumanMode(t *testing.T) {
	m, _ := newTestManager()
	ctx := context.Background()

	if _, err := m.GetOrCreate(ctx, "conv-1", "user-1", "telegram"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if m.IsHumanMode(ctx, "conv-1") {
		t.Error("fresh conversation should be in AI mode")
	}

	if err := m.SetMode(ctx, "conv-1", store.ModeHuman); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	if !m.IsHumanMode(ctx, "conv-1") {
		t.Error("conversation should be in human mode after SetMode")
	}

	// Unknown conversations default to AI mode
	if m.IsHumanMode(ctx, "conv-missing") {
		t.Error("unknown conversation should report AI mode")
	}
}

func TestRuntimeIsPerConversation(t *testing.T) {
	m, _ := newTestManager()

	rt1 := m.Runtime("conv-1")
	rt1.OffTopicCount = 2
	rt1.OperatorFlow = OperatorFlowOffered

	if m.Runtime("conv-2").OffTopicCount != 0 {
		t.Error("runtime state leaked between conversations")
	}
	if m.Runtime("conv-1").OffTopicCount != 2 {
		t.Error("runtime state not retained")
	}
}

func TestTouchProfile(t *testing.T) {
	m, st := newTestManager()
	ctx := context.Background()

	if err := m.TouchProfile(ctx, "user-1", "telegram", true); err != nil {
		t.Fatalf("TouchProfile failed: %v", err)
	}
	if err := m.TouchProfile(ctx, "user-1", "telegram", false); err != nil {
		t.Fatalf("TouchProfile failed: %v", err)
	}
	if err := m.TouchProfile(ctx, "user-1", "telegram", true); err != nil {
		t.Fatalf("TouchProfile failed: %v", err)
	}

	profile, err := st.GetProfile(ctx, "user-1", "telegram")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if profile.Messages != 3 {
		t.Errorf("messages: got %d, want 3", profile.Messages)
	}
	if profile.Conversations != 2 {
		t.Errorf("conversations: got %d, want 2", profile.Conversations)
	}
	if profile.FirstContactAt.IsZero() {
		t.Error("first contact timestamp not set")
	}
}

func TestReset(t *testing.T) {
	m, st := newTestManager()
	ctx := context.Background()

	conv, err := m.GetOrCreate(ctx, "conv-1", "user-1", "telegram")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	conv.LastSequence = 42
	if err := m.AppendMessage(ctx, conv, &store.Message{Role: store.RoleUser, Text: "hello"}); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if err := m.SetMode(ctx, "conv-1", store.ModeHuman); err != nil {
		t.Fatalf("SetMode failed: %v", err)
	}
	m.Runtime("conv-1").GreetingSent = true

	if err := m.Reset(ctx, "conv-1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	history, err := m.History(ctx, "conv-1")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history should be empty after reset, got %d entries", len(history))
	}

	fresh, err := st.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if fresh.Mode != store.ModeAI {
		t.Errorf("mode after reset: got %q, want %q", fresh.Mode, store.ModeAI)
	}
	if fresh.LastSequence != 0 {
		t.Errorf("sequence after reset: got %d, want 0", fresh.LastSequence)
	}
	if m.Runtime("conv-1").GreetingSent {
		t.Error("runtime state should be cleared after reset")
	}
}
