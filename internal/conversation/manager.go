// ABOUTME: Manager is the central layer for per-conversation state
// ABOUTME: All history and mode changes flow through here - the store is the source of truth

package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaywise/concierge/internal/store"
)

// Runtime holds per-conversation pipeline state that is not persisted.
// It lives from first contact until an explicit reset. Fields are only
// written from the conversation's serialized pipeline run, so no lock is
// needed beyond the manager's map lock used to look the struct up.
type Runtime struct {
	GreetingSent     bool
	OffTopicCount    int
	OperatorFlow     OperatorFlowState
	LastOffHoursNote time.Time
	Metadata         map[string]any
}

// OperatorFlowState tracks the operator-request mini-dialogue.
type OperatorFlowState int

const (
	OperatorFlowNone OperatorFlowState = iota
	OperatorFlowOffered
	OperatorFlowTransferred
)

// Manager coordinates conversation state: persisted history and mode in
// the store, plus in-process runtime state for the pipeline.
type Manager struct {
	store        store.Store
	logger       *slog.Logger
	historyLimit int

	mu      sync.Mutex
	runtime map[string]*Runtime // keyed by conversation ID
}

// NewManager creates a conversation manager. historyLimit bounds how many
// history entries are kept per conversation (oldest dropped first).
func NewManager(st store.Store, historyLimit int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 40
	}
	return &Manager{
		store:        st,
		logger:       logger.With("component", "conversation"),
		historyLimit: historyLimit,
		runtime:      make(map[string]*Runtime),
	}
}

// GetOrCreate resolves an existing conversation or creates a new one.
// New conversations start in AI mode.
func (m *Manager) GetOrCreate(ctx context.Context, id, userID, platform string) (*store.Conversation, error) {
	conv, err := m.store.GetConversation(ctx, id)
	if err == nil {
		return conv, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	conv = &store.Conversation{
		ID:           id,
		UserID:       userID,
		Platform:     platform,
		Mode:         store.ModeAI,
		LastActivity: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.store.CreateConversation(ctx, conv); err != nil {
		// Another submission may have created it between lookup and insert
		if err == store.ErrDuplicateConversation {
			existing, lookupErr := m.store.GetConversation(ctx, id)
			if lookupErr == nil {
				m.logger.Debug("found existing conversation after race", "conversation_id", id)
				return existing, nil
			}
			return nil, fmt.Errorf("lookup after duplicate: %w", lookupErr)
		}
		return nil, err
	}

	m.logger.Debug("conversation created", "conversation_id", id, "platform", platform)
	return conv, nil
}

// History returns the bounded message history, oldest first.
func (m *Manager) History(ctx context.Context, conversationID string) ([]*store.Message, error) {
	return m.store.GetMessages(ctx, conversationID, m.historyLimit)
}

// AppendMessage persists one history entry and refreshes last activity.
// The ID and timestamp are filled in when absent.
func (m *Manager) AppendMessage(ctx context.Context, conv *store.Conversation, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.ConversationID = conv.ID

	if err := m.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("saving message: %w", err)
	}

	conv.LastActivity = msg.CreatedAt
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("updating conversation activity: %w", err)
	}
	return nil
}

// SetMode flips the conversation between AI and human handling.
func (m *Manager) SetMode(ctx context.Context, conversationID, mode string) error {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Mode == mode {
		return nil
	}
	conv.Mode = mode
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("updating mode: %w", err)
	}
	m.logger.Info("conversation mode changed", "conversation_id", conversationID, "mode", mode)
	return nil
}

// IsHumanMode reports whether the conversation is currently operator-handled.
// Unknown conversations default to AI mode.
func (m *Manager) IsHumanMode(ctx context.Context, conversationID string) bool {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return false
	}
	return conv.Mode == store.ModeHuman
}

// RecordSequence stores the newest platform sequence number for the
// conversation. Sequence 0 means the platform has none.
func (m *Manager) RecordSequence(ctx context.Context, conv *store.Conversation, seq int64) error {
	if seq == 0 || seq == conv.LastSequence {
		return nil
	}
	conv.LastSequence = seq
	return m.store.UpdateConversation(ctx, conv)
}

// Runtime returns the in-process state for a conversation, creating it
// on first use.
func (m *Manager) Runtime(conversationID string) *Runtime {
	m.mu.Lock()
	defer m.mu.Unlock()

	rt, ok := m.runtime[conversationID]
	if !ok {
		rt = &Runtime{Metadata: make(map[string]any)}
		m.runtime[conversationID] = rt
	}
	return rt
}

// TouchProfile creates or updates the client profile for a user:
// counters are incremented and the last-contact timestamp refreshed.
func (m *Manager) TouchProfile(ctx context.Context, userID, platform string, newConversation bool) error {
	now := time.Now().UTC()
	profile, err := m.store.GetProfile(ctx, userID, platform)
	if err == store.ErrNotFound {
		profile = &store.ClientProfile{
			UserID:         userID,
			Platform:       platform,
			FirstContactAt: now,
			Conversations:  1,
		}
	} else if err != nil {
		return err
	} else if newConversation {
		profile.Conversations++
	}

	profile.LastContactAt = now
	profile.Messages++
	return m.store.UpsertProfile(ctx, profile)
}

// TagProfile appends a classification tag to the client profile if not
// already present.
func (m *Manager) TagProfile(ctx context.Context, userID, platform, tag string) error {
	profile, err := m.store.GetProfile(ctx, userID, platform)
	if err != nil {
		return err
	}
	for _, t := range profile.Tags {
		if t == tag {
			return nil
		}
	}
	profile.Tags = append(profile.Tags, tag)
	return m.store.UpsertProfile(ctx, profile)
}

// ClearHistory drops the stored history and runtime caches but keeps the
// conversation itself, its mode and its sequence tracking. Used when the
// user evidently started the dialogue over on the platform side.
func (m *Manager) ClearHistory(ctx context.Context, conversationID string) error {
	if err := m.store.DeleteMessages(ctx, conversationID); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	m.mu.Lock()
	delete(m.runtime, conversationID)
	m.mu.Unlock()
	return nil
}

// Reset wipes a conversation back to the state of a first contact:
// history deleted, mode returned to AI, sequence forgotten and all
// runtime caches dropped.
func (m *Manager) Reset(ctx context.Context, conversationID string) error {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteMessages(ctx, conversationID); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}

	conv.Mode = store.ModeAI
	conv.LastSequence = 0
	conv.EmotionalState = ""
	conv.LastActivity = time.Now().UTC()
	if err := m.store.UpdateConversation(ctx, conv); err != nil {
		return fmt.Errorf("resetting conversation: %w", err)
	}

	m.mu.Lock()
	delete(m.runtime, conversationID)
	m.mu.Unlock()

	m.logger.Info("conversation reset", "conversation_id", conversationID)
	return nil
}
