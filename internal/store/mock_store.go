// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation   // keyed by conversation ID
	messages      map[string][]*Message      // keyed by conversation ID
	profiles      map[string]*ClientProfile  // keyed by "userID:platform"
	handoffs      map[string]*HandoffRecord  // keyed by handoff ID
	facts         map[string]*Fact           // keyed by fact ID
	catalog       map[string]*CatalogItem    // keyed by item ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]*Message),
		profiles:      make(map[string]*ClientProfile),
		handoffs:      make(map[string]*HandoffRecord),
		facts:         make(map[string]*Fact),
		catalog:       make(map[string]*CatalogItem),
	}
}

// CreateConversation stores a new conversation. Duplicates key on the
// conversation id; one user can hold many conversations.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conversations[conv.ID]; exists {
		return ErrDuplicateConversation
	}

	// Make a copy to avoid external modification
	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// UpdateConversation updates an existing conversation.
func (m *MockStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; !ok {
		return ErrNotFound
	}
	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// ListConversations returns conversations ordered by most recent activity.
func (m *MockStore) ListConversations(ctx context.Context, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.conversations {
		result := *c
		convs = append(convs, &result)
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].LastActivity.After(convs[j].LastActivity)
	})
	if limit > 0 && len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// SaveMessage appends a message to a conversation's history.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &msgCopy)
	return nil
}

// GetMessages returns the most recent messages in chronological order.
func (m *MockStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	result := make([]*Message, len(msgs))
	for i, msg := range msgs {
		msgCopy := *msg
		result[i] = &msgCopy
	}
	return result, nil
}

// DeleteMessages removes all history for a conversation.
func (m *MockStore) DeleteMessages(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.messages, conversationID)
	return nil
}

// GetProfile retrieves a client profile.
func (m *MockStore) GetProfile(ctx context.Context, userID, platform string) (*ClientProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[userID+":"+platform]
	if !ok {
		return nil, ErrNotFound
	}
	result := *p
	return &result, nil
}

// UpsertProfile inserts or replaces a client profile.
func (m *MockStore) UpsertProfile(ctx context.Context, profile *ClientProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := *profile
	m.profiles[p.UserID+":"+p.Platform] = &p
	return nil
}

// CreateHandoff stores a new handoff record.
func (m *MockStore) CreateHandoff(ctx context.Context, rec *HandoffRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *rec
	m.handoffs[r.ID] = &r
	return nil
}

// GetHandoff retrieves a handoff record by ID.
func (m *MockStore) GetHandoff(ctx context.Context, id string) (*HandoffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.handoffs[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *r
	return &result, nil
}

// UpdateHandoff updates an existing handoff record.
func (m *MockStore) UpdateHandoff(ctx context.Context, rec *HandoffRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.handoffs[rec.ID]; !ok {
		return ErrNotFound
	}
	r := *rec
	m.handoffs[r.ID] = &r
	return nil
}

// ListHandoffs returns handoff records, optionally filtered by status.
func (m *MockStore) ListHandoffs(ctx context.Context, status string, limit int) ([]*HandoffRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var recs []*HandoffRecord
	for _, r := range m.handoffs {
		if status != "" && r.Status != status {
			continue
		}
		result := *r
		recs = append(recs, &result)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].InitiatedAt.After(recs[j].InitiatedAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// SaveFact stores a knowledge base fact.
func (m *MockStore) SaveFact(ctx context.Context, fact *Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := *fact
	m.facts[f.ID] = &f
	return nil
}

// ListFacts returns all knowledge base facts.
func (m *MockStore) ListFacts(ctx context.Context) ([]*Fact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var facts []*Fact
	for _, f := range m.facts {
		result := *f
		facts = append(facts, &result)
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].ID < facts[j].ID })
	return facts, nil
}

// SaveCatalogItem stores or updates a catalog item.
func (m *MockStore) SaveCatalogItem(ctx context.Context, item *CatalogItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := *item
	m.catalog[i.ID] = &i
	return nil
}

// ListCatalogItems returns the full catalog sorted by name.
func (m *MockStore) ListCatalogItems(ctx context.Context) ([]*CatalogItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []*CatalogItem
	for _, i := range m.catalog {
		result := *i
		items = append(items, &result)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}
