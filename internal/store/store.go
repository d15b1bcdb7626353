// ABOUTME: Store interface and data types for concierge persistence
// ABOUTME: Defines Conversation, Message, ClientProfile, HandoffRecord and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// Conversation modes
const (
	ModeAI    = "ai"
	ModeHuman = "human"
)

// Conversation represents one support dialogue with a single user on a platform.
// Mode decides whether replies are automated or left to an operator.
type Conversation struct {
	ID             string
	UserID         string
	Platform       string
	Mode           string // ModeAI or ModeHuman
	EmotionalState string
	LastActivity   time.Time
	LastSequence   int64 // last platform-native message sequence number seen (0 = unknown)
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HandledBy values for messages
const (
	HandledByAI     = "ai"
	HandledByHuman  = "human"
	HandledBySystem = "system"
)

// Message represents a single history entry within a conversation.
// Immutable once saved; history trimming happens at the conversation layer.
type Message struct {
	ID             string
	ConversationID string
	Role           string // "user" or "assistant"
	Text           string
	Intent         string
	Confidence     float64
	Emotion        string
	HandledBy      string // "ai", "human" or "system"
	CreatedAt      time.Time
}

// ClientProfile accumulates what is known about a user across conversations.
type ClientProfile struct {
	UserID         string
	Platform       string
	FirstContactAt time.Time
	LastContactAt  time.Time
	Conversations  int
	Messages       int
	Tags           []string
	Notes          string
}

// Handoff reasons. These are routing decisions, not errors; every escalation
// carries exactly one typed reason for operator triage.
const (
	ReasonOperatorRequest     = "operator_request"
	ReasonProhibitedContent   = "prohibited_content"
	ReasonContactType         = "contact_type"
	ReasonRepeatedOffTopic    = "repeated_off_topic"
	ReasonLowConfidence       = "low_confidence"
	ReasonHighComplexity      = "high_complexity"
	ReasonEmotionalEscalation = "emotional_escalation"
	ReasonProbing             = "probing"
	ReasonTechnicalIssue      = "technical_issue"
	ReasonPromisedFollowUp    = "promised_follow_up"
	ReasonPipelineError       = "pipeline_error"
)

// Handoff severities
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Handoff statuses. Lifecycle: pending -> notified -> accepted -> resolved.
const (
	HandoffPending  = "pending"
	HandoffNotified = "notified"
	HandoffAccepted = "accepted"
	HandoffResolved = "resolved"
)

// Handoff resolution outcomes
const (
	OutcomeResolvedByOperator = "resolved_by_operator"
	OutcomeReturnedToAI       = "returned_to_ai"
)

// HandoffRecord tracks one escalation of a conversation to a human operator.
type HandoffRecord struct {
	ID               string
	ConversationID   string
	Reason           string // typed reason constant
	Description      string
	Severity         string
	Status           string
	InitiatedAt      time.Time
	NotifiedAt       *time.Time
	AcceptedAt       *time.Time
	ResolvedAt       *time.Time
	AssignedOperator string
	AcceptedBy       string
	Outcome          string
}

// Fact is one searchable knowledge base entry.
type Fact struct {
	ID        string
	Topic     string
	Text      string
	Source    string // file or ingestion source the fact came from
	CreatedAt time.Time
}

// CatalogItem is one enumerable inventory entity (an offered unit, plan, item).
// The full catalog is attached to every knowledge lookup so the response
// generator never invents inventory.
type CatalogItem struct {
	ID        string
	Name      string
	Summary   string
	Available bool
	UpdatedAt time.Time
}

// Store defines the interface for concierge persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	DeleteMessages(ctx context.Context, conversationID string) error

	// Client profiles
	GetProfile(ctx context.Context, userID, platform string) (*ClientProfile, error)
	UpsertProfile(ctx context.Context, profile *ClientProfile) error

	// Handoffs
	CreateHandoff(ctx context.Context, rec *HandoffRecord) error
	GetHandoff(ctx context.Context, id string) (*HandoffRecord, error)
	UpdateHandoff(ctx context.Context, rec *HandoffRecord) error
	ListHandoffs(ctx context.Context, status string, limit int) ([]*HandoffRecord, error)

	// Knowledge base
	SaveFact(ctx context.Context, fact *Fact) error
	ListFacts(ctx context.Context) ([]*Fact, error)
	SaveCatalogItem(ctx context.Context, item *CatalogItem) error
	ListCatalogItems(ctx context.Context) ([]*CatalogItem, error)

	Close() error
}
