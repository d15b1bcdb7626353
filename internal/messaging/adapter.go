// ABOUTME: Messaging adapter contract between the engine and chat platforms
// ABOUTME: Platforms deliver an inbound stream and accept outbound messages and typing hints

package messaging

import (
	"context"
	"time"
)

// Inbound is one message arriving from a platform, already normalized.
type Inbound struct {
	ConversationID string
	UserID         string
	Text           string
	Sequence       int64 // platform-native message number, 0 when the platform has none
	UpdateID       int64 // platform delivery id, used for dedupe
	Timestamp      time.Time
}

// Handler consumes normalized inbound messages.
type Handler func(ctx context.Context, msg *Inbound)

// Adapter is implemented per chat platform.
type Adapter interface {
	// Name identifies the platform ("telegram", ...).
	Name() string
	// Run polls or listens for inbound messages until ctx is done,
	// invoking handle for each. Run owns reconnection and backoff.
	Run(ctx context.Context, handle Handler) error
	// SendMessage delivers one outbound text.
	SendMessage(ctx context.Context, conversationID, text string) error
	// SendTyping shows a typing indicator; best effort.
	SendTyping(ctx context.Context, conversationID string) error
}
