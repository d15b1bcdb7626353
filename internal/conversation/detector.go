// ABOUTME: Conversation status detection - new contact, new conversation, new day or continuation
// ABOUTME: Combines history presence, elapsed time and platform sequence numbers

package conversation

import (
	"time"

	"github.com/relaywise/concierge/internal/store"
)

// Status describes how the incoming batch relates to prior contact.
type Status string

const (
	// StatusNewContact means the user has never been answered before.
	StatusNewContact Status = "new_contact"
	// StatusNewConversation means prior contact exists but this starts a
	// fresh dialogue (long silence or platform history was cleared).
	StatusNewConversation Status = "new_conversation"
	// StatusNewDay means the dialogue continues after a night-length pause.
	StatusNewDay Status = "new_day"
	// StatusContinuation is an ongoing exchange.
	StatusContinuation Status = "continuation"
)

// Detector classifies incoming batches by conversation status.
type Detector struct {
	longGap  time.Duration
	shortGap time.Duration
}

// NewDetector creates a status detector. longGap separates conversations,
// shortGap separates days within a conversation.
func NewDetector(longGap, shortGap time.Duration) *Detector {
	return &Detector{longGap: longGap, shortGap: shortGap}
}

// smallSequenceCeiling is the highest platform sequence number that still
// suggests the user wiped the chat and started over: a freshly recreated
// chat numbers its first messages from 1.
const smallSequenceCeiling = 2

// Detect classifies the arrival of a batch. history is the stored history
// oldest-first, seq the platform sequence number of the newest incoming
// message (0 when the platform has none), now the arrival time.
func (d *Detector) Detect(conv *store.Conversation, history []*store.Message, seq int64, now time.Time) Status {
	if len(history) == 0 || !hasAssistantReply(history) {
		return StatusNewContact
	}

	// Sequence regression: the platform numbered this message lower than
	// one we already saw, so the user deleted the chat on their side.
	if seq > 0 && conv.LastSequence > 0 && seq < conv.LastSequence {
		return StatusNewConversation
	}
	// No recorded sequence but history exists and the platform starts
	// counting from the bottom again.
	if seq > 0 && conv.LastSequence == 0 && seq <= smallSequenceCeiling {
		return StatusNewConversation
	}

	elapsed := now.Sub(conv.LastActivity)
	switch {
	case elapsed >= d.longGap:
		return StatusNewConversation
	case elapsed >= d.shortGap:
		return StatusNewDay
	default:
		return StatusContinuation
	}
}

func hasAssistantReply(history []*store.Message) bool {
	for _, msg := range history {
		if msg.Role == store.RoleAssistant {
			return true
		}
	}
	return false
}
