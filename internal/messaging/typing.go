// ABOUTME: Typing indicator ticker shown while a batch is being processed
// ABOUTME: Platforms expire the indicator after a few seconds, so it is re-sent on an interval

package messaging

import (
	"context"
	"time"
)

// KeepTyping re-sends the typing indicator every interval until stop is
// called. Send failures are ignored; the indicator is cosmetic.
func KeepTyping(ctx context.Context, adapter Adapter, conversationID string, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = 4 * time.Second
	}
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		_ = adapter.SendTyping(ctx, conversationID)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = adapter.SendTyping(ctx, conversationID)
			}
		}
	}()
	return cancel
}
