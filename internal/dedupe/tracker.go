// ABOUTME: TTL tracker for inbound platform delivery ids
// ABOUTME: Long-poll redelivery after a crash must not feed the same message into the batcher twice

package dedupe

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

type entry struct {
	at   time.Time
	elem *list.Element
}

// Tracker remembers which platform deliveries were already accepted.
// Size-bounded with oldest-first eviction; entries also expire after the
// TTL so a restarted platform counter cannot be blocked forever.
type Tracker struct {
	mu     sync.Mutex
	seen   map[string]*entry
	order  *list.List // keys oldest-first
	ttl    time.Duration
	max    int
	done   chan struct{}
	closed bool
}

// NewTracker creates a delivery tracker and starts its expiry sweep.
func NewTracker(ttl time.Duration, max int) *Tracker {
	t := &Tracker{
		seen:  make(map[string]*entry),
		order: list.New(),
		ttl:   ttl,
		max:   max,
		done:  make(chan struct{}),
	}
	go t.sweep()
	return t
}

// Duplicate atomically records a delivery and reports whether it was
// already accepted within the TTL.
func (t *Tracker) Duplicate(platform string, updateID int64) bool {
	key := fmt.Sprintf("%s/%d", platform, updateID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.seen[key]; ok && time.Since(e.at) < t.ttl {
		return true
	}

	if e, ok := t.seen[key]; ok {
		// Expired entry for the same key: refresh in place
		e.at = time.Now()
		t.order.MoveToBack(e.elem)
		return false
	}

	if len(t.seen) >= t.max {
		t.evictOldest()
	}
	t.seen[key] = &entry{at: time.Now(), elem: t.order.PushBack(key)}
	return false
}

func (t *Tracker) evictOldest() {
	front := t.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	t.order.Remove(front)
	delete(t.seen, key)
}

func (t *Tracker) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			now := time.Now()
			for key, e := range t.seen {
				if now.Sub(e.at) > t.ttl {
					t.order.Remove(e.elem)
					delete(t.seen, key)
				}
			}
			t.mu.Unlock()
		case <-t.done:
			return
		}
	}
}

// Close stops the expiry sweep. Safe to call more than once.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		close(t.done)
		t.closed = true
	}
}
