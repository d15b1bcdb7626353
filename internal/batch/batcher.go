// ABOUTME: Debounce batcher that coalesces rapid message fragments into one batch
// ABOUTME: Serializes pipeline runs per conversation and fans results out to waiting submitters

package batch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/relaywise/concierge/internal/rules"
)

// ErrClosed is returned for submissions made after shutdown began.
var ErrClosed = errors.New("batcher closed")

// Inbound is one raw message fragment arriving from a platform adapter.
type Inbound struct {
	ConversationID string
	UserID         string
	Platform       string
	Text           string
	Sequence       int64 // platform-native sequence number, 0 when absent
	ReceivedAt     time.Time
	Metadata       map[string]string
}

// Batch is a merged group of fragments handed to the pipeline as one unit.
type Batch struct {
	ConversationID  string
	UserID          string
	Platform        string
	Text            string // fragments joined by newlines, in arrival order
	Sequence        int64  // sequence number of the newest fragment
	FirstReceivedAt time.Time
	Metadata        map[string]string
	Size            int // number of fragments merged
}

// Handler processes a flushed batch and returns the reply text, or empty
// when the batch was absorbed without a reply.
type Handler func(ctx context.Context, b *Batch) (string, error)

type result struct {
	text string
	err  error
}

type pending struct {
	batch    *Batch
	timer    *time.Timer
	deadline time.Time // hard ceiling measured from the first fragment
	waiters  []chan result
}

// Batcher coalesces fragments per conversation behind a debounce window.
// The window restarts on every arrival; a hard ceiling from the first
// fragment bounds total wait. A batch that is nothing but a greeting
// flushes on a short fast-path delay instead.
//
// At most one batch per conversation is in the pipeline at a time; batches
// formed while one is running wait for the slot. A global semaphore bounds
// concurrency across conversations.
type Batcher struct {
	window        time.Duration
	ceiling       time.Duration
	greetingDelay time.Duration
	greeting      rules.Matcher
	handler       Handler
	logger        *slog.Logger

	sem chan struct{}

	mu      sync.Mutex
	pending map[string]*pending
	slots   map[string]chan struct{} // per-conversation run slot, capacity 1
	closed  bool
	wg      sync.WaitGroup
}

// New creates a batcher. greeting may be nil to disable the fast path.
func New(window, ceiling, greetingDelay time.Duration, maxConcurrency int, greeting rules.Matcher, handler Handler, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 16
	}
	return &Batcher{
		window:        window,
		ceiling:       ceiling,
		greetingDelay: greetingDelay,
		greeting:      greeting,
		handler:       handler,
		logger:        logger.With("component", "batch"),
		sem:           make(chan struct{}, maxConcurrency),
		pending:       make(map[string]*pending),
		slots:         make(map[string]chan struct{}),
	}
}

// Submit adds a fragment and blocks until the batch it lands in has been
// processed. The submitter whose fragment opened the batch receives the
// reply text; later submitters of the same batch receive an empty string.
// A processing failure is returned to every submitter.
func (b *Batcher) Submit(ctx context.Context, msg *Inbound) (string, error) {
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", ErrClosed
	}

	p, ok := b.pending[msg.ConversationID]
	if !ok {
		p = &pending{
			batch: &Batch{
				ConversationID:  msg.ConversationID,
				UserID:          msg.UserID,
				Platform:        msg.Platform,
				Text:            msg.Text,
				Sequence:        msg.Sequence,
				FirstReceivedAt: msg.ReceivedAt,
				Metadata:        msg.Metadata,
				Size:            1,
			},
			deadline: msg.ReceivedAt.Add(b.ceiling),
		}
		b.pending[msg.ConversationID] = p
		convID := msg.ConversationID
		p.timer = time.AfterFunc(b.delayFor(p), func() { b.flush(convID) })
	} else {
		p.batch.Text += "\n" + msg.Text
		p.batch.Size++
		if msg.Sequence > 0 {
			p.batch.Sequence = msg.Sequence
		}
		if msg.Metadata != nil {
			p.batch.Metadata = msg.Metadata
		}
		p.timer.Reset(b.delayFor(p))
	}

	ch := make(chan result, 1)
	p.waiters = append(p.waiters, ch)
	b.mu.Unlock()

	select {
	case res := <-ch:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// delayFor picks the debounce delay for the batch's current contents,
// clamped so the flush never passes the hard ceiling.
func (b *Batcher) delayFor(p *pending) time.Duration {
	delay := b.window
	if b.greeting != nil && p.batch.Size == 1 && b.greeting.Match(p.batch.Text) {
		delay = b.greetingDelay
	}
	if remaining := time.Until(p.deadline); remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// flush removes the pending batch and runs it through the handler once the
// conversation's slot and a concurrency token are both available.
func (b *Batcher) flush(conversationID string) {
	b.mu.Lock()
	p, ok := b.pending[conversationID]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.pending, conversationID)

	slot, ok := b.slots[conversationID]
	if !ok {
		slot = make(chan struct{}, 1)
		b.slots[conversationID] = slot
	}
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()

		slot <- struct{}{}
		b.sem <- struct{}{}
		defer func() {
			<-b.sem
			<-slot
		}()

		b.run(p)
	}()
}

func (b *Batcher) run(p *pending) {
	start := time.Now()
	text, err := b.handler(context.Background(), p.batch)
	if err != nil {
		b.logger.Error("batch processing failed",
			"conversation_id", p.batch.ConversationID,
			"fragments", p.batch.Size,
			"error", err)
		for _, ch := range p.waiters {
			ch <- result{err: err}
		}
		return
	}

	b.logger.Debug("batch processed",
		"conversation_id", p.batch.ConversationID,
		"fragments", p.batch.Size,
		"duration_ms", time.Since(start).Milliseconds())

	// First submitter carries the reply, the rest are released empty.
	for i, ch := range p.waiters {
		if i == 0 {
			ch <- result{text: text}
		} else {
			ch <- result{}
		}
	}
}

// Close stops accepting submissions, flushes every pending batch
// immediately and waits for in-flight processing to finish.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	ids := make([]string, 0, len(b.pending))
	for id, p := range b.pending {
		p.timer.Stop()
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.flush(id)
	}
	b.wg.Wait()
}
