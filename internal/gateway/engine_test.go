// ABOUTME: End-to-end engine test with a fake platform adapter
// ABOUTME: Inbound messages flow through dedupe and batching to the pipeline and back out

package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywise/concierge/internal/conversation"
	"github.com/relaywise/concierge/internal/dedupe"
	"github.com/relaywise/concierge/internal/escalation"
	"github.com/relaywise/concierge/internal/generate"
	"github.com/relaywise/concierge/internal/messaging"
	"github.com/relaywise/concierge/internal/notify"
	"github.com/relaywise/concierge/internal/pipeline"
	"github.com/relaywise/concierge/internal/rules"
	"github.com/relaywise/concierge/internal/store"
)

type fakeAdapter struct {
	mu      sync.Mutex
	inbound chan *messaging.Inbound
	sent    []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{inbound: make(chan *messaging.Inbound, 16)}
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Run(ctx context.Context, handle messaging.Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-f.inbound:
			handle(ctx, msg)
		}
	}
}

func (f *fakeAdapter) SendMessage(ctx context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeAdapter) SendTyping(ctx context.Context, conversationID string) error { return nil }

func (f *fakeAdapter) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.sent...)
}

func TestEngine_EndToEnd(t *testing.T) {
	st := store.NewMockStore()
	convs := conversation.NewManager(st, 40, nil)
	detector := conversation.NewDetector(180*24*time.Hour, 12*time.Hour)
	esc := escalation.NewCoordinator(st, convs, notify.NewLogNotifier(nil), nil)
	gen := generate.NewMockGenerator()
	gen.Queue(&generate.Result{Text: "Prices start at 95k.", FinishReason: "stop"}, nil)

	cfg := pipeline.Config{
		ConfidenceThreshold: 0.4,
		ComplexityThreshold: 0.8,
		EmotionThreshold:    0.7,
		ProbingThreshold:    0.8,
		OffTopicLimit:       3,
		OpenHour:            0,
		CloseHour:           24,
		MaxAttempts:         1,
	}
	ruleSet := rules.DefaultSet()
	p := pipeline.New(cfg, convs, detector, ruleSet, nil, nil, gen, esc, nil, nil, nil)

	adapter := newFakeAdapter()
	tracker := dedupe.NewTracker(time.Minute, 100)
	defer tracker.Close()

	engine := NewEngine(adapter, p, tracker,
		20*time.Millisecond, 200*time.Millisecond, 5*time.Millisecond, 4,
		rules.NewGreetingMatcher(ruleSet.Greetings), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx) //nolint:errcheck

	adapter.inbound <- &messaging.Inbound{
		ConversationID: "chat-1", UserID: "user-1",
		Text: "hello", Sequence: 1, UpdateID: 10, Timestamp: time.Now(),
	}

	require.Eventually(t, func() bool {
		return len(adapter.sentMessages()) > 0
	}, 2*time.Second, 10*time.Millisecond, "reply never went out")

	sent := adapter.sentMessages()
	assert.Contains(t, sent[0], "welcome", "first contact greeting expected")
}

func TestEngine_DuplicateDeliveryDropped(t *testing.T) {
	st := store.NewMockStore()
	convs := conversation.NewManager(st, 40, nil)
	detector := conversation.NewDetector(180*24*time.Hour, 12*time.Hour)
	esc := escalation.NewCoordinator(st, convs, notify.NewLogNotifier(nil), nil)
	gen := generate.NewMockGenerator()

	cfg := pipeline.Config{OffTopicLimit: 3, CloseHour: 24, MaxAttempts: 1}
	ruleSet := rules.DefaultSet()
	p := pipeline.New(cfg, convs, detector, ruleSet, nil, nil, gen, esc, nil, nil, nil)

	adapter := newFakeAdapter()
	tracker := dedupe.NewTracker(time.Minute, 100)
	defer tracker.Close()

	engine := NewEngine(adapter, p, tracker,
		20*time.Millisecond, 200*time.Millisecond, 5*time.Millisecond, 4,
		rules.NewGreetingMatcher(ruleSet.Greetings), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx) //nolint:errcheck

	msg := &messaging.Inbound{
		ConversationID: "chat-1", UserID: "user-1",
		Text: "hello", Sequence: 1, UpdateID: 10, Timestamp: time.Now(),
	}
	adapter.inbound <- msg
	adapter.inbound <- msg // redelivery of the same update

	require.Eventually(t, func() bool {
		return len(adapter.sentMessages()) > 0
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	history, err := convs.History(context.Background(), "chat-1")
	require.NoError(t, err)
	userCount := 0
	for _, m := range history {
		if m.Role == store.RoleUser {
			userCount++
		}
	}
	assert.Equal(t, 1, userCount, "the duplicate delivery must not reach the pipeline")
}
