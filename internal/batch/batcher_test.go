// ABOUTME: Tests for the debounce batcher
// ABOUTME: Covers merging, fan-out, the greeting fast path, the ceiling and per-conversation serialization

package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaywise/concierge/internal/rules"
)

func inbound(conv, text string) *Inbound {
	return &Inbound{ConversationID: conv, UserID: "user-1", Platform: "telegram", Text: text}
}

func TestSubmit_SingleMessage(t *testing.T) {
	handler := func(ctx context.Context, b *Batch) (string, error) {
		return "reply to: " + b.Text, nil
	}
	b := New(30*time.Millisecond, 200*time.Millisecond, 10*time.Millisecond, 4, nil, handler, nil)
	defer b.Close()

	text, err := b.Submit(context.Background(), inbound("conv-1", "what is the price?"))
	require.NoError(t, err)
	assert.Equal(t, "reply to: what is the price?", text)
}

func TestSubmit_MergesFragments(t *testing.T) {
	var got *Batch
	handler := func(ctx context.Context, b *Batch) (string, error) {
		got = b
		return "merged reply", nil
	}
	b := New(60*time.Millisecond, 500*time.Millisecond, 10*time.Millisecond, 4, nil, handler, nil)
	defer b.Close()

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i, text := range []string{"hello", "I want a two-bedroom", "what does it cost?"} {
		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			r, err := b.Submit(context.Background(), inbound("conv-1", text))
			require.NoError(t, err)
			results[i] = r
		}(i, text)
		time.Sleep(15 * time.Millisecond) // keep arrivals inside the window and ordered
	}
	wg.Wait()

	require.NotNil(t, got)
	assert.Equal(t, "hello\nI want a two-bedroom\nwhat does it cost?", got.Text)
	assert.Equal(t, 3, got.Size)

	// Exactly one submitter gets the reply, the first one
	assert.Equal(t, "merged reply", results[0])
	assert.Empty(t, results[1])
	assert.Empty(t, results[2])
}

func TestSubmit_ErrorReachesAllWaiters(t *testing.T) {
	boom := errors.New("pipeline exploded")
	handler := func(ctx context.Context, b *Batch) (string, error) {
		return "", boom
	}
	b := New(40*time.Millisecond, 300*time.Millisecond, 10*time.Millisecond, 4, nil, handler, nil)
	defer b.Close()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.Submit(context.Background(), inbound("conv-1", "hello"))
		}(i)
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	for i, err := range errs {
		assert.ErrorIs(t, err, boom, "waiter %d", i)
	}
}

func TestSubmit_GreetingFastPath(t *testing.T) {
	handler := func(ctx context.Context, b *Batch) (string, error) {
		return "hi!", nil
	}
	matcher := rules.NewGreetingMatcher(rules.DefaultSet().Greetings)
	b := New(500*time.Millisecond, 2*time.Second, 20*time.Millisecond, 4, matcher, handler, nil)
	defer b.Close()

	start := time.Now()
	_, err := b.Submit(context.Background(), inbound("conv-1", "hello"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond,
		"a bare greeting should flush well before the full debounce window")
}

func TestSubmit_CeilingBoundsWait(t *testing.T) {
	handler := func(ctx context.Context, b *Batch) (string, error) {
		return "done", nil
	}
	// Window larger than ceiling share: arrivals every 30ms would otherwise
	// push the 50ms window forever; the 150ms ceiling must cut it off.
	b := New(50*time.Millisecond, 150*time.Millisecond, 10*time.Millisecond, 4, nil, handler, nil)
	defer b.Close()

	done := make(chan struct{})
	start := time.Now()
	go func() {
		defer close(done)
		_, err := b.Submit(context.Background(), inbound("conv-1", "part 0"))
		assert.NoError(t, err)
	}()

	// Keep feeding fragments so the soft window keeps resetting
	for i := 0; i < 8; i++ {
		time.Sleep(30 * time.Millisecond)
		select {
		case <-done:
		default:
			go b.Submit(context.Background(), inbound("conv-1", "more")) //nolint:errcheck
		}
	}

	select {
	case <-done:
		assert.Less(t, time.Since(start), 400*time.Millisecond, "ceiling did not bound the wait")
	case <-time.After(2 * time.Second):
		t.Fatal("batch never flushed despite the ceiling")
	}
}

func TestSerialization_OneRunPerConversation(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	handler := func(ctx context.Context, b *Batch) (string, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		inFlight.Add(-1)
		return "ok", nil
	}
	b := New(10*time.Millisecond, 100*time.Millisecond, 5*time.Millisecond, 8, nil, handler, nil)
	defer b.Close()

	// Three waves for the same conversation, spaced past the window so
	// they become three separate batches racing for the same slot.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Submit(context.Background(), inbound("conv-1", "wave"))
			assert.NoError(t, err)
		}()
		time.Sleep(30 * time.Millisecond)
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "runs for one conversation must be serialized")
}

func TestSerialization_DifferentConversationsRunConcurrently(t *testing.T) {
	gate := make(chan struct{})
	var arrived atomic.Int32
	handler := func(ctx context.Context, b *Batch) (string, error) {
		arrived.Add(1)
		<-gate
		return "ok", nil
	}
	b := New(10*time.Millisecond, 100*time.Millisecond, 5*time.Millisecond, 8, nil, handler, nil)

	for _, conv := range []string{"conv-1", "conv-2", "conv-3"} {
		go b.Submit(context.Background(), inbound(conv, "hello")) //nolint:errcheck
	}

	deadline := time.After(time.Second)
	for arrived.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d conversations entered the handler concurrently", arrived.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(gate)
	b.Close()
}

func TestSubmit_ContextCancellation(t *testing.T) {
	handler := func(ctx context.Context, b *Batch) (string, error) {
		return "late", nil
	}
	b := New(200*time.Millisecond, time.Second, 10*time.Millisecond, 4, nil, handler, nil)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Submit(ctx, inbound("conv-1", "never mind"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose_FlushesPendingAndRejectsNew(t *testing.T) {
	var processed atomic.Int32
	handler := func(ctx context.Context, b *Batch) (string, error) {
		processed.Add(1)
		return "ok", nil
	}
	b := New(time.Hour, 2*time.Hour, time.Hour, 4, nil, handler, nil)

	go b.Submit(context.Background(), inbound("conv-1", "hello")) //nolint:errcheck
	time.Sleep(20 * time.Millisecond)

	b.Close()
	assert.Equal(t, int32(1), processed.Load(), "pending batch should flush on close")

	_, err := b.Submit(context.Background(), inbound("conv-2", "too late"))
	assert.ErrorIs(t, err, ErrClosed)
}
