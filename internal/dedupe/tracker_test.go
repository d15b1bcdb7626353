// ABOUTME: Tests for the delivery tracker
// ABOUTME: Covers duplicate detection, TTL expiry, size eviction and concurrent use

package dedupe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDuplicate(t *testing.T) {
	tr := NewTracker(5*time.Minute, 100)
	defer tr.Close()

	assert.False(t, tr.Duplicate("telegram", 100), "first delivery is new")
	assert.True(t, tr.Duplicate("telegram", 100), "redelivery is a duplicate")
	assert.False(t, tr.Duplicate("telegram", 101), "next update id is new")
	assert.False(t, tr.Duplicate("whatsapp", 100), "same id on another platform is new")
}

func TestDuplicate_Expiry(t *testing.T) {
	tr := NewTracker(10*time.Millisecond, 100)
	defer tr.Close()

	assert.False(t, tr.Duplicate("telegram", 1))
	time.Sleep(20 * time.Millisecond)
	assert.False(t, tr.Duplicate("telegram", 1), "expired entries are accepted again")
}

func TestDuplicate_SizeEviction(t *testing.T) {
	tr := NewTracker(time.Hour, 3)
	defer tr.Close()

	for i := int64(1); i <= 4; i++ {
		assert.False(t, tr.Duplicate("telegram", i))
	}
	// Update 1 was evicted to make room for 4
	assert.False(t, tr.Duplicate("telegram", 1))
	// 3 and 4 are still tracked
	assert.True(t, tr.Duplicate("telegram", 3))
	assert.True(t, tr.Duplicate("telegram", 4))
}

func TestDuplicate_Concurrent(t *testing.T) {
	tr := NewTracker(time.Minute, 1000)
	defer tr.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !tr.Duplicate("telegram", 7) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted, "exactly one goroutine may accept the delivery")
}
