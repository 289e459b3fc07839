// ABOUTME: Tests for the polling seen-set cache
// ABOUTME: Covers duplicate detection, TTL expiry, and capacity eviction

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeenCache_CheckAndMark(t *testing.T) {
	c := NewSeenCache(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.CheckAndMark("msg-1"), "first sighting is not a duplicate")
	assert.True(t, c.CheckAndMark("msg-1"), "second sighting is a duplicate")
	assert.False(t, c.CheckAndMark("msg-2"))
}

func TestSeenCache_TTLExpiry(t *testing.T) {
	c := NewSeenCache(20*time.Millisecond, 100)
	defer c.Close()

	c.Mark("msg-1")
	assert.True(t, c.CheckAndMark("msg-1"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, c.CheckAndMark("msg-1"), "expired entry reads as unseen")
}

func TestSeenCache_CapacityEviction(t *testing.T) {
	c := NewSeenCache(time.Minute, 3)
	defer c.Close()

	c.Mark("msg-1")
	c.Mark("msg-2")
	c.Mark("msg-3")
	c.Mark("msg-4") // evicts msg-1

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.CheckAndMark("msg-1"), "oldest entry was evicted")
	assert.True(t, c.CheckAndMark("msg-4"))
}

func TestSeenCache_MarkRefreshesOrder(t *testing.T) {
	c := NewSeenCache(time.Minute, 2)
	defer c.Close()

	c.Mark("msg-1")
	c.Mark("msg-2")
	c.Mark("msg-1") // refresh, msg-2 is now oldest
	c.Mark("msg-3") // evicts msg-2

	assert.True(t, c.CheckAndMark("msg-1"))
	assert.False(t, c.CheckAndMark("msg-2"))
}

func TestSeenCache_ConcurrentAccess(t *testing.T) {
	c := NewSeenCache(time.Minute, 1000)
	defer c.Close()

	var wg sync.WaitGroup
	duplicates := make([]int, 10)
	for worker := 0; worker < 10; worker++ {
		worker := worker
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if c.CheckAndMark(fmt.Sprintf("msg-%d", i)) {
					duplicates[worker]++
				}
			}
		}()
	}
	wg.Wait()

	// Each of the 100 IDs is marked new exactly once across all workers
	total := 0
	for _, d := range duplicates {
		total += d
	}
	assert.Equal(t, 10*100-100, total)
}

func TestSeenCache_CloseIdempotent(t *testing.T) {
	c := NewSeenCache(time.Minute, 10)
	c.Close()
	c.Close()
}
