// ABOUTME: Tests for the typing presence tracker
// ABOUTME: Covers TTL expiry, self-exclusion, and explicit clearing

package typing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_SetAndGet(t *testing.T) {
	tr := NewTracker(0)
	tr.Set("conv-1", "customer-1", "Alex", "customer", true)

	active := tr.Typing("conv-1", "agent-1")
	require.Len(t, active, 1)
	assert.Equal(t, "customer-1", active[0].UserID)
	assert.Equal(t, "Alex", active[0].UserName)
	assert.Equal(t, "customer", active[0].UserType)
}

func TestTracker_ExcludesRequester(t *testing.T) {
	tr := NewTracker(0)
	tr.Set("conv-1", "customer-1", "Alex", "customer", true)
	tr.Set("conv-1", "agent-1", "Sam", "agent", true)

	active := tr.Typing("conv-1", "customer-1")
	require.Len(t, active, 1)
	assert.Equal(t, "agent-1", active[0].UserID)
}

func TestTracker_ClearOnNotTyping(t *testing.T) {
	tr := NewTracker(0)
	tr.Set("conv-1", "customer-1", "Alex", "customer", true)
	tr.Set("conv-1", "customer-1", "Alex", "customer", false)

	assert.Empty(t, tr.Typing("conv-1", "agent-1"))
}

func TestTracker_ClearUnknownUserIsNoop(t *testing.T) {
	tr := NewTracker(0)
	tr.Set("conv-1", "nobody", "Nobody", "customer", false)
	assert.Empty(t, tr.Typing("conv-1", "agent-1"))
}

func TestTracker_TTLExpiry(t *testing.T) {
	tr := NewTracker(time.Second)
	current := time.Now()
	tr.now = func() time.Time { return current }

	tr.Set("conv-1", "customer-1", "Alex", "customer", true)
	require.Len(t, tr.Typing("conv-1", ""), 1)

	// Just inside the TTL the entry is still visible
	current = current.Add(900 * time.Millisecond)
	require.Len(t, tr.Typing("conv-1", ""), 1)

	// Past the TTL the entry expires and is evicted
	current = current.Add(200 * time.Millisecond)
	assert.Empty(t, tr.Typing("conv-1", ""))
}

func TestTracker_SetRefreshesTTL(t *testing.T) {
	tr := NewTracker(time.Second)
	current := time.Now()
	tr.now = func() time.Time { return current }

	tr.Set("conv-1", "customer-1", "Alex", "customer", true)
	current = current.Add(800 * time.Millisecond)
	tr.Set("conv-1", "customer-1", "Alex", "customer", true)
	current = current.Add(800 * time.Millisecond)

	// 1.6s after the first signal but only 0.8s after the refresh
	require.Len(t, tr.Typing("conv-1", ""), 1)
}

func TestTracker_ExpiryIsIdempotent(t *testing.T) {
	tr := NewTracker(time.Second)
	current := time.Now()
	tr.now = func() time.Time { return current }

	tr.Set("conv-1", "customer-1", "Alex", "customer", true)
	current = current.Add(2 * time.Second)

	assert.Empty(t, tr.Typing("conv-1", ""))
	assert.Empty(t, tr.Typing("conv-1", ""), "repeated reads after expiry stay empty")
}

func TestTracker_ConversationsAreIsolated(t *testing.T) {
	tr := NewTracker(0)
	tr.Set("conv-1", "customer-1", "Alex", "customer", true)

	assert.Empty(t, tr.Typing("conv-2", ""))
}
