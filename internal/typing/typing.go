// ABOUTME: In-memory typing presence tracker with TTL-based expiry
// ABOUTME: Entries are evicted lazily on read; no background sweeper

package typing

import (
	"sync"
	"time"
)

// DefaultTTL is how long a typing signal stays visible without renewal.
const DefaultTTL = 5 * time.Second

type entry struct {
	userName string
	userType string
	seenAt   time.Time
}

// Tracker records who is typing in which conversation. Typing state is
// ephemeral presence data: it lives only in process memory and expires
// on its own, so a crashed client simply stops appearing as typing.
type Tracker struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time
	// conversationID -> userID -> entry
	conversations map[string]map[string]entry
}

// Participant is one currently-typing user as reported to pollers.
type Participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserType string `json:"userType"`
}

// NewTracker creates a Tracker with the given TTL. Zero means DefaultTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		ttl:           ttl,
		now:           time.Now,
		conversations: make(map[string]map[string]entry),
	}
}

// Set records or clears a user's typing state. Setting refreshes the
// TTL, so a client that keeps typing keeps renewing its entry.
func (t *Tracker) Set(conversationID, userID, userName, userType string, isTyping bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.conversations[conversationID]
	if !isTyping {
		if users != nil {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.conversations, conversationID)
			}
		}
		return
	}

	if users == nil {
		users = make(map[string]entry)
		t.conversations[conversationID] = users
	}
	users[userID] = entry{userName: userName, userType: userType, seenAt: t.now()}
}

// Typing returns everyone currently typing in the conversation except
// excludeUserID (a client never sees its own indicator). Expired entries
// are evicted here rather than by a sweeper.
func (t *Tracker) Typing(conversationID, excludeUserID string) []Participant {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := t.conversations[conversationID]
	if users == nil {
		return nil
	}

	now := t.now()
	var active []Participant
	for userID, e := range users {
		if now.Sub(e.seenAt) > t.ttl {
			delete(users, userID)
			continue
		}
		if userID == excludeUserID {
			continue
		}
		active = append(active, Participant{UserID: userID, UserName: e.userName, UserType: e.userType})
	}
	if len(users) == 0 {
		delete(t.conversations, conversationID)
	}
	return active
}
