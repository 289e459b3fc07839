// ABOUTME: Fixed-interval polling watchers used by widget and dashboard clients
// ABOUTME: Message watcher dedups by ID, agent waiter gives up after a capped attempt count

package poll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/support-gateway/internal/dedupe"
	"github.com/2389/support-gateway/internal/store"
	"github.com/2389/support-gateway/internal/typing"
)

// Defaults matching the cadence the widget and dashboard poll at.
const (
	DefaultMessageInterval = 2 * time.Second
	DefaultTypingInterval  = 1500 * time.Millisecond

	// DefaultMaxWaitAttempts bounds how long a customer waits for an
	// agent before the offline-ticket fallback is offered.
	DefaultMaxWaitAttempts = 40
)

// ErrWaitExhausted is returned when the agent waiter gives up.
var ErrWaitExhausted = errors.New("no agent connected within the wait window")

// MessageSource serves incremental message reads.
type MessageSource interface {
	Messages(ctx context.Context, conversationID string, since time.Time) ([]*store.Message, store.Source, error)
}

// ConversationSource serves conversation state reads.
type ConversationSource interface {
	Get(ctx context.Context, id string) (*store.Conversation, store.Source, error)
}

// TypingSource serves typing presence reads.
type TypingSource interface {
	Typing(conversationID, excludeUserID string) []typing.Participant
}

// MessageWatcher polls a conversation for new messages on a fixed
// interval. Delivery is exactly-once per watcher: the since-cursor does
// the bulk filtering and a seen-set catches timestamp collisions at the
// cursor boundary.
type MessageWatcher struct {
	src            MessageSource
	conversationID string
	interval       time.Duration
	onMessage      func(*store.Message)
	logger         *slog.Logger

	seen   *dedupe.SeenCache
	cancel context.CancelFunc
	done   chan struct{}
	stop   sync.Once
}

// WatchMessages starts polling and calls onMessage for every message
// not yet delivered, in order. Stop the watcher when the owning view
// goes away; an unstopped watcher polls forever.
func WatchMessages(ctx context.Context, src MessageSource, conversationID string, interval time.Duration, onMessage func(*store.Message), logger *slog.Logger) *MessageWatcher {
	if interval <= 0 {
		interval = DefaultMessageInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)

	w := &MessageWatcher{
		src:            src,
		conversationID: conversationID,
		interval:       interval,
		onMessage:      onMessage,
		logger:         logger.With("component", "poll", "conversation_id", conversationID),
		seen:           dedupe.NewSeenCache(10*time.Minute, 4096),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go w.run(ctx)
	return w
}

func (w *MessageWatcher) run(ctx context.Context) {
	defer close(w.done)
	defer w.seen.Close()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var cursor time.Time
	for {
		// Poll immediately, then on each tick
		cursor = w.poll(ctx, cursor)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// poll fetches messages past the cursor and delivers the unseen ones.
// The cursor trails by nothing: it advances to the newest timestamp
// fetched, and the seen-set covers the equal-timestamp boundary.
func (w *MessageWatcher) poll(ctx context.Context, cursor time.Time) time.Time {
	messages, _, err := w.src.Messages(ctx, w.conversationID, cursor)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Warn("message poll failed", "error", err)
		}
		return cursor
	}

	for _, msg := range messages {
		if w.seen.CheckAndMark(msg.ID) {
			continue
		}
		w.onMessage(msg)
		if msg.Timestamp.After(cursor) {
			cursor = msg.Timestamp
		}
	}
	return cursor
}

// Stop cancels the watcher and waits for the polling goroutine to exit.
// Safe to call more than once.
func (w *MessageWatcher) Stop() {
	w.stop.Do(func() {
		w.cancel()
		<-w.done
	})
}

// TypingWatcher polls typing presence for a conversation and reports
// each change to the active set.
type TypingWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	stop   sync.Once
}

// WatchTyping starts polling typing state. onChange fires only when the
// set of typing participants differs from the previous poll.
func WatchTyping(ctx context.Context, src TypingSource, conversationID, excludeUserID string, interval time.Duration, onChange func([]typing.Participant)) *TypingWatcher {
	if interval <= 0 {
		interval = DefaultTypingInterval
	}
	ctx, cancel := context.WithCancel(ctx)

	w := &TypingWatcher{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var last []typing.Participant
		for {
			current := src.Typing(conversationID, excludeUserID)
			if !sameParticipants(last, current) {
				onChange(current)
				last = current
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return w
}

// Stop cancels the watcher and waits for it to exit.
func (w *TypingWatcher) Stop() {
	w.stop.Do(func() {
		w.cancel()
		<-w.done
	})
}

func sameParticipants(a, b []typing.Participant) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]bool, len(a))
	for _, p := range a {
		ids[p.UserID] = true
	}
	for _, p := range b {
		if !ids[p.UserID] {
			return false
		}
	}
	return true
}

// WaitForAgent polls conversation state until a human agent connects,
// the attempt budget runs out, or ctx is cancelled. On exhaustion it
// returns ErrWaitExhausted so the caller can offer the offline-ticket
// fallback instead of spinning forever.
func WaitForAgent(ctx context.Context, src ConversationSource, conversationID string, interval time.Duration, maxAttempts int) (*store.Conversation, error) {
	if interval <= 0 {
		interval = DefaultMessageInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxWaitAttempts
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		conv, _, err := src.Get(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		if conv.AgentConnected() {
			return conv, nil
		}
		if conv.Status == store.StatusEnded {
			return conv, ErrWaitExhausted
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, ErrWaitExhausted
}
