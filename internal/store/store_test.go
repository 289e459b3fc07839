// ABOUTME: Tests for the Store implementations (SQLite and memory)
// ABOUTME: Runs the same behavioral suite against both backends

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteForTest(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConversation(id, businessID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:             id,
		BusinessID:     businessID,
		CustomerID:     "customer_1",
		CustomerName:   "Alex",
		CustomerEmail:  "alex@example.com",
		Status:         StatusWaiting,
		Priority:       PriorityMedium,
		StartedAt:      now,
		LastActivityAt: now,
	}
}

func testMessage(conversationID, content string, senderType SenderType, ts time.Time) *Message {
	return &Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		Content:        content,
		MessageType:    MessageTypeText,
		Sender: Sender{
			ID:   "sender_1",
			Name: "Sender",
			Type: senderType,
		},
		Timestamp: ts,
	}
}

// forEachStore runs fn against both backends.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newSQLiteForTest(t))
	})
	t.Run("memory", func(t *testing.T) {
		s := NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestStore_CreateAndGetConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := testConversation("conv-1", "biz-1")
		require.NoError(t, s.CreateConversation(ctx, conv))

		got, err := s.GetConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, "Alex", got.CustomerName)
		assert.Equal(t, StatusWaiting, got.Status)
		assert.Empty(t, got.AssignedAgentID)
		assert.False(t, got.AgentConnected())
	})
}

func TestStore_CreateConversation_Duplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateConversation(ctx, testConversation("conv-1", "biz-1")))
		err := s.CreateConversation(ctx, testConversation("conv-1", "biz-1"))
		assert.ErrorIs(t, err, ErrDuplicateConversation)
	})
}

func TestStore_GetConversation_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetConversation(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpdateConversation(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := testConversation("conv-1", "biz-1")
		require.NoError(t, s.CreateConversation(ctx, conv))

		conv.Status = StatusConnected
		conv.AssignedAgentID = "agent_1"
		conv.AssignedAgentName = "Sam"
		conv.LastActivityAt = conv.LastActivityAt.Add(time.Second)
		require.NoError(t, s.UpdateConversation(ctx, conv))

		got, err := s.GetConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, StatusConnected, got.Status)
		assert.Equal(t, "Sam", got.AssignedAgentName)
		assert.True(t, got.AgentConnected())
	})
}

func TestStore_UpdateConversation_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		err := s.UpdateConversation(context.Background(), testConversation("missing", "biz-1"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ListConversations_OrderedByActivity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().UTC()

		older := testConversation("conv-old", "biz-1")
		older.LastActivityAt = base.Add(-time.Hour)
		newer := testConversation("conv-new", "biz-1")
		newer.LastActivityAt = base
		other := testConversation("conv-other", "biz-2")

		require.NoError(t, s.CreateConversation(ctx, older))
		require.NoError(t, s.CreateConversation(ctx, newer))
		require.NoError(t, s.CreateConversation(ctx, other))

		conversations, err := s.ListConversations(ctx, "biz-1")
		require.NoError(t, err)
		require.Len(t, conversations, 2)
		assert.Equal(t, "conv-new", conversations[0].ID)
		assert.Equal(t, "conv-old", conversations[1].ID)
	})
}

func TestStore_AppendMessage_UpdatesActivityAndUnread(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := testConversation("conv-1", "biz-1")
		require.NoError(t, s.CreateConversation(ctx, conv))

		ts := conv.LastActivityAt.Add(time.Minute)
		require.NoError(t, s.AppendMessage(ctx, testMessage("conv-1", "hello", SenderCustomer, ts)))

		got, err := s.GetConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, 1, got.UnreadCount)
		assert.False(t, got.LastActivityAt.Before(ts))

		// Agent messages do not bump the unread count
		require.NoError(t, s.AppendMessage(ctx, testMessage("conv-1", "hi", SenderAgent, ts.Add(time.Second))))
		got, err = s.GetConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Equal(t, 1, got.UnreadCount)
	})
}

func TestStore_ListMessages_SinceCursor(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateConversation(ctx, testConversation("conv-1", "biz-1")))

		base := time.Now().UTC().Truncate(time.Millisecond)
		for i := 0; i < 5; i++ {
			ts := base.Add(time.Duration(i) * time.Second)
			require.NoError(t, s.AppendMessage(ctx, testMessage("conv-1", "msg", SenderCustomer, ts)))
		}

		// since=t2 returns strictly newer messages (t3, t4)
		messages, err := s.ListMessages(ctx, "conv-1", base.Add(2*time.Second))
		require.NoError(t, err)
		require.Len(t, messages, 2)
		for i := 1; i < len(messages); i++ {
			assert.False(t, messages[i].Timestamp.Before(messages[i-1].Timestamp))
		}

		// Zero since returns everything
		messages, err = s.ListMessages(ctx, "conv-1", time.Time{})
		require.NoError(t, err)
		assert.Len(t, messages, 5)
	})
}

func TestStore_ListMessages_EqualTimestampsKeepArrivalOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateConversation(ctx, testConversation("conv-1", "biz-1")))

		ts := time.Now().UTC()
		first := testMessage("conv-1", "first", SenderCustomer, ts)
		second := testMessage("conv-1", "second", SenderCustomer, ts)
		require.NoError(t, s.AppendMessage(ctx, first))
		require.NoError(t, s.AppendMessage(ctx, second))

		messages, err := s.ListMessages(ctx, "conv-1", time.Time{})
		require.NoError(t, err)
		require.Len(t, messages, 2)
		assert.Equal(t, "first", messages[0].Content)
		assert.Equal(t, "second", messages[1].Content)
	})
}

func TestStore_MarkMessagesRead(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		conv := testConversation("conv-1", "biz-1")
		require.NoError(t, s.CreateConversation(ctx, conv))
		require.NoError(t, s.AppendMessage(ctx, testMessage("conv-1", "hello", SenderCustomer, time.Now().UTC())))

		require.NoError(t, s.MarkMessagesRead(ctx, "conv-1"))

		got, err := s.GetConversation(ctx, "conv-1")
		require.NoError(t, err)
		assert.Zero(t, got.UnreadCount)

		messages, err := s.ListMessages(ctx, "conv-1", time.Time{})
		require.NoError(t, err)
		for _, msg := range messages {
			assert.True(t, msg.Read)
		}
	})
}

func TestStore_Tickets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now().UTC()

		older := &Ticket{
			ID: "ticket-1", BusinessID: "biz-1",
			CustomerName: "Alex", CustomerEmail: "alex@example.com",
			Message: "call me back", Priority: PriorityMedium, Status: "pending",
			CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
		}
		newer := &Ticket{
			ID: "ticket-2", BusinessID: "biz-1",
			CustomerName: "Blake", CustomerEmail: "blake@example.com",
			Message: "broken checkout", Priority: PriorityHigh, Status: "pending",
			CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, s.CreateTicket(ctx, older))
		require.NoError(t, s.CreateTicket(ctx, newer))

		tickets, err := s.ListTickets(ctx, "biz-1")
		require.NoError(t, err)
		require.Len(t, tickets, 2)
		assert.Equal(t, "ticket-2", tickets[0].ID)
		assert.Equal(t, "ticket-1", tickets[1].ID)
	})
}

func TestValidSenderType(t *testing.T) {
	assert.True(t, ValidSenderType(SenderCustomer))
	assert.True(t, ValidSenderType(SenderAgent))
	assert.True(t, ValidSenderType(SenderAI))
	assert.True(t, ValidSenderType(SenderSystem))
	assert.False(t, ValidSenderType("robot"))
	assert.False(t, ValidSenderType(""))
}
