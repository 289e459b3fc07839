// ABOUTME: Tests for the dual-store combinator's durable-first policy
// ABOUTME: Uses a failure-injecting wrapper to simulate durable store outages

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/support-gateway/internal/metrics"
)

var errDown = errors.New("database is locked")

// flakyStore wraps a Store and fails every call while failing is set.
type flakyStore struct {
	Store
	failing bool
}

func (f *flakyStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	if f.failing {
		return errDown
	}
	return f.Store.CreateConversation(ctx, conv)
}

func (f *flakyStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	if f.failing {
		return nil, errDown
	}
	return f.Store.GetConversation(ctx, id)
}

func (f *flakyStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	if f.failing {
		return errDown
	}
	return f.Store.UpdateConversation(ctx, conv)
}

func (f *flakyStore) ListConversations(ctx context.Context, businessID string) ([]*Conversation, error) {
	if f.failing {
		return nil, errDown
	}
	return f.Store.ListConversations(ctx, businessID)
}

func (f *flakyStore) AppendMessage(ctx context.Context, msg *Message) error {
	if f.failing {
		return errDown
	}
	return f.Store.AppendMessage(ctx, msg)
}

func (f *flakyStore) ListMessages(ctx context.Context, conversationID string, since time.Time) ([]*Message, error) {
	if f.failing {
		return nil, errDown
	}
	return f.Store.ListMessages(ctx, conversationID, since)
}

func (f *flakyStore) CreateTicket(ctx context.Context, ticket *Ticket) error {
	if f.failing {
		return errDown
	}
	return f.Store.CreateTicket(ctx, ticket)
}

func (f *flakyStore) ListTickets(ctx context.Context, businessID string) ([]*Ticket, error) {
	if f.failing {
		return nil, errDown
	}
	return f.Store.ListTickets(ctx, businessID)
}

func (f *flakyStore) MarkMessagesRead(ctx context.Context, conversationID string) error {
	if f.failing {
		return errDown
	}
	return f.Store.MarkMessagesRead(ctx, conversationID)
}

func newDualForTest(t *testing.T) (*Dual, *flakyStore, *MemoryStore) {
	t.Helper()
	durable := &flakyStore{Store: NewMemoryStore()}
	fallback := NewMemoryStore()
	return NewDual(durable, fallback, nil), durable, fallback
}

func TestDual_WriteGoesDurableWhenHealthy(t *testing.T) {
	ctx := context.Background()
	dual, durable, fallback := newDualForTest(t)

	source, err := dual.CreateConversation(ctx, testConversation("conv-1", "biz-1"))
	require.NoError(t, err)
	assert.Equal(t, SourceDurable, source)

	_, err = durable.Store.GetConversation(ctx, "conv-1")
	assert.NoError(t, err)
	_, err = fallback.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDual_WriteSubstitutesFallbackAfterDurableFailure(t *testing.T) {
	ctx := context.Background()
	dual, durable, fallback := newDualForTest(t)
	durable.failing = true

	source, err := dual.CreateConversation(ctx, testConversation("conv-1", "biz-1"))
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)

	// The conversation exists only in the fallback
	_, err = fallback.GetConversation(ctx, "conv-1")
	assert.NoError(t, err)

	// A subsequent read serves it from the fallback, tagged as such
	conv, readSource, err := dual.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, readSource)
	assert.Equal(t, "conv-1", conv.ID)
}

func TestDual_DomainErrorsDoNotTriggerFallback(t *testing.T) {
	ctx := context.Background()
	dual, _, fallback := newDualForTest(t)

	_, err := dual.CreateConversation(ctx, testConversation("conv-1", "biz-1"))
	require.NoError(t, err)

	// Duplicate in durable surfaces as a domain error, not a fallback write
	source, err := dual.CreateConversation(ctx, testConversation("conv-1", "biz-1"))
	assert.ErrorIs(t, err, ErrDuplicateConversation)
	assert.Equal(t, SourceDurable, source)
	_, fbErr := fallback.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, fbErr, ErrNotFound)
}

func TestDual_BothStoresFailing(t *testing.T) {
	ctx := context.Background()
	durable := &flakyStore{Store: NewMemoryStore(), failing: true}
	fallback := &flakyStore{Store: NewMemoryStore(), failing: true}
	dual := NewDual(durable, fallback, nil)

	_, err := dual.CreateConversation(ctx, testConversation("conv-1", "biz-1"))
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = dual.GetConversation(ctx, "conv-1")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, _, err = dual.ListConversations(ctx, "biz-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDual_ReadFallsBackWhenDurableDown(t *testing.T) {
	ctx := context.Background()
	dual, durable, fallback := newDualForTest(t)

	// Seed the fallback directly, then take the durable store down
	require.NoError(t, fallback.CreateConversation(ctx, testConversation("conv-1", "biz-1")))
	durable.failing = true

	conv, source, err := dual.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)
	assert.Equal(t, "conv-1", conv.ID)

	conversations, source, err := dual.ListConversations(ctx, "biz-1")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)
	assert.Len(t, conversations, 1)
}

func TestDual_MissingEverywhereIsNotFound(t *testing.T) {
	ctx := context.Background()
	dual, _, _ := newDualForTest(t)

	_, _, err := dual.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = dual.UpdateConversation(ctx, testConversation("missing", "biz-1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDual_MessagesFollowFallbackConversation(t *testing.T) {
	ctx := context.Background()
	dual, durable, _ := newDualForTest(t)

	// Conversation created while the durable store was down
	durable.failing = true
	source, err := dual.CreateConversation(ctx, testConversation("conv-1", "biz-1"))
	require.NoError(t, err)
	require.Equal(t, SourceFallback, source)

	// Durable store recovers, but the conversation lives in the fallback,
	// so its messages must land there too
	durable.failing = false
	msg := testMessage("conv-1", "hello", SenderCustomer, time.Now().UTC())
	source, err = dual.AppendMessage(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)

	messages, source, err := dual.ListMessages(ctx, "conv-1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)
	require.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestDual_UpdateFollowsFallbackConversation(t *testing.T) {
	ctx := context.Background()
	dual, durable, _ := newDualForTest(t)

	durable.failing = true
	_, err := dual.CreateConversation(ctx, testConversation("conv-1", "biz-1"))
	require.NoError(t, err)
	durable.failing = false

	conv, _, err := dual.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	conv.Status = StatusConnected
	conv.AssignedAgentID = "agent_1"

	source, err := dual.UpdateConversation(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)

	got, source, err := dual.GetConversation(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)
	assert.Equal(t, StatusConnected, got.Status)
}

func TestDual_MarkReadFallbackCountsAsWrite(t *testing.T) {
	ctx := context.Background()
	dual, durable, fallback := newDualForTest(t)

	require.NoError(t, fallback.CreateConversation(ctx, testConversation("conv-1", "biz-1")))
	durable.failing = true

	writesBefore := testutil.ToFloat64(metrics.FallbackWritesTotal)
	readsBefore := testutil.ToFloat64(metrics.FallbackReadsTotal)

	source, err := dual.MarkMessagesRead(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)

	assert.Equal(t, writesBefore+1, testutil.ToFloat64(metrics.FallbackWritesTotal),
		"mark-read mutates state, so its substitution counts as a write")
	assert.Equal(t, readsBefore, testutil.ToFloat64(metrics.FallbackReadsTotal))
}

func TestDual_TicketFallback(t *testing.T) {
	ctx := context.Background()
	dual, durable, _ := newDualForTest(t)
	durable.failing = true

	now := time.Now().UTC()
	ticket := &Ticket{
		ID: "ticket-1", BusinessID: "biz-1",
		CustomerName: "Alex", CustomerEmail: "alex@example.com",
		Message: "site is down", Priority: PriorityHigh, Status: "pending",
		CreatedAt: now, UpdatedAt: now,
	}
	source, err := dual.CreateTicket(ctx, ticket)
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)

	tickets, source, err := dual.ListTickets(ctx, "biz-1")
	require.NoError(t, err)
	assert.Equal(t, SourceFallback, source)
	require.Len(t, tickets, 1)
	assert.Equal(t, "ticket-1", tickets[0].ID)
}
