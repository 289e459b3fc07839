// ABOUTME: In-process volatile Store implementation used as the fallback backend
// ABOUTME: Covers for the durable store when it is unreachable; also used in tests

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a volatile in-process Store implementation. It holds
// conversations, messages, and tickets for the lifetime of the process
// and is the substitution target when the durable store fails.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	byBusiness    map[string][]string      // businessID -> conversation IDs
	messages      map[string][]*Message    // keyed by conversation ID, in arrival order
	tickets       map[string][]*Ticket     // keyed by business ID, in arrival order
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
		byBusiness:    make(map[string][]string),
		messages:      make(map[string][]*Message),
		tickets:       make(map[string][]*Ticket),
	}
}

// CreateConversation stores a new conversation.
// Returns ErrDuplicateConversation if the ID is already taken.
func (m *MemoryStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicateConversation
	}

	// Copy to avoid external modification
	c := *conv
	m.conversations[c.ID] = &c
	m.byBusiness[c.BusinessID] = append(m.byBusiness[c.BusinessID], c.ID)
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MemoryStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *c
	return &result, nil
}

// UpdateConversation replaces an existing conversation.
func (m *MemoryStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; !ok {
		return ErrNotFound
	}

	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// ListConversations returns a business's conversations ordered by most
// recent activity.
func (m *MemoryStore) ListConversations(ctx context.Context, businessID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byBusiness[businessID]
	conversations := make([]*Conversation, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.conversations[id]; ok {
			conversationCopy := *c
			conversations = append(conversations, &conversationCopy)
		}
	}

	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastActivityAt.After(conversations[j].LastActivityAt)
	})
	return conversations, nil
}

// AppendMessage stores a message and bumps the owning conversation's
// activity. Customer messages increment the unread count. Messages are
// kept in arrival order so equal timestamps preserve insertion order.
func (m *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	messageCopy := *msg
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &messageCopy)

	if c, ok := m.conversations[msg.ConversationID]; ok {
		c.LastActivityAt = msg.Timestamp
		if msg.Sender.Type == SenderCustomer {
			c.UnreadCount++
		}
	}
	return nil
}

// ListMessages returns messages with timestamps strictly after since,
// ascending, ties kept in arrival order.
func (m *MemoryStore) ListMessages(ctx context.Context, conversationID string, since time.Time) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[conversationID]
	messages := make([]*Message, 0, len(all))
	for _, msg := range all {
		if msg.Timestamp.After(since) {
			messageCopy := *msg
			messages = append(messages, &messageCopy)
		}
	}

	// Stable sort: arrival order survives equal timestamps
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
	return messages, nil
}

// MarkMessagesRead flags all of a conversation's messages as read and
// clears its unread counter.
func (m *MemoryStore) MarkMessagesRead(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}

	for _, msg := range m.messages[conversationID] {
		msg.Read = true
	}
	c.UnreadCount = 0
	return nil
}

// CreateTicket stores a new offline ticket.
func (m *MemoryStore) CreateTicket(ctx context.Context, ticket *Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := *ticket
	m.tickets[t.BusinessID] = append(m.tickets[t.BusinessID], &t)
	return nil
}

// ListTickets returns a business's tickets, newest first.
func (m *MemoryStore) ListTickets(ctx context.Context, businessID string) ([]*Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.tickets[businessID]
	tickets := make([]*Ticket, 0, len(all))
	for _, t := range all {
		ticketCopy := *t
		tickets = append(tickets, &ticketCopy)
	}

	sort.SliceStable(tickets, func(i, j int) bool {
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
	return tickets, nil
}

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error {
	return nil
}
