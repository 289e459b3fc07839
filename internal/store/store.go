// ABOUTME: Store interface and data types for support-gateway persistence
// ABOUTME: Defines Conversation, Message, Ticket structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation that already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrConversationEnded is returned when appending to an ended conversation
var ErrConversationEnded = errors.New("conversation has ended")

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

// Conversation lifecycle: waiting -> connected -> ended.
const (
	StatusWaiting   ConversationStatus = "waiting"
	StatusConnected ConversationStatus = "connected"
	StatusEnded     ConversationStatus = "ended"
)

// Priority levels for conversations and tickets.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// SenderType identifies who authored a message.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderAI       SenderType = "ai"
	SenderSystem   SenderType = "system"
)

// ValidSenderType reports whether t is one of the known sender types.
func ValidSenderType(t SenderType) bool {
	switch t {
	case SenderCustomer, SenderAgent, SenderAI, SenderSystem:
		return true
	}
	return false
}

// MessageType constants for message kinds
const (
	MessageTypeText         = "text"         // Regular chat text
	MessageTypeSystem       = "system"       // Lifecycle announcements (joined, ended)
	MessageTypeNotification = "notification" // Agent-facing notices (human requested)
)

// Conversation represents a single customer support thread.
// AssignedAgentID and AssignedAgentName are set if and only if
// Status == StatusConnected.
type Conversation struct {
	ID                string             `json:"id"`
	BusinessID        string             `json:"businessId"`
	CustomerID        string             `json:"customerId"`
	CustomerName      string             `json:"customerName"`
	CustomerEmail     string             `json:"customerEmail,omitempty"`
	Status            ConversationStatus `json:"status"`
	Priority          string             `json:"priority"`
	AssignedAgentID   string             `json:"assignedAgentId,omitempty"`
	AssignedAgentName string             `json:"assignedAgentName,omitempty"`
	StartedAt         time.Time          `json:"startedAt"`
	LastActivityAt    time.Time          `json:"lastActivityAt"`
	UnreadCount       int                `json:"unreadCount"`
}

// AgentConnected reports whether a human agent currently owns the conversation.
func (c *Conversation) AgentConnected() bool {
	return c.Status == StatusConnected && c.AssignedAgentID != ""
}

// Sender identifies the author of a message.
type Sender struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type SenderType `json:"type"`
}

// Message represents a single message within a conversation.
// IDs are ULIDs, so equal timestamps still keep arrival order when
// sorted by (Timestamp, ID).
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType"`
	Sender         Sender    `json:"sender"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
}

// Ticket represents an offline message left when no agent is available.
type Ticket struct {
	ID            string    `json:"id"`
	BusinessID    string    `json:"businessId"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
	Message       string    `json:"message"`
	Priority      string    `json:"priority"`
	Status        string    `json:"status"` // pending, resolved
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Store defines the interface for conversation, message, and ticket persistence.
// Both the durable SQLite store and the in-process fallback store implement it.
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	UpdateConversation(ctx context.Context, conv *Conversation) error
	ListConversations(ctx context.Context, businessID string) ([]*Conversation, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, since time.Time) ([]*Message, error)
	MarkMessagesRead(ctx context.Context, conversationID string) error

	// Offline tickets
	CreateTicket(ctx context.Context, ticket *Ticket) error
	ListTickets(ctx context.Context, businessID string) ([]*Ticket, error)

	// Close releases any resources held by the store
	Close() error
}
