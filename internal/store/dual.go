// ABOUTME: Dual-store combinator implementing the durable-first read/write policy
// ABOUTME: Writes retry the durable store once then substitute the fallback; reads tag their source

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/support-gateway/internal/metrics"
)

// ErrUnavailable is returned when both the durable and fallback stores fail.
var ErrUnavailable = errors.New("store unavailable")

// Source identifies which backend served a read or absorbed a write.
type Source string

const (
	SourceDurable  Source = "durable"
	SourceFallback Source = "fallback"
)

// Dual combines the durable store with the volatile fallback.
//
// Policy: every write targets the durable store first and is retried once
// on failure; a write that still fails is applied to the fallback instead
// (full substitution, never partial). Reads go durable-first and fall back
// on failure or not-found. A single read is served by exactly one store.
//
// Entities created through the fallback are NOT mirrored back into the
// durable store. The two can diverge; divergence is logged and counted,
// not silently reconciled.
type Dual struct {
	durable  Store
	fallback Store
	logger   *slog.Logger
}

// NewDual creates a Dual over the given backends. Pass nil logger for default.
func NewDual(durable, fallback Store, logger *slog.Logger) *Dual {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dual{
		durable:  durable,
		fallback: fallback,
		logger:   logger.With("component", "dualstore"),
	}
}

// isDomainError reports whether err is a domain outcome rather than an
// availability failure. Domain errors propagate; they never trigger the
// fallback substitution.
func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateConversation) ||
		errors.Is(err, ErrConversationEnded)
}

// write runs op against the durable store with one retry, substituting
// the fallback if the durable store keeps failing.
func (d *Dual) write(op string, durableOp, fallbackOp func() error) (Source, error) {
	err := durableOp()
	if err == nil {
		return SourceDurable, nil
	}
	if isDomainError(err) {
		return SourceDurable, err
	}

	d.logger.Warn("durable write failed, retrying", "op", op, "error", err)
	err = durableOp()
	if err == nil {
		return SourceDurable, nil
	}
	if isDomainError(err) {
		return SourceDurable, err
	}

	d.logger.Warn("durable write failed twice, substituting fallback", "op", op, "error", err)
	if fbErr := fallbackOp(); fbErr != nil {
		if isDomainError(fbErr) {
			return SourceFallback, fbErr
		}
		return SourceFallback, fmt.Errorf("%w: durable: %v, fallback: %v", ErrUnavailable, err, fbErr)
	}

	metrics.FallbackWritesTotal.Inc()
	return SourceFallback, nil
}

// CreateConversation writes a conversation through the dual policy.
func (d *Dual) CreateConversation(ctx context.Context, conv *Conversation) (Source, error) {
	return d.write("create_conversation",
		func() error { return d.durable.CreateConversation(ctx, conv) },
		func() error { return d.fallback.CreateConversation(ctx, conv) },
	)
}

// UpdateConversation writes an update through the dual policy. The update
// is applied to the store that currently holds the conversation: if the
// durable store reports not-found but the fallback holds it, the fallback
// copy is updated.
func (d *Dual) UpdateConversation(ctx context.Context, conv *Conversation) (Source, error) {
	err := d.durable.UpdateConversation(ctx, conv)
	if err == nil {
		return SourceDurable, nil
	}
	if !errors.Is(err, ErrNotFound) && !isDomainError(err) {
		d.logger.Warn("durable update failed, retrying", "conversation_id", conv.ID, "error", err)
		err = d.durable.UpdateConversation(ctx, conv)
		if err == nil {
			return SourceDurable, nil
		}
	}

	fbErr := d.fallback.UpdateConversation(ctx, conv)
	if fbErr == nil {
		metrics.FallbackWritesTotal.Inc()
		return SourceFallback, nil
	}
	if errors.Is(err, ErrNotFound) && errors.Is(fbErr, ErrNotFound) {
		return SourceDurable, ErrNotFound
	}
	return SourceFallback, fmt.Errorf("%w: durable: %v, fallback: %v", ErrUnavailable, err, fbErr)
}

// AppendMessage writes a message through the dual policy. Like updates,
// the message lands in the store that holds its conversation.
func (d *Dual) AppendMessage(ctx context.Context, msg *Message) (Source, error) {
	// A conversation living only in the fallback must receive its
	// messages there too, or reads would lose them.
	if _, err := d.durable.GetConversation(ctx, msg.ConversationID); errors.Is(err, ErrNotFound) {
		if _, fbErr := d.fallback.GetConversation(ctx, msg.ConversationID); fbErr == nil {
			if err := d.fallback.AppendMessage(ctx, msg); err != nil {
				return SourceFallback, err
			}
			metrics.FallbackWritesTotal.Inc()
			return SourceFallback, nil
		}
		return SourceDurable, ErrNotFound
	}

	return d.write("append_message",
		func() error { return d.durable.AppendMessage(ctx, msg) },
		func() error { return d.fallback.AppendMessage(ctx, msg) },
	)
}

// CreateTicket writes a ticket through the dual policy.
func (d *Dual) CreateTicket(ctx context.Context, ticket *Ticket) (Source, error) {
	return d.write("create_ticket",
		func() error { return d.durable.CreateTicket(ctx, ticket) },
		func() error { return d.fallback.CreateTicket(ctx, ticket) },
	)
}

// MarkMessagesRead clears the unread state wherever the conversation lives.
func (d *Dual) MarkMessagesRead(ctx context.Context, conversationID string) (Source, error) {
	err := d.durable.MarkMessagesRead(ctx, conversationID)
	if err == nil {
		return SourceDurable, nil
	}

	fbErr := d.fallback.MarkMessagesRead(ctx, conversationID)
	if fbErr == nil {
		metrics.FallbackWritesTotal.Inc()
		return SourceFallback, nil
	}
	if errors.Is(err, ErrNotFound) && errors.Is(fbErr, ErrNotFound) {
		return SourceDurable, ErrNotFound
	}
	return SourceFallback, fmt.Errorf("%w: durable: %v, fallback: %v", ErrUnavailable, err, fbErr)
}

// GetConversation reads durable-first, falling back on failure or not-found.
func (d *Dual) GetConversation(ctx context.Context, id string) (*Conversation, Source, error) {
	conv, err := d.durable.GetConversation(ctx, id)
	if err == nil {
		return conv, SourceDurable, nil
	}
	if !errors.Is(err, ErrNotFound) {
		d.logger.Warn("durable read failed, trying fallback", "conversation_id", id, "error", err)
	}

	conv, fbErr := d.fallback.GetConversation(ctx, id)
	if fbErr == nil {
		metrics.FallbackReadsTotal.Inc()
		return conv, SourceFallback, nil
	}
	if errors.Is(fbErr, ErrNotFound) {
		if errors.Is(err, ErrNotFound) {
			return nil, SourceDurable, ErrNotFound
		}
		return nil, SourceDurable, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil, SourceFallback, fmt.Errorf("%w: durable: %v, fallback: %v", ErrUnavailable, err, fbErr)
}

// ListConversations reads durable-first. Results come from exactly one
// store; fallback-only conversations are invisible while the durable
// store is healthy (the documented consistency gap).
func (d *Dual) ListConversations(ctx context.Context, businessID string) ([]*Conversation, Source, error) {
	conversations, err := d.durable.ListConversations(ctx, businessID)
	if err == nil {
		return conversations, SourceDurable, nil
	}
	d.logger.Warn("durable list failed, trying fallback", "business_id", businessID, "error", err)

	conversations, fbErr := d.fallback.ListConversations(ctx, businessID)
	if fbErr != nil {
		return nil, SourceFallback, fmt.Errorf("%w: durable: %v, fallback: %v", ErrUnavailable, err, fbErr)
	}
	metrics.FallbackReadsTotal.Inc()
	return conversations, SourceFallback, nil
}

// ListMessages reads from the store that holds the conversation.
func (d *Dual) ListMessages(ctx context.Context, conversationID string, since time.Time) ([]*Message, Source, error) {
	if _, err := d.durable.GetConversation(ctx, conversationID); err == nil {
		messages, err := d.durable.ListMessages(ctx, conversationID, since)
		if err == nil {
			return messages, SourceDurable, nil
		}
		d.logger.Warn("durable message read failed, trying fallback",
			"conversation_id", conversationID, "error", err)
	}

	if _, fbErr := d.fallback.GetConversation(ctx, conversationID); fbErr == nil {
		messages, err := d.fallback.ListMessages(ctx, conversationID, since)
		if err != nil {
			return nil, SourceFallback, err
		}
		metrics.FallbackReadsTotal.Inc()
		return messages, SourceFallback, nil
	}

	return nil, SourceDurable, ErrNotFound
}

// ListTickets reads durable-first with fallback.
func (d *Dual) ListTickets(ctx context.Context, businessID string) ([]*Ticket, Source, error) {
	tickets, err := d.durable.ListTickets(ctx, businessID)
	if err == nil {
		return tickets, SourceDurable, nil
	}

	tickets, fbErr := d.fallback.ListTickets(ctx, businessID)
	if fbErr != nil {
		return nil, SourceFallback, fmt.Errorf("%w: durable: %v, fallback: %v", ErrUnavailable, err, fbErr)
	}
	metrics.FallbackReadsTotal.Inc()
	return tickets, SourceFallback, nil
}

// Close releases both backends.
func (d *Dual) Close() error {
	err := d.durable.Close()
	if fbErr := d.fallback.Close(); fbErr != nil && err == nil {
		err = fbErr
	}
	return err
}
