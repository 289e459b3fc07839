// ABOUTME: Business notification publisher over AMQP with a no-op fallback
// ABOUTME: Events fan out to dashboards and pagers via a topic exchange

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Notification event types.
const (
	EventNewConversation = "new_conversation"
	EventHumanRequested  = "human_requested"
	EventUrgentMessage   = "urgent_message"
)

// Notification is one event delivered to a business's operators.
type Notification struct {
	Event          string    `json:"event"`
	BusinessID     string    `json:"businessId"`
	ConversationID string    `json:"conversationId,omitempty"`
	CustomerName   string    `json:"customerName,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher delivers notifications. Implementations must tolerate
// concurrent calls.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
	Close() error
}

// NopPublisher drops every notification. Used when no broker is
// configured; the platform stays fully functional without one.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, n Notification) error { return nil }
func (NopPublisher) Close() error                                      { return nil }

// AMQPPublisher publishes notifications to a topic exchange with
// routing key "support.<businessID>.<event>".
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// NewAMQPPublisher connects to the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger.With("component", "notify"),
	}, nil
}

// Publish sends one notification. Failures are returned, not retried;
// notifications are best-effort and never block conversation flow.
func (p *AMQPPublisher) Publish(ctx context.Context, n Notification) error {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}

	routingKey := fmt.Sprintf("support.%s.%s", n.BusinessID, n.Event)
	err = p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   n.Timestamp,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", n.Event, err)
	}

	p.logger.Debug("notification published", "event", n.Event, "business_id", n.BusinessID)
	return nil
}

// Close shuts down the channel and connection.
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return err
	}
	return p.conn.Close()
}
