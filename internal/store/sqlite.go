// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Durable conversation/message/ticket persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
// It is the system's source of truth; the memory store only covers
// for it when it is unreachable.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id                  TEXT PRIMARY KEY,
			business_id         TEXT NOT NULL,
			customer_id         TEXT NOT NULL,
			customer_name       TEXT NOT NULL,
			customer_email      TEXT NOT NULL,
			status              TEXT NOT NULL,
			priority            TEXT NOT NULL DEFAULT 'medium',
			assigned_agent_id   TEXT NOT NULL DEFAULT '',
			assigned_agent_name TEXT NOT NULL DEFAULT '',
			started_at          INTEGER NOT NULL,
			last_activity_at    INTEGER NOT NULL,
			unread_count        INTEGER NOT NULL DEFAULT 0,

			CHECK (status IN ('waiting', 'connected', 'ended')),
			CHECK (priority IN ('low', 'medium', 'high'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_business
			ON conversations(business_id, last_activity_at DESC);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			content         TEXT NOT NULL,
			message_type    TEXT NOT NULL DEFAULT 'text',
			sender_id       TEXT NOT NULL,
			sender_name     TEXT NOT NULL,
			sender_type     TEXT NOT NULL,
			timestamp       INTEGER NOT NULL,
			read            INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),

			CHECK (sender_type IN ('customer', 'agent', 'ai', 'system')),
			CHECK (message_type IN ('text', 'system', 'notification'))
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, timestamp, id);

		CREATE TABLE IF NOT EXISTS tickets (
			id             TEXT PRIMARY KEY,
			business_id    TEXT NOT NULL,
			customer_name  TEXT NOT NULL,
			customer_email TEXT NOT NULL,
			message        TEXT NOT NULL,
			priority       TEXT NOT NULL DEFAULT 'medium',
			status         TEXT NOT NULL DEFAULT 'pending',
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,

			CHECK (status IN ('pending', 'resolved'))
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_business
			ON tickets(business_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts a new conversation.
// Returns ErrDuplicateConversation if the ID is already taken.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (
			id, business_id, customer_id, customer_name, customer_email,
			status, priority, assigned_agent_id, assigned_agent_name,
			started_at, last_activity_at, unread_count
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.BusinessID,
		conv.CustomerID,
		conv.CustomerName,
		conv.CustomerEmail,
		string(conv.Status),
		conv.Priority,
		conv.AssignedAgentID,
		conv.AssignedAgentName,
		conv.StartedAt.UnixNano(),
		conv.LastActivityAt.UnixNano(),
		conv.UnreadCount,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "id", conv.ID, "business_id", conv.BusinessID)
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, business_id, customer_id, customer_name, customer_email,
		       status, priority, assigned_agent_id, assigned_agent_name,
		       started_at, last_activity_at, unread_count
		FROM conversations
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, query, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var status string
	var startedAt, lastActivity int64

	err := row.Scan(
		&conv.ID,
		&conv.BusinessID,
		&conv.CustomerID,
		&conv.CustomerName,
		&conv.CustomerEmail,
		&status,
		&conv.Priority,
		&conv.AssignedAgentID,
		&conv.AssignedAgentName,
		&startedAt,
		&lastActivity,
		&conv.UnreadCount,
	)
	if err != nil {
		return nil, err
	}

	conv.Status = ConversationStatus(status)
	conv.StartedAt = time.Unix(0, startedAt).UTC()
	conv.LastActivityAt = time.Unix(0, lastActivity).UTC()
	return &conv, nil
}

// UpdateConversation updates an existing conversation.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) UpdateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		UPDATE conversations
		SET status = ?, priority = ?, assigned_agent_id = ?, assigned_agent_name = ?,
		    last_activity_at = ?, unread_count = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(conv.Status),
		conv.Priority,
		conv.AssignedAgentID,
		conv.AssignedAgentName,
		conv.LastActivityAt.UnixNano(),
		conv.UnreadCount,
		conv.ID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation", "id", conv.ID, "status", conv.Status)
	return nil
}

// ListConversations retrieves a business's conversations ordered by most
// recent activity.
func (s *SQLiteStore) ListConversations(ctx context.Context, businessID string) ([]*Conversation, error) {
	query := `
		SELECT id, business_id, customer_id, customer_name, customer_email,
		       status, priority, assigned_agent_id, assigned_agent_name,
		       started_at, last_activity_at, unread_count
		FROM conversations
		WHERE business_id = ?
		ORDER BY last_activity_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// AppendMessage stores a message and bumps the owning conversation's
// last activity. Customer messages increment the unread count.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (
			id, conversation_id, content, message_type,
			sender_id, sender_name, sender_type, timestamp, read
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	read := 0
	if msg.Read {
		read = 1
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Content,
		msg.MessageType,
		msg.Sender.ID,
		msg.Sender.Name,
		string(msg.Sender.Type),
		msg.Timestamp.UnixNano(),
		read,
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	activity := `
		UPDATE conversations
		SET last_activity_at = ?,
		    unread_count = unread_count + ?
		WHERE id = ?
	`
	unreadDelta := 0
	if msg.Sender.Type == SenderCustomer {
		unreadDelta = 1
	}
	if _, err := s.db.ExecContext(ctx, activity,
		msg.Timestamp.UnixNano(),
		unreadDelta,
		msg.ConversationID,
	); err != nil {
		return fmt.Errorf("updating conversation activity: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_type", msg.Sender.Type)
	return nil
}

// ListMessages retrieves messages for a conversation with timestamps
// strictly after since, in ascending order. ULID message ids break
// timestamp ties by arrival order. A zero since returns all messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, since time.Time) ([]*Message, error) {
	query := `
		SELECT id, conversation_id, content, message_type,
		       sender_id, sender_name, sender_type, timestamp, read
		FROM messages
		WHERE conversation_id = ? AND timestamp > ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query,
		conversationID,
		since.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var senderType string
		var timestamp int64
		var read int

		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.Content,
			&msg.MessageType,
			&msg.Sender.ID,
			&msg.Sender.Name,
			&senderType,
			&timestamp,
			&read,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg.Sender.Type = SenderType(senderType)
		msg.Read = read != 0
		msg.Timestamp = time.Unix(0, timestamp).UTC()
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// MarkMessagesRead flags all of a conversation's messages as read and
// clears its unread counter.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE conversation_id = ?`,
		conversationID,
	); err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET unread_count = 0 WHERE id = ?`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("clearing unread count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateTicket stores a new offline ticket.
func (s *SQLiteStore) CreateTicket(ctx context.Context, ticket *Ticket) error {
	query := `
		INSERT INTO tickets (
			id, business_id, customer_name, customer_email,
			message, priority, status, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		ticket.ID,
		ticket.BusinessID,
		ticket.CustomerName,
		ticket.CustomerEmail,
		ticket.Message,
		ticket.Priority,
		ticket.Status,
		ticket.CreatedAt.UnixNano(),
		ticket.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting ticket: %w", err)
	}

	s.logger.Debug("created ticket", "id", ticket.ID, "business_id", ticket.BusinessID)
	return nil
}

// ListTickets retrieves a business's tickets, newest first.
func (s *SQLiteStore) ListTickets(ctx context.Context, businessID string) ([]*Ticket, error) {
	query := `
		SELECT id, business_id, customer_name, customer_email,
		       message, priority, status, created_at, updated_at
		FROM tickets
		WHERE business_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("querying tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*Ticket
	for rows.Next() {
		var t Ticket
		var createdAt, updatedAt int64

		err := rows.Scan(
			&t.ID,
			&t.BusinessID,
			&t.CustomerName,
			&t.CustomerEmail,
			&t.Message,
			&t.Priority,
			&t.Status,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning ticket: %w", err)
		}

		t.CreatedAt = time.Unix(0, createdAt).UTC()
		t.UpdatedAt = time.Unix(0, updatedAt).UTC()
		tickets = append(tickets, &t)
	}
	return tickets, rows.Err()
}
