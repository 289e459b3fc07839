// ABOUTME: Service is the central synchronization layer for conversations
// ABOUTME: All messages flow through here - persistence first, then AI or silence

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/2389/support-gateway/internal/agents"
	"github.com/2389/support-gateway/internal/ai"
	"github.com/2389/support-gateway/internal/metrics"
	"github.com/2389/support-gateway/internal/notify"
	"github.com/2389/support-gateway/internal/store"
)

// ErrValidation marks requests missing required fields.
var ErrValidation = errors.New("validation failed")

// AlreadyAssignedError is returned when an agent tries to claim a
// conversation another agent already owns. The assignee's name is
// surfaced so the losing agent sees who won, not a generic error.
type AlreadyAssignedError struct {
	Assignee string
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("conversation already assigned to %s", e.Assignee)
}

// Store defines what the service needs from the dual-store layer.
// Writes and reads report which backend served them.
type Store interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) (store.Source, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, store.Source, error)
	UpdateConversation(ctx context.Context, conv *store.Conversation) (store.Source, error)
	ListConversations(ctx context.Context, businessID string) ([]*store.Conversation, store.Source, error)
	AppendMessage(ctx context.Context, msg *store.Message) (store.Source, error)
	ListMessages(ctx context.Context, conversationID string, since time.Time) ([]*store.Message, store.Source, error)
	MarkMessagesRead(ctx context.Context, conversationID string) (store.Source, error)
	CreateTicket(ctx context.Context, ticket *store.Ticket) (store.Source, error)
	ListTickets(ctx context.Context, businessID string) ([]*store.Ticket, store.Source, error)
}

// Service coordinates conversations, agents, and the AI responder.
type Service struct {
	store     Store
	directory *agents.Directory
	responder ai.Responder
	publisher notify.Publisher
	logger    *slog.Logger

	// Serializes the read-check-update window in ConnectAgent so two
	// agents racing for one conversation cannot both win.
	connectMu sync.Mutex
}

// New creates a conversation service.
func New(st Store, directory *agents.Directory, responder ai.Responder, publisher notify.Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	return &Service{
		store:     st,
		directory: directory,
		responder: responder,
		publisher: publisher,
		logger:    logger.With("component", "conversation"),
	}
}

// CreateRequest carries everything needed to start a conversation.
type CreateRequest struct {
	BusinessID    string
	CustomerID    string
	CustomerName  string
	CustomerEmail string
}

// Create starts a new waiting conversation, records the customer's join
// as a system message, and notifies the business.
func (s *Service) Create(ctx context.Context, req *CreateRequest) (*store.Conversation, error) {
	if req.BusinessID == "" || req.CustomerName == "" {
		return nil, fmt.Errorf("%w: business_id and customer_name are required", ErrValidation)
	}

	now := time.Now().UTC()
	customerID := req.CustomerID
	if customerID == "" {
		customerID = "customer_" + uuid.New().String()
	}

	conv := &store.Conversation{
		ID:             uuid.New().String(),
		BusinessID:     req.BusinessID,
		CustomerID:     customerID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		Status:         store.StatusWaiting,
		Priority:       store.PriorityMedium,
		StartedAt:      now,
		LastActivityAt: now,
	}
	if _, err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	joinText := fmt.Sprintf("%s has joined the conversation", req.CustomerName)
	if err := s.appendSystemMessage(ctx, conv.ID, joinText); err != nil {
		s.logger.Warn("join message not recorded", "conversation_id", conv.ID, "error", err)
	}

	s.notifyAsync(notify.Notification{
		Event:          notify.EventNewConversation,
		BusinessID:     conv.BusinessID,
		ConversationID: conv.ID,
		CustomerName:   conv.CustomerName,
	})

	s.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"business_id", conv.BusinessID,
		"customer", conv.CustomerName)
	return conv, nil
}

// Get returns a conversation and which store served it.
func (s *Service) Get(ctx context.Context, id string) (*store.Conversation, store.Source, error) {
	return s.store.GetConversation(ctx, id)
}

// List returns a business's conversations, most recently active first.
func (s *Service) List(ctx context.Context, businessID string) ([]*store.Conversation, store.Source, error) {
	return s.store.ListConversations(ctx, businessID)
}

// Messages returns messages strictly newer than since, ascending.
func (s *Service) Messages(ctx context.Context, conversationID string, since time.Time) ([]*store.Message, store.Source, error) {
	return s.store.ListMessages(ctx, conversationID, since)
}

// MarkRead clears a conversation's unread state.
func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	_, err := s.store.MarkMessagesRead(ctx, conversationID)
	return err
}

// CheckAvailability reports whether a human is reachable for the business.
func (s *Service) CheckAvailability(businessID string) agents.Availability {
	return s.directory.Availability(businessID)
}

// CustomerMessageRequest is a customer message posted to a conversation.
type CustomerMessageRequest struct {
	ConversationID string
	Content        string
	CustomerName   string
}

// CustomerMessageResult describes what happened to a customer message.
// Silent means no reply was generated: either a human agent owns the
// conversation or the conversation has ended.
type CustomerMessageResult struct {
	Message          *store.Message // the persisted customer message, nil if the conversation ended
	Reply            *store.Message // the AI (or canned) reply, nil when silent
	Silent           bool
	AgentConnected   bool
	SuggestedActions []string
}

// SendCustomerMessage persists a customer message and decides who
// answers it.
//
// Record first, then act: the customer message is persisted before the
// responder runs, so the history is complete even if generation fails.
// The agent-connected check runs twice, once before generation and once
// after, because an agent may connect while the responder is working.
// A reply that loses that race is discarded, never persisted.
func (s *Service) SendCustomerMessage(ctx context.Context, req *CustomerMessageRequest) (*CustomerMessageResult, error) {
	if req.ConversationID == "" || req.Content == "" {
		return nil, fmt.Errorf("%w: conversation_id and content are required", ErrValidation)
	}

	conv, _, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	// Writes to an ended conversation are a logged no-op, not an error.
	if conv.Status == store.StatusEnded {
		s.logger.Info("message to ended conversation ignored", "conversation_id", conv.ID)
		return &CustomerMessageResult{Silent: true}, nil
	}

	customerName := req.CustomerName
	if customerName == "" {
		customerName = conv.CustomerName
	}
	msg := s.newMessage(conv.ID, req.Content, store.MessageTypeText, store.Sender{
		ID:   conv.CustomerID,
		Name: customerName,
		Type: store.SenderCustomer,
	})
	if _, err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording customer message: %w", err)
	}

	// First check: a connected agent means silent delivery. The message
	// reaches the agent through their poll; the AI stays out of it.
	if conv.AgentConnected() {
		metrics.SilentDeliveriesTotal.Inc()
		s.logger.Debug("silent delivery", "conversation_id", conv.ID, "agent", conv.AssignedAgentName)
		return &CustomerMessageResult{Message: msg, Silent: true, AgentConnected: true}, nil
	}

	// A customer asking for a human skips the AI entirely.
	if ai.ShouldTransferToHuman(req.Content) {
		return s.handleTransferRequest(ctx, conv, msg)
	}

	return s.generateReply(ctx, conv, msg, req.Content)
}

// handleTransferRequest escalates to a human and acknowledges with a
// canned reply at full confidence.
func (s *Service) handleTransferRequest(ctx context.Context, conv *store.Conversation, msg *store.Message) (*CustomerMessageResult, error) {
	if err := s.escalate(ctx, conv); err != nil {
		s.logger.Warn("escalation failed", "conversation_id", conv.ID, "error", err)
	}

	reply := s.newMessage(conv.ID,
		"Of course! Let me connect you with a human agent who can help you further.",
		store.MessageTypeText,
		store.Sender{ID: "ai-assistant", Name: "AI Assistant", Type: store.SenderAI})
	if _, err := s.store.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("recording transfer reply: %w", err)
	}

	return &CustomerMessageResult{
		Message:          msg,
		Reply:            reply,
		SuggestedActions: []string{"Wait for agent", "Continue with AI", "Leave message"},
	}, nil
}

// generateReply runs the responder and persists its reply, unless an
// agent connected during generation.
func (s *Service) generateReply(ctx context.Context, conv *store.Conversation, msg *store.Message, content string) (*CustomerMessageResult, error) {
	urgency := ai.DetectUrgency(content)

	resp, err := s.responder.GenerateResponse(ctx, content, ai.Context{
		BusinessID:   conv.BusinessID,
		CustomerName: conv.CustomerName,
		History:      s.recentHistory(ctx, conv.ID, msg.ID),
	})
	if err != nil {
		// The customer never sees a raw error: substitute the apology
		// and let the low confidence trigger escalation below.
		metrics.AIRepliesTotal.WithLabelValues("failed").Inc()
		s.logger.Error("response generation failed", "conversation_id", conv.ID, "error", err)
		resp = ai.FallbackResponse()
	}

	// Freshness re-check: re-read status now that generation is done.
	// An agent may have connected in the meantime; their conversation
	// must not receive a stale AI reply.
	fresh, _, err := s.store.GetConversation(ctx, conv.ID)
	if err == nil && (fresh.AgentConnected() || fresh.Status == store.StatusEnded) {
		metrics.AIRepliesTotal.WithLabelValues("discarded").Inc()
		s.logger.Info("ai reply discarded, conversation state changed during generation",
			"conversation_id", conv.ID, "status", fresh.Status)
		return &CustomerMessageResult{Message: msg, Silent: true, AgentConnected: fresh.AgentConnected()}, nil
	}

	reply := s.newMessage(conv.ID, resp.Message, store.MessageTypeText, store.Sender{
		ID:   "ai-assistant",
		Name: "AI Assistant",
		Type: store.SenderAI,
	})
	if _, err := s.store.AppendMessage(ctx, reply); err != nil {
		return nil, fmt.Errorf("recording ai reply: %w", err)
	}
	metrics.AIRepliesTotal.WithLabelValues("sent").Inc()

	if ai.NeedsHuman(resp, urgency) {
		if urgency == ai.UrgencyHigh {
			if err := s.raisePriority(ctx, conv.ID); err != nil {
				s.logger.Warn("priority bump failed", "conversation_id", conv.ID, "error", err)
			}
		}
		s.notifyAsync(notify.Notification{
			Event:          notify.EventUrgentMessage,
			BusinessID:     conv.BusinessID,
			ConversationID: conv.ID,
			CustomerName:   conv.CustomerName,
			Detail:         content,
		})
	}

	return &CustomerMessageResult{
		Message:          msg,
		Reply:            reply,
		SuggestedActions: resp.SuggestedActions,
	}, nil
}

// ConnectAgent claims a waiting conversation for an agent. This is the
// single mutual-exclusion point: when two agents race, exactly one wins
// and the other gets an AlreadyAssignedError naming the winner.
// Reconnecting the already-assigned agent is an idempotent ack.
func (s *Service) ConnectAgent(ctx context.Context, conversationID, agentID, agentName string) (*store.Conversation, error) {
	if conversationID == "" || agentID == "" || agentName == "" {
		return nil, fmt.Errorf("%w: conversation_id, agent_id, and agent_name are required", ErrValidation)
	}

	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	conv, _, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == store.StatusEnded {
		return nil, store.ErrConversationEnded
	}
	if conv.AssignedAgentID != "" {
		if conv.AssignedAgentID == agentID {
			return conv, nil
		}
		metrics.AssignmentConflictsTotal.Inc()
		s.logger.Info("assignment conflict",
			"conversation_id", conv.ID,
			"holder", conv.AssignedAgentName,
			"challenger", agentName)
		return nil, &AlreadyAssignedError{Assignee: conv.AssignedAgentName}
	}

	conv.Status = store.StatusConnected
	conv.AssignedAgentID = agentID
	conv.AssignedAgentName = agentName
	conv.LastActivityAt = time.Now().UTC()
	if _, err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("assigning conversation: %w", err)
	}

	if err := s.directory.Assign(agentID); err != nil {
		// Agents outside the roster can still take conversations; the
		// directory just cannot track their load.
		s.logger.Warn("agent not in roster, load untracked", "agent_id", agentID)
	}

	joinText := fmt.Sprintf("%s has joined the conversation", agentName)
	if err := s.appendSystemMessage(ctx, conv.ID, joinText); err != nil {
		s.logger.Warn("join message not recorded", "conversation_id", conv.ID, "error", err)
	}

	greeting := fmt.Sprintf("Hi %s! I'm %s and I'll be helping you today. How can I assist you further?",
		conv.CustomerName, agentName)
	greetMsg := s.newMessage(conv.ID, greeting, store.MessageTypeText, store.Sender{
		ID:   agentID,
		Name: agentName,
		Type: store.SenderAgent,
	})
	if _, err := s.store.AppendMessage(ctx, greetMsg); err != nil {
		s.logger.Warn("greeting not recorded", "conversation_id", conv.ID, "error", err)
	}

	s.logger.Info("agent connected", "conversation_id", conv.ID, "agent", agentName)
	return conv, nil
}

// AgentMessageRequest is a message sent by a human agent.
type AgentMessageRequest struct {
	ConversationID string
	AgentID        string
	AgentName      string
	Content        string
}

// SendAgentMessage persists an agent's message, connecting the agent
// first if the conversation is still waiting. Sending implies claiming:
// an agent who answers a waiting customer owns the conversation from
// that point on.
func (s *Service) SendAgentMessage(ctx context.Context, req *AgentMessageRequest) (*store.Message, error) {
	if req.ConversationID == "" || req.AgentID == "" || req.Content == "" {
		return nil, fmt.Errorf("%w: conversation_id, agent_id, and content are required", ErrValidation)
	}

	conv, _, err := s.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == store.StatusEnded {
		return nil, store.ErrConversationEnded
	}

	if !conv.AgentConnected() || conv.AssignedAgentID != req.AgentID {
		if _, err := s.ConnectAgent(ctx, req.ConversationID, req.AgentID, req.AgentName); err != nil {
			return nil, err
		}
	}

	msg := s.newMessage(req.ConversationID, req.Content, store.MessageTypeText, store.Sender{
		ID:   req.AgentID,
		Name: req.AgentName,
		Type: store.SenderAgent,
	})
	if _, err := s.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("recording agent message: %w", err)
	}
	return msg, nil
}

// RequestAgent escalates a waiting conversation to a human. Connected
// conversations are left untouched (the ack is still success). The
// customer's request text, when given, is persisted before the system
// acknowledgement.
func (s *Service) RequestAgent(ctx context.Context, conversationID, text string) (*store.Conversation, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("%w: conversation_id is required", ErrValidation)
	}

	conv, _, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == store.StatusEnded {
		return nil, store.ErrConversationEnded
	}
	if conv.AgentConnected() {
		return conv, nil
	}

	if text != "" {
		msg := s.newMessage(conv.ID, text, store.MessageTypeText, store.Sender{
			ID:   conv.CustomerID,
			Name: conv.CustomerName,
			Type: store.SenderCustomer,
		})
		if _, err := s.store.AppendMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("recording request message: %w", err)
		}
	}

	if err := s.escalate(ctx, conv); err != nil {
		return nil, err
	}

	// Re-read: escalate may have connected an agent already.
	fresh, _, err := s.store.GetConversation(ctx, conv.ID)
	if err != nil {
		return conv, nil
	}
	return fresh, nil
}

// escalate marks the conversation high priority, announces the wait,
// notifies the business, and assigns the least-loaded agent if one is
// available right now.
func (s *Service) escalate(ctx context.Context, conv *store.Conversation) error {
	if err := s.raisePriority(ctx, conv.ID); err != nil {
		return fmt.Errorf("raising priority: %w", err)
	}

	note := "Agent requested - connecting you to the next available agent..."
	if err := s.appendSystemMessage(ctx, conv.ID, note); err != nil {
		s.logger.Warn("escalation note not recorded", "conversation_id", conv.ID, "error", err)
	}

	s.notifyAsync(notify.Notification{
		Event:          notify.EventHumanRequested,
		BusinessID:     conv.BusinessID,
		ConversationID: conv.ID,
		CustomerName:   conv.CustomerName,
	})

	if best := s.directory.FindBestAgent(conv.BusinessID); best != nil {
		if _, err := s.ConnectAgent(ctx, conv.ID, best.ID, best.Name); err != nil {
			// Losing the race to another agent is fine; the customer
			// got connected either way.
			var already *AlreadyAssignedError
			if !errors.As(err, &already) {
				s.logger.Warn("immediate assignment failed", "conversation_id", conv.ID, "error", err)
			}
		}
	}
	return nil
}

// raisePriority re-reads the conversation before bumping it to high.
// The caller's snapshot predates message appends that moved unreadCount
// and lastActivityAt forward; writing that snapshot back would undo them.
func (s *Service) raisePriority(ctx context.Context, conversationID string) error {
	conv, _, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.Priority == store.PriorityHigh {
		return nil
	}
	conv.Priority = store.PriorityHigh
	_, err = s.store.UpdateConversation(ctx, conv)
	return err
}

// End transitions a conversation to its terminal state, releases the
// assigned agent, and clears the assignment so the invariant (assigned
// iff connected) holds. Ending twice is an idempotent no-op.
func (s *Service) End(ctx context.Context, conversationID string) (*store.Conversation, error) {
	conv, _, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == store.StatusEnded {
		return conv, nil
	}

	// The farewell lands before the status flips so it is the last
	// message an open poller can still receive.
	if err := s.appendSystemMessage(ctx, conv.ID, "Conversation has been ended"); err != nil {
		s.logger.Warn("farewell not recorded", "conversation_id", conv.ID, "error", err)
	}

	if conv.AssignedAgentID != "" {
		if err := s.directory.Release(conv.AssignedAgentID); err != nil {
			s.logger.Warn("agent release failed", "agent_id", conv.AssignedAgentID, "error", err)
		}
	}

	conv.Status = store.StatusEnded
	conv.AssignedAgentID = ""
	conv.AssignedAgentName = ""
	conv.LastActivityAt = time.Now().UTC()
	if _, err := s.store.UpdateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("ending conversation: %w", err)
	}

	s.logger.Info("conversation ended", "conversation_id", conv.ID)
	return conv, nil
}

// TicketRequest is an offline message left when no agent is available.
type TicketRequest struct {
	BusinessID    string
	CustomerName  string
	CustomerEmail string
	Message       string
}

// CreateOfflineTicket records a message for later follow-up. Priority
// is inferred from the message text.
func (s *Service) CreateOfflineTicket(ctx context.Context, req *TicketRequest) (*store.Ticket, error) {
	if req.BusinessID == "" || req.CustomerEmail == "" || req.Message == "" {
		return nil, fmt.Errorf("%w: business_id, customer_email, and message are required", ErrValidation)
	}

	now := time.Now().UTC()
	ticket := &store.Ticket{
		ID:            uuid.New().String(),
		BusinessID:    req.BusinessID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Message:       req.Message,
		Priority:      ai.DetectUrgency(req.Message),
		Status:        "pending",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("creating ticket: %w", err)
	}

	s.logger.Info("offline ticket created", "ticket_id", ticket.ID, "business_id", ticket.BusinessID)
	return ticket, nil
}

// newMessage builds a message with a ULID id. ULIDs sort by creation
// time, which keeps equal-timestamp messages in a stable order.
func (s *Service) newMessage(conversationID, content, messageType string, sender store.Sender) *store.Message {
	return &store.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		Content:        content,
		MessageType:    messageType,
		Sender:         sender,
		Timestamp:      time.Now().UTC(),
	}
}

func (s *Service) appendSystemMessage(ctx context.Context, conversationID, content string) error {
	msg := s.newMessage(conversationID, content, store.MessageTypeSystem, store.Sender{
		ID:   "system",
		Name: "System",
		Type: store.SenderSystem,
	})
	_, err := s.store.AppendMessage(ctx, msg)
	return err
}

// recentHistory returns prior message contents for responder context,
// excluding the message currently being answered. Failures degrade to
// no history rather than blocking the reply.
func (s *Service) recentHistory(ctx context.Context, conversationID, excludeID string) []string {
	messages, _, err := s.store.ListMessages(ctx, conversationID, time.Time{})
	if err != nil {
		return nil
	}
	history := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.ID == excludeID || m.MessageType == store.MessageTypeSystem {
			continue
		}
		history = append(history, m.Content)
	}
	return history
}

// notifyAsync publishes without blocking the request path. Notification
// delivery is best-effort.
func (s *Service) notifyAsync(n notify.Notification) {
	n.Timestamp = time.Now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, n); err != nil {
			s.logger.Warn("notification publish failed", "event", n.Event, "error", err)
		}
	}()
}
