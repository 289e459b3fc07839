// ABOUTME: HTTP handlers for the conversation, chat, typing, and ticket APIs
// ABOUTME: JSON in, JSON out; errors map to status codes via sendError

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/support-gateway/internal/agents"
	"github.com/2389/support-gateway/internal/conversation"
	"github.com/2389/support-gateway/internal/store"
)

// handleConversations handles POST (create) and GET (list) on
// /api/conversations.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		g.createConversation(w, r)
	case http.MethodGet:
		g.listConversations(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type createConversationRequest struct {
	BusinessID    string `json:"businessId"`
	CustomerID    string `json:"customerId"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
}

func (g *Gateway) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.svc.Create(r.Context(), &conversation.CreateRequest{
		BusinessID:    req.BusinessID,
		CustomerID:    req.CustomerID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(conv)
}

func (g *Gateway) listConversations(w http.ResponseWriter, r *http.Request) {
	businessID := r.URL.Query().Get("business_id")
	if businessID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "business_id query param required")
		return
	}

	conversations, source, err := g.svc.List(r.Context(), businessID)
	if err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"conversations": conversations,
		"source":        source,
	})
}

// handleConversationRoutes handles /api/conversations/{id} and the
// /end and /read sub-resources.
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation id is required")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		g.getConversation(w, r, id)
	case "end":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		conv, err := g.svc.End(r.Context(), id)
		if err != nil {
			g.sendError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(conv)
	case "read":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := g.svc.MarkRead(r.Context(), id); err != nil {
			g.sendError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	default:
		g.sendJSONError(w, http.StatusNotFound, "unknown conversation action")
	}
}

func (g *Gateway) getConversation(w http.ResponseWriter, r *http.Request, id string) {
	conv, source, err := g.svc.Get(r.Context(), id)
	if err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"conversation":   conv,
		"agentConnected": conv.AgentConnected(),
		"source":         source,
	})
}

type chatRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	CustomerName   string `json:"customerName"`
}

// handleChat handles POST /api/chat, the customer message path. The
// response tells the widget whether a reply came back or the message
// was delivered silently to a connected agent.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := g.svc.SendCustomerMessage(r.Context(), &conversation.CustomerMessageRequest{
		ConversationID: req.ConversationID,
		Content:        req.Message,
		CustomerName:   req.CustomerName,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}

	resp := map[string]any{
		"silent":         result.Silent,
		"agentConnected": result.AgentConnected,
	}
	if result.Reply != nil {
		resp["reply"] = result.Reply
	}
	if len(result.SuggestedActions) > 0 {
		resp["suggestedActions"] = result.SuggestedActions
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

type agentMessageRequest struct {
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId"`
	AgentName      string `json:"agentName"`
	Message        string `json:"message"`
}

// handleAgentMessage handles POST /api/agent/message. Sending implies
// claiming: a waiting conversation becomes connected to this agent.
func (g *Gateway) handleAgentMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req agentMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := g.svc.SendAgentMessage(r.Context(), &conversation.AgentMessageRequest{
		ConversationID: req.ConversationID,
		AgentID:        req.AgentID,
		AgentName:      req.AgentName,
		Content:        req.Message,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}

type agentConnectRequest struct {
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId"`
	AgentName      string `json:"agentName"`
}

// handleAgentConnect handles POST /api/agent/connect. Losing the
// assignment race returns 409 naming the current assignee.
func (g *Gateway) handleAgentConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req agentConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.svc.ConnectAgent(r.Context(), req.ConversationID, req.AgentID, req.AgentName)
	if err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}

type agentRequestRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
}

// handleAgentRequest handles POST /api/agent/request, the customer-side
// escalation to a human.
func (g *Gateway) handleAgentRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req agentRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.svc.RequestAgent(r.Context(), req.ConversationID, req.Message)
	if err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"conversation":   conv,
		"agentConnected": conv.AgentConnected(),
	})
}

type agentStatusRequest struct {
	AgentID string `json:"agentId"`
	Status  string `json:"status"`
}

// handleAgentStatus handles POST /api/agent/status, the dashboard's
// online/busy/offline toggle. Going offline releases the agent's live
// conversation count.
func (g *Gateway) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req agentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AgentID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agentId is required")
		return
	}

	if err := g.directory.SetStatus(req.AgentID, req.Status); err != nil {
		if errors.Is(err, agents.ErrUnknownAgent) {
			g.sendJSONError(w, http.StatusNotFound, "agent not found")
			return
		}
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	agent, err := g.directory.Get(req.AgentID)
	if err != nil {
		g.sendError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agent)
}

// handleAgents handles GET /api/agents?business_id=, the dashboard's
// roster view.
func (g *Gateway) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	businessID := r.URL.Query().Get("business_id")
	if businessID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "business_id query param required")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"agents": g.directory.List(businessID)})
}

// handleMessages handles GET /api/messages?conversation_id=&since=.
// Messages come back ascending, strictly newer than since.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation_id query param required")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
			return
		}
		since = parsed
	}

	messages, source, err := g.svc.Messages(r.Context(), conversationID, since)
	if err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"messages": messages,
		"source":   source,
	})
}

type typingRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	UserType       string `json:"userType"`
	IsTyping       bool   `json:"isTyping"`
}

// handleTyping handles POST (set) and GET (query) on /api/typing.
func (g *Gateway) handleTyping(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req typingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.ConversationID == "" || req.UserID == "" {
			g.sendJSONError(w, http.StatusBadRequest, "conversationId and userId are required")
			return
		}
		if req.UserType != string(store.SenderCustomer) && req.UserType != string(store.SenderAgent) {
			g.sendJSONError(w, http.StatusBadRequest, "userType must be customer or agent")
			return
		}

		g.typing.Set(req.ConversationID, req.UserID, req.UserName, req.UserType, req.IsTyping)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]bool{"ok": true})

	case http.MethodGet:
		conversationID := r.URL.Query().Get("conversation_id")
		if conversationID == "" {
			g.sendJSONError(w, http.StatusBadRequest, "conversation_id query param required")
			return
		}
		exclude := r.URL.Query().Get("exclude_user_id")

		active := g.typing.Typing(conversationID, exclude)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"typing": active})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAvailability handles GET /api/availability?business_id=.
func (g *Gateway) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	businessID := r.URL.Query().Get("business_id")
	if businessID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "business_id query param required")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(g.svc.CheckAvailability(businessID))
}

type ticketRequest struct {
	BusinessID    string `json:"businessId"`
	CustomerName  string `json:"customerName"`
	CustomerEmail string `json:"customerEmail"`
	Message       string `json:"message"`
}

// handleTickets handles POST /api/tickets, the offline message path
// used when the agent wait is exhausted.
func (g *Gateway) handleTickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ticketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ticket, err := g.svc.CreateOfflineTicket(r.Context(), &conversation.TicketRequest{
		BusinessID:    req.BusinessID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Message:       req.Message,
	})
	if err != nil {
		g.sendError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(ticket)
}

// sendError maps service errors to HTTP status codes.
func (g *Gateway) sendError(w http.ResponseWriter, err error) {
	var already *conversation.AlreadyAssignedError
	switch {
	case errors.As(err, &already):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error":    already.Error(),
			"assignee": already.Assignee,
		})
	case errors.Is(err, conversation.ErrValidation):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, store.ErrConversationEnded):
		g.sendJSONError(w, http.StatusConflict, "conversation has ended")
	case errors.Is(err, store.ErrUnavailable):
		g.sendJSONError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
