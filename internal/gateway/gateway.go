// ABOUTME: HTTP gateway wiring routes, middleware, and graceful shutdown
// ABOUTME: The widget and dashboard poll this surface on fixed intervals

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/support-gateway/internal/agents"
	"github.com/2389/support-gateway/internal/config"
	"github.com/2389/support-gateway/internal/conversation"
	"github.com/2389/support-gateway/internal/metrics"
	"github.com/2389/support-gateway/internal/typing"
)

// Gateway serves the HTTP API for the support chat platform.
type Gateway struct {
	svc           *conversation.Service
	directory     *agents.Directory
	typing        *typing.Tracker
	logger        *slog.Logger
	allowedOrigin string

	server *http.Server
}

// New creates a Gateway over the conversation service.
func New(svc *conversation.Service, directory *agents.Directory, tracker *typing.Tracker, cfg *config.Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		svc:           svc,
		directory:     directory,
		typing:        tracker,
		logger:        logger.With("component", "gateway"),
		allowedOrigin: cfg.Server.AllowedOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/conversations", g.handleConversations)
	mux.HandleFunc("/api/conversations/", g.handleConversationRoutes)
	mux.HandleFunc("/api/chat", g.handleChat)
	mux.HandleFunc("/api/agent/message", g.handleAgentMessage)
	mux.HandleFunc("/api/agent/connect", g.handleAgentConnect)
	mux.HandleFunc("/api/agent/request", g.handleAgentRequest)
	mux.HandleFunc("/api/agent/status", g.handleAgentStatus)
	mux.HandleFunc("/api/agents", g.handleAgents)
	mux.HandleFunc("/api/messages", g.handleMessages)
	mux.HandleFunc("/api/typing", g.handleTyping)
	mux.HandleFunc("/api/availability", g.handleAvailability)
	mux.HandleFunc("/api/tickets", g.handleTickets)

	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, promhttp.Handler())
	}

	g.server = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.withMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler
}

// ListenAndServe blocks serving HTTP until Shutdown is called.
func (g *Gateway) ListenAndServe() error {
	g.logger.Info("http server listening", "addr", g.server.Addr)
	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withMiddleware wraps the mux with CORS, request logging, and metrics.
func (g *Gateway) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := g.allowedOrigin
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.RequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		g.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// handleHealth handles GET /health requests.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}
