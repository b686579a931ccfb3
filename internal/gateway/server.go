// Package gateway exposes the runtime over HTTP: session spawning and
// messaging, server-sent event streams, health, and Prometheus metrics.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenticmail/agenticmail/internal/agent"
	"github.com/agenticmail/agenticmail/internal/observability"
	"github.com/agenticmail/agenticmail/pkg/models"
)

const (
	defaultAddr         = ":8420"
	shutdownGracePeriod = 10 * time.Second
	maxBodyBytes        = 256 * 1024
)

// Config configures the HTTP gateway.
type Config struct {
	// Addr is the listen address (default :8420).
	Addr string
}

// Server is the HTTP adapter over a Runtime.
type Server struct {
	runtime   *agent.Runtime
	scheduler *agent.Scheduler
	logger    *observability.Logger
	metrics   *observability.Metrics
	http      *http.Server
}

// NewServer wires the gateway routes.
func NewServer(cfg Config, runtime *agent.Runtime, scheduler *agent.Scheduler, logger *observability.Logger, metrics *observability.Metrics) *Server {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if logger == nil {
		logger = observability.Discard()
	}
	s := &Server{
		runtime:   runtime,
		scheduler: scheduler,
		logger:    logger,
		metrics:   metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/agents/{agentID}/sessions", s.handleSpawn)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/messages", s.handleSendMessage)
	mux.HandleFunc("POST /v1/sessions/{sessionID}/terminate", s.handleTerminate)
	mux.HandleFunc("GET /v1/sessions/{sessionID}/events", s.handleEvents)
	mux.HandleFunc("POST /v1/followups", s.handleScheduleFollowUp)
	mux.HandleFunc("POST /v1/inbound/email", s.handleInboundEmail)
	if metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves until Stop. Blocks.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", s.http.Addr, err)
	}
	s.logger.Info(context.Background(), "gateway listening", "addr", lis.Addr().String())
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.runtime.ActiveSessionCount(),
	})
}

type spawnRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSpawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := s.runtime.Spawn(r.Context(), r.PathValue("agentID"), req.Message)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(sess))
}

type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.runtime.SendMessage(r.Context(), r.PathValue("sessionID"), req.Message); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	if err := s.runtime.Terminate(r.Context(), r.PathValue("sessionID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleEvents streams session events as server-sent events until the
// client disconnects or the session's stream closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.runtime.Subscribe(r.PathValue("sessionID"))
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn(r.Context(), "event marshal failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
		}
	}
}

type followUpRequest struct {
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	ExecuteAt time.Time `json:"execute_at,omitempty"`
	Cron      string    `json:"cron,omitempty"`
}

func (s *Server) handleScheduleFollowUp(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		http.Error(w, "scheduler disabled", http.StatusNotImplemented)
		return
	}
	var req followUpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	f, err := s.scheduler.Schedule(r.Context(), agent.FollowUpRequest{
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
		Message:   req.Message,
		ExecuteAt: req.ExecuteAt,
		Cron:      req.Cron,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

type inboundEmailRequest struct {
	From string `json:"from"`
	Body string `json:"body"`
}

func (s *Server) handleInboundEmail(w http.ResponseWriter, r *http.Request) {
	var req inboundEmailRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, err := s.runtime.HandleInboundEmail(r.Context(), req.From, req.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, sessionView(sess))
}

func sessionView(sess *models.Session) map[string]any {
	return map[string]any{
		"id":         sess.ID,
		"agent_id":   sess.AgentID,
		"status":     sess.Status,
		"turn_count": sess.TurnCount,
		"created_at": sess.CreatedAt,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps runtime error kinds onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if s.metrics != nil {
		s.metrics.RecordError("gateway", string(agent.KindOf(err)))
	}
	status := http.StatusInternalServerError
	switch agent.KindOf(err) {
	case agent.KindNotFound:
		status = http.StatusNotFound
	case agent.KindInvalidArgument:
		status = http.StatusBadRequest
	case agent.KindPreconditionFailed:
		status = http.StatusConflict
	case agent.KindUnauthenticated:
		status = http.StatusUnauthorized
	case agent.KindBudgetExceeded:
		status = http.StatusPaymentRequired
	case agent.KindTimeout, agent.KindTransientUpstream:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "gateway request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
