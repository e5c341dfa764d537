// Package api implements the HTTP surface the browser UI talks to.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skald-ai/skald/internal/agent"
	"github.com/skald-ai/skald/internal/buildinfo"
	"github.com/skald-ai/skald/internal/llm"
	"github.com/skald-ai/skald/internal/memory"
	"github.com/skald-ai/skald/internal/settings"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address  string
	port     int
	store    memory.Store
	gateway  llm.Gateway
	loop     *agent.Loop
	settings *settings.Store
	hub      *Hub
	logger   *slog.Logger
	server   *http.Server

	// processing tracks conversations with an active agent loop. A
	// conversation accepts no chat submissions and no message
	// mutations while its loop runs.
	processingMu sync.Mutex
	processing   map[string]bool
}

// Config collects the server's collaborators.
type Config struct {
	Address  string
	Port     int
	Store    memory.Store
	Gateway  llm.Gateway
	Loop     *agent.Loop
	Settings *settings.Store
	Hub      *Hub
	Logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config) *Server {
	return &Server{
		address:    cfg.Address,
		port:       cfg.Port,
		store:      cfg.Store,
		gateway:    cfg.Gateway,
		loop:       cfg.Loop,
		settings:   cfg.Settings,
		hub:        cfg.Hub,
		logger:     cfg.Logger,
		processing: make(map[string]bool),
	}
}

// Handler builds the route table. Split out from Start so tests can
// drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat
	mux.HandleFunc("POST /v1/chat", s.handleChat)

	// Conversation history
	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("GET /v1/conversations/{id}/export", s.handleConversationExport)

	// Per-message mutations
	mux.HandleFunc("DELETE /v1/conversations/{id}/messages/{msgId}", s.handleMessageDelete)
	mux.HandleFunc("POST /v1/conversations/{id}/messages/{msgId}/bookmark", s.handleMessageBookmark)

	// Model picker and runtime settings
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/settings", s.handleSettingsGet)
	mux.HandleFunc("PUT /v1/settings", s.handleSettingsUpdate)

	// Lifecycle event feed
	if s.hub != nil {
		mux.HandleFunc("GET /v1/events", s.hub.handleEvents)
	}

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // agent loops can run long
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// beginProcessing marks a conversation busy. Returns false when a loop
// is already running for it.
func (s *Server) beginProcessing(id string) bool {
	s.processingMu.Lock()
	defer s.processingMu.Unlock()
	if s.processing[id] {
		return false
	}
	s.processing[id] = true
	return true
}

func (s *Server) endProcessing(id string) {
	s.processingMu.Lock()
	defer s.processingMu.Unlock()
	delete(s.processing, id)
}

func (s *Server) isProcessing(id string) bool {
	s.processingMu.Lock()
	defer s.processingMu.Unlock()
	return s.processing[id]
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Skald",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

// ChatRequest is the chat submission body.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the chat submission reply.
type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

// handleChat appends the user message and runs the agent loop to
// completion. One loop per conversation: concurrent submissions to the
// same conversation get 409, submissions to other conversations proceed.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = uuid.New().String()
	}

	if !s.beginProcessing(convID) {
		s.errorResponse(w, http.StatusConflict, "conversation is already processing")
		return
	}
	defer s.endProcessing(convID)

	if _, err := s.store.GetOrCreate(convID); err != nil {
		s.logger.Error("create conversation failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}
	if _, err := s.store.Append(convID, memory.Message{
		Role:    memory.RoleUser,
		Content: req.Message,
	}); err != nil {
		s.logger.Error("append user message failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}

	if err := s.loop.Run(r.Context(), convID); err != nil {
		s.logger.Error("agent loop failed", "conversation", convID, "error", err)
		s.errorResponse(w, http.StatusBadGateway, err.Error())
		return
	}

	reply := ""
	if msgs, err := s.store.Messages(convID); err == nil {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == memory.RoleAssistant && msgs[i].Content != "" {
				reply = msgs[i].Content
				break
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{ConversationID: convID, Reply: reply}, s.logger)
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List()
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversations": summaries}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	conv, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		s.logger.Error("get conversation failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}
	if conv == nil {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, conv, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.isProcessing(id) {
		s.errorResponse(w, http.StatusConflict, "conversation is already processing")
		return
	}
	if err := s.store.Delete(id); err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "deleted"}, s.logger)
}

func (s *Server) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.isProcessing(id) {
		s.errorResponse(w, http.StatusConflict, "conversation is already processing")
		return
	}
	if err := s.store.DeleteMessage(id, r.PathValue("msgId")); err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "deleted"}, s.logger)
}

func (s *Server) handleMessageBookmark(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.isProcessing(id) {
		s.errorResponse(w, http.StatusConflict, "conversation is already processing")
		return
	}
	bookmarked, err := s.store.ToggleBookmark(id, r.PathValue("msgId"))
	if err != nil {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"bookmarked": bookmarked}, s.logger)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.gateway.ListModels(r.Context())
	if err != nil {
		s.logger.Error("list models failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, "model listing unavailable")
		return
	}

	data := make([]map[string]any, 0, len(models))
	for _, m := range models {
		data = append(data, map[string]any{
			"id":       m.ID,
			"object":   "model",
			"owned_by": m.OwnedBy,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"object": "list", "data": data}, s.logger)
}

// handleStats reports store counters plus daemon vitals, for the UI's
// diagnostics panel.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	stats["uptime"] = buildinfo.Uptime().Round(time.Second).String()
	if s.hub != nil {
		stats["event_clients"] = s.hub.ClientCount()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats, s.logger)
}

func (s *Server) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.settings.Get(), s.logger)
}

func (s *Server) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	var req settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	updated, err := s.settings.Update(func(cur *settings.Settings) {
		*cur = req
	})
	if err != nil {
		s.logger.Error("settings update failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "settings update failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, updated, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}
