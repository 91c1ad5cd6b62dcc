// Package server exposes the assistant over HTTP and WebSocket: a chi
// router for the JSON surface and a gorilla socket for streaming turns.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/walnutseal1/yk-project/pkg/agent"
	"github.com/walnutseal1/yk-project/pkg/llms"
	"github.com/walnutseal1/yk-project/pkg/memory"
	"github.com/walnutseal1/yk-project/pkg/sleeper"
)

// SleepScheduler is the slice of the sleep-time scheduler the transport
// needs.
type SleepScheduler interface {
	Status() sleeper.Status
	Enqueue(payload string)
	SetModel(model string)
}

// Options configures a Server. Scheduler and Store may be nil; the
// corresponding endpoints then report the feature as unavailable.
type Options struct {
	Agent     *agent.Agent
	Scheduler SleepScheduler
	Store     *memory.Store
}

// Server wires the agent, scheduler, and memory store into the HTTP and
// WebSocket surface.
type Server struct {
	agent     *agent.Agent
	scheduler SleepScheduler
	store     *memory.Store

	router     chi.Router
	httpServer *http.Server
}

func New(opts Options) *Server {
	s := &Server{
		agent:     opts.Agent,
		scheduler: opts.Scheduler,
		store:     opts.Store,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	r.Post("/chat", s.handleChat)
	r.Get("/history", s.handleHistory)
	r.Get("/health", s.handleHealth)
	r.Post("/clear", s.handleClear)
	r.Get("/memory/core", s.handleCoreMemory)
	r.Get("/sleep_agent/status", s.handleSleepStatus)
	r.Post("/sleep_agent/trigger", s.handleSleepTrigger)
	r.Post("/set_model", s.handleSetModel)
	r.Post("/set_sleep_model", s.handleSetSleepModel)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/ws", s.handleWebSocket)

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves on addr until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("http server listening", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func nowISO() string {
	return time.Now().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": "error",
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, http.StatusBadRequest, "No message provided")
		return
	}

	response, err := s.agent.Chat(r.Context(), req.Message)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"response":  response,
		"status":    "success",
		"timestamp": nowISO(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": s.agent.History(),
		"status":  "success",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sleepAgent := map[string]interface{}{
		"initialized": s.scheduler != nil,
	}
	if s.scheduler != nil {
		sleepAgent["status"] = s.scheduler.Status()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":                "online",
		"timestamp":             nowISO(),
		"streaming_support":     true,
		"ai_system_initialized": s.agent != nil,
		"context_tokens":        s.agent.ContextTokens(),
		"sleep_agent":           sleepAgent,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.agent.Clear()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "cleared",
		"message": "Conversation history cleared",
	})
}

func (s *Server) handleCoreMemory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusInternalServerError, "AI system not initialized")
		return
	}
	snapshot, err := s.store.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"core_memory": snapshot,
		"status":      "success",
	})
}

func (s *Server) handleSleepStatus(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusInternalServerError, "sleep time agent not initialized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  s.scheduler.Status(),
		"success": true,
	})
}

func (s *Server) handleSleepTrigger(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusInternalServerError, "sleep time agent not initialized")
		return
	}

	snapshot := s.agent.ContextSnapshot()
	s.scheduler.Enqueue(agent.Digest(snapshot))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"context_size": len(snapshot),
		"message":      "Memory task queued over current context",
	})
}

type setModelRequest struct {
	Model string `json:"model"`
}

// parseModel accepts either a bare model name or a full provider/model
// identifier, returning the model part.
func parseModel(raw string) (string, error) {
	if !strings.Contains(raw, "/") {
		return raw, nil
	}
	_, model, err := llms.SplitModelID(raw)
	if err != nil {
		return "", err
	}
	return model, nil
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var req setModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		writeError(w, http.StatusBadRequest, "No model provided")
		return
	}
	model, err := parseModel(req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.agent.SetModel(model)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleSetSleepModel(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusInternalServerError, "sleep time agent not initialized")
		return
	}
	var req setModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		writeError(w, http.StatusBadRequest, "No model provided")
		return
	}
	model, err := parseModel(req.Model)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.scheduler.SetModel(model)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}
