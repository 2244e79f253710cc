// Package gateway exposes the orchestrator over HTTP and WebSocket.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/davrin/sprintd/internal/backlog"
	"github.com/davrin/sprintd/internal/events"
	"github.com/davrin/sprintd/internal/gateway/ws"
	"github.com/davrin/sprintd/internal/learning"
	"github.com/davrin/sprintd/internal/memory"
	"github.com/davrin/sprintd/internal/planner"
	"github.com/davrin/sprintd/internal/queue"
	"github.com/davrin/sprintd/internal/storage"
)

// Deps are the components the gateway fronts.
type Deps struct {
	Bus      *events.Bus
	EventLog *storage.EventLogger
	Backlog  backlog.Store
	Queue    *queue.Queue
	Planner  *planner.Planner
	Learning *learning.Engine
	Memory   *memory.Store
}

// Server is the sprintd gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	deps       Deps
}

// NewServer creates a new gateway server.
func NewServer(deps Deps, host string, port int) *Server {
	hub := ws.NewHub(deps.Bus)

	s := &Server{
		hub:  hub,
		deps: deps,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)

	r.Post("/api/backlog/items", s.handleCreateItem)

	r.Get("/api/tasks", s.handleListTasks)
	r.Post("/api/tasks", s.handleEnqueue)
	r.Post("/api/tasks/{id}/approve", s.handleApproveTask)
	r.Post("/api/tasks/{id}/reject", s.handleRejectTask)
	r.Post("/api/tasks/{id}/cancel", s.handleCancelTask)

	r.Post("/api/sprints/plan", s.handlePlanSprint)
	r.Get("/api/sprints", s.handleListSprints)
	r.Get("/api/sprints/{id}/progress", s.handleSprintProgress)

	r.Get("/api/patterns", s.handleListPatterns)
	r.Post("/api/patterns/cleanup", s.handleCleanupPatterns)

	r.Post("/api/sessions", s.handleStartSession)
	r.Get("/api/sessions/{id}", s.handleGetSession)
	r.Delete("/api/sessions/{id}", s.handleClearSession)
	r.Post("/api/sessions/{id}/end", s.handleEndSession)
	r.Post("/api/sessions/{id}/decisions", s.handleRecordDecision)
	r.Post("/api/sessions/{id}/items", s.handleRecordItem)
	r.Post("/api/sessions/{id}/rejections", s.handleRecordRejection)
	r.Post("/api/sessions/{id}/stories", s.handleRecordStory)
	r.Delete("/api/memory", s.handleClearProjectMemory)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("sprintd gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, queue.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, queue.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, queue.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, planner.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, planner.ErrPlanningInProgress):
		status = http.StatusConflict
	case errors.Is(err, planner.ErrNoCandidates):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	// With a project filter the persisted log is queried; otherwise the
	// in-memory ring buffer is enough.
	if projectID := r.URL.Query().Get("project_id"); projectID != "" && s.deps.EventLog != nil {
		history, err := s.deps.EventLog.RecentEvents(r.Context(), projectID, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, history)
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Bus.History(limit))
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var item backlog.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if item.ProjectID == "" || item.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id and title are required"})
		return
	}
	if err := s.deps.Backlog.Create(r.Context(), &item); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := queue.Filter{
		ProjectID: q.Get("project_id"),
		SprintID:  q.Get("sprint_id"),
		Status:    queue.Status(q.Get("status")),
	}
	list, err := s.deps.Queue.Store().List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*queue.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var spec queue.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	t, err := s.deps.Queue.Enqueue(r.Context(), spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleApproveTask(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.Approve(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *Server) handleRejectTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	if err := s.deps.Queue.Reject(r.Context(), chi.URLParam(r, "id"), body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	if err := s.deps.Queue.Cancel(r.Context(), chi.URLParam(r, "id"), body.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handlePlanSprint(w http.ResponseWriter, r *http.Request) {
	var req planner.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	plan, err := s.deps.Planner.GenerateNextSprint(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleListSprints(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id is required"})
		return
	}
	list, err := s.deps.Planner.Sprints(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*planner.Sprint{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSprintProgress(w http.ResponseWriter, r *http.Request) {
	prog, err := s.deps.Planner.GetSprintProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if prog.SprintID == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "sprint not found"})
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id is required"})
		return
	}
	list, err := s.deps.Learning.Patterns(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*learning.Pattern{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCleanupPatterns(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID string  `json:"project_id"`
		Threshold float64 `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.ProjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id is required"})
		return
	}
	removed, err := s.deps.Learning.CleanupLowConfidencePatterns(r.Context(), body.ProjectID, body.Threshold)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID string `json:"project_id"`
		AgentType string `json:"agent_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.ProjectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id is required"})
		return
	}
	sess, err := s.deps.Memory.StartSession(r.Context(), body.ProjectID, body.AgentType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	s.deps.Memory.EndSession(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// recordToSession decodes a one-field body, checks the session exists, and
// applies the record operation.
func (s *Server) recordToSession(w http.ResponseWriter, r *http.Request,
	record func(ctx context.Context, sessionID, value string) error) {
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if body.Value == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "value is required"})
		return
	}

	sessionID := chi.URLParam(r, "id")
	sess, err := s.deps.Memory.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}

	if err := record(r.Context(), sessionID, body.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleRecordDecision(w http.ResponseWriter, r *http.Request) {
	s.recordToSession(w, r, s.deps.Memory.RecordDecision)
}

func (s *Server) handleRecordItem(w http.ResponseWriter, r *http.Request) {
	s.recordToSession(w, r, s.deps.Memory.RecordCreatedItem)
}

func (s *Server) handleRecordRejection(w http.ResponseWriter, r *http.Request) {
	s.recordToSession(w, r, s.deps.Memory.RecordRejection)
}

func (s *Server) handleRecordStory(w http.ResponseWriter, r *http.Request) {
	s.recordToSession(w, r, s.deps.Memory.RecordStoryDiscussion)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Memory.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Memory.ClearSessionMemory(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleClearProjectMemory(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_id is required"})
		return
	}
	if err := s.deps.Memory.ClearProjectMemory(r.Context(), projectID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
