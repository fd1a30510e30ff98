// Package api exposes the heartbeat ingress and status queries over HTTP.
// Children push POST /api/heartbeat; operators and tooling read the status
// endpoints. No authentication: the server binds for local use.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hezky/lab-heartbeat/internal/heartbeat"
	"github.com/hezky/lab-heartbeat/internal/logging"
	"github.com/hezky/lab-heartbeat/internal/monitor"
	"github.com/hezky/lab-heartbeat/internal/registry"
)

// Server is the supervisor's HTTP surface.
type Server struct {
	registry *registry.Registry
	tracker  *heartbeat.Tracker
	monitor  *monitor.Monitor

	httpServer *http.Server
}

// New constructs the server and wires its routes.
func New(addr string, reg *registry.Registry, tracker *heartbeat.Tracker, mon *monitor.Monitor) *Server {
	s := &Server{
		registry: reg,
		tracker:  tracker,
		monitor:  mon,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Post("/api/heartbeat", s.handleHeartbeat)
	router.Get("/api/status", s.handleStatus)
	router.Get("/api/processes", s.handleListProcesses)
	router.Get("/api/processes/{name}", s.handleGetProcess)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in the background. Listen errors other than a clean
// shutdown are logged.
func (s *Server) Start() {
	go func() {
		logging.Info("api server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("api server failed", "error", err)
		}
	}()
}

// Shutdown stops the server, waiting for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// heartbeatRequest is the ingress payload children send.
type heartbeatRequest struct {
	ProcessID string `json:"process_id"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProcessID == "" {
		writeError(w, http.StatusBadRequest, "invalid heartbeat payload")
		return
	}

	if err := s.tracker.RegisterHeartbeat(r.Context(), req.ProcessID); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown process id")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to register heartbeat")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.tracker.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// processView is a registry record with the monitor's cached metrics
// attached.
type processView struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	State         string                  `json:"state"`
	PID           *int                    `json:"pid,omitempty"`
	StartedAt     *time.Time              `json:"started_at,omitempty"`
	StoppedAt     *time.Time              `json:"stopped_at,omitempty"`
	RestartCount  int                     `json:"restart_count"`
	LastHeartbeat *time.Time              `json:"last_heartbeat,omitempty"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	Metrics       *monitor.ProcessMetrics `json:"metrics,omitempty"`
}

func (s *Server) viewOf(info *registry.ProcessInfo) processView {
	view := processView{
		ID:            info.ID,
		Name:          info.Config.Name,
		State:         string(info.State),
		PID:           info.PID,
		StartedAt:     info.StartedAt,
		StoppedAt:     info.StoppedAt,
		RestartCount:  info.RestartCount,
		LastHeartbeat: info.LastHeartbeat,
		ErrorMessage:  info.ErrorMessage,
	}
	if s.monitor != nil {
		if metrics, ok := s.monitor.Metrics(info.ID); ok {
			view.Metrics = &metrics
		}
	}
	return view
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	state := registry.ProcessState(r.URL.Query().Get("state"))

	infos, err := s.registry.List(r.Context(), state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list processes")
		return
	}

	views := make([]processView, 0, len(infos))
	for _, info := range infos {
		views = append(views, s.viewOf(info))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	info, err := s.registry.GetByName(r.Context(), name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown process")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read process")
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(info))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
