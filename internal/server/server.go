package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/routewise-ai/routewise/internal/config"
	"github.com/routewise-ai/routewise/internal/pipeline"
	"github.com/routewise-ai/routewise/internal/session"
)

// Runner executes one planning request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// SessionLister exposes stored sessions for the listing endpoint.
type SessionLister interface {
	ListSessions(ctx context.Context, limit int) ([]session.Session, error)
}

// Server is the HTTP front door.
type Server struct {
	cfg      *config.Settings
	runner   Runner
	sessions SessionLister
	logger   *zap.Logger
	http     *http.Server
}

func New(cfg *config.Settings, runner Runner, sessions SessionLister, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, runner: runner, sessions: sessions, logger: logger}
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.Service.ReadTimeout,
		WriteTimeout: cfg.Service.WriteTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/plan", s.handlePlan)
	mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

type planRequest struct {
	Query           string `json:"query"`
	SessionID       string `json:"sessionId,omitempty"`
	FastMode        *bool  `json:"fastMode,omitempty"`
	DeadlineSeconds int    `json:"deadlineSeconds,omitempty"`
	Save            bool   `json:"save,omitempty"`
}

type planResponse struct {
	Markdown       string  `json:"markdown"`
	SessionID      string  `json:"sessionId"`
	Route          string  `json:"route"`
	ElapsedSeconds float64 `json:"elapsedSeconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "query is required"})
		return
	}

	res, err := s.runner.Run(r.Context(), pipeline.Request{
		Query:     strings.TrimSpace(req.Query),
		SessionID: req.SessionID,
		FastMode:  req.FastMode,
		Deadline:  time.Duration(req.DeadlineSeconds) * time.Second,
		Persist:   true,
		Save:      req.Save,
	})
	if err != nil {
		// The pipeline degrades internally; an error here is unexpected.
		s.logger.Error("Plan request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, planResponse{
		Markdown:       res.Markdown,
		SessionID:      res.SessionID,
		Route:          string(res.Route),
		ElapsedSeconds: res.Elapsed.Seconds(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListSessions(r.Context(), 50)
	if err != nil {
		s.logger.Error("Session listing failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
