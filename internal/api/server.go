// Package api exposes the operational HTTP surface: health, status,
// and a manual summary trigger.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kavehm/digestbot/internal/ollama"
	"github.com/kavehm/digestbot/internal/scheduler"
	"github.com/kavehm/digestbot/internal/store"
	"github.com/kavehm/digestbot/internal/summarizer"
)

// Pipeline is the digest pipeline entry point.
type Pipeline interface {
	Run(ctx context.Context, start, end time.Time, kind summarizer.Kind) (summarizer.Outcome, error)
	LastRun() (time.Time, ollama.Source, bool)
}

type Server struct {
	router   *chi.Mux
	port     int
	store    store.Store
	pipeline Pipeline
	loc      *time.Location
	logger   *slog.Logger

	// baseCtx bounds triggered pipeline runs. Runs outlive the
	// triggering request: a client disconnect must not cancel
	// generation or the chat fan-out.
	baseCtx context.Context

	httpServer *http.Server
}

func NewServer(ctx context.Context, port int, apiToken string, st store.Store, pipeline Pipeline, loc *time.Location, logger *slog.Logger) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		store:    st,
		pipeline: pipeline,
		loc:      loc,
		logger:   logger,
		baseCtx:  ctx,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		if apiToken != "" {
			r.Use(BearerAuthMiddleware(apiToken))
		}
		r.Get("/status", s.status)
		r.Post("/summary", s.triggerSummary)
	})

	return s
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Messages   int    `json:"messages"`
	LastRun    string `json:"last_run,omitempty"`
	LastSource string `json:"last_source,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count messages", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}

	resp := statusResponse{Messages: count}
	if at, source, ok := s.pipeline.LastRun(); ok {
		resp.LastRun = at.Format(time.RFC3339)
		resp.LastSource = string(source)
	}
	writeJSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	Text         string `json:"text"`
	Source       string `json:"source,omitempty"`
	MessageCount int    `json:"message_count"`
}

// triggerSummary runs the manual pipeline over the trailing 24 hours.
// The digest still fans out to the configured chat destinations; the
// response carries the same text for the caller. The run uses the
// server's base context, not the request's.
func (s *Server) triggerSummary(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(s.loc)
	out, err := s.pipeline.Run(s.baseCtx, now.Add(-scheduler.Window), now, summarizer.KindManual)
	switch {
	case errors.Is(err, summarizer.ErrBusy):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a summary run is already in progress"})
		return
	case errors.Is(err, summarizer.ErrNoMessages):
		writeJSON(w, http.StatusOK, summaryResponse{Text: out.Text})
		return
	case err != nil:
		s.logger.Error("manual summary failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "summary failed"})
		return
	}

	writeJSON(w, http.StatusOK, summaryResponse{
		Text:         out.Text,
		Source:       string(out.Source),
		MessageCount: out.MessageCount,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
