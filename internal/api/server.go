package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/invincible-ocean/roboi-edge/internal/analytics"
	"github.com/invincible-ocean/roboi-edge/internal/config"
	"github.com/invincible-ocean/roboi-edge/internal/intake"
	"github.com/invincible-ocean/roboi-edge/internal/logging"
	"github.com/invincible-ocean/roboi-edge/internal/store"
)

// Server exposes the read-only HTTP API for the runtime: stored records,
// per-camera engine state, recorder status, recent logs and a websocket
// stream of live records.
type Server struct {
	cfg     *config.Store
	records *store.RecordStore
	engine  *analytics.Engine
	intake  *intake.Intake
	logs    *logging.RingBuffer
	hub     *Hub
	logger  *slog.Logger

	http *http.Server
}

// ServerOptions collects the server's dependencies.
type ServerOptions struct {
	Config  *config.Store
	Records *store.RecordStore
	Engine  *analytics.Engine
	Intake  *intake.Intake
	Logs    *logging.RingBuffer
	Hub     *Hub
}

// NewServer builds the server and its router.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		cfg:     opts.Config,
		records: opts.Records,
		engine:  opts.Engine,
		intake:  opts.Intake,
		logs:    opts.Logs,
		hub:     opts.Hub,
		logger:  slog.Default().With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/events", s.handleListEvents)
		r.Get("/events/{id}", s.handleGetEvent)
		r.Get("/status", s.handleStatus)
		r.Get("/site", s.handleSite)
		r.Get("/logs/recent", s.handleRecentLogs)
		if s.hub != nil {
			r.Get("/ws", s.hub.ServeHTTP)
		}
	})

	s.http = &http.Server{
		Addr:              opts.Config.Current().Server.APIAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOptions{
		CameraID: q.Get("camera_id"),
		Type:     q.Get("type"),
		Status:   q.Get("status"),
	}
	if v := q.Get("since"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "INVALID_SINCE", "since must be a unix timestamp")
			return
		}
		opts.Since = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "INVALID_UNTIL", "until must be a unix timestamp")
			return
		}
		opts.Until = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > store.MaxLimit {
			Error(w, http.StatusBadRequest, "INVALID_LIMIT",
				fmt.Sprintf("limit must be an integer between 0 and %d", store.MaxLimit))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer")
			return
		}
		opts.Offset = n
	}

	records, total, err := s.records.List(r.Context(), opts)
	if err != nil {
		s.logger.Error("Failed to list records", "error", err)
		Error(w, http.StatusInternalServerError, "LIST_FAILED", "failed to list records")
		return
	}
	// Report the limit the query actually ran with, not the raw parameter.
	JSONWithMeta(w, http.StatusOK, records, &Meta{
		Total:  total,
		Limit:  store.EffectiveLimit(opts.Limit),
		Offset: opts.Offset,
	})
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.records.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "NOT_FOUND", "record not found")
			return
		}
		s.logger.Error("Failed to load record", "id", id, "error", err)
		Error(w, http.StatusInternalServerError, "GET_FAILED", "failed to load record")
		return
	}
	JSON(w, http.StatusOK, rec)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"cameras": s.engine.Status(),
	}
	if s.intake != nil {
		resp["recorders"] = s.intake.RecorderStatus()
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}
	JSON(w, http.StatusOK, resp)
}

func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, s.cfg.Current().Site)
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	n := 100
	if v := r.URL.Query().Get("count"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 1000 {
			Error(w, http.StatusBadRequest, "INVALID_COUNT", "count must be between 1 and 1000")
			return
		}
		n = parsed
	}
	JSON(w, http.StatusOK, s.logs.Recent(n))
}
