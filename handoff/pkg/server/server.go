// Package server exposes a handoff store over HTTP so a browser view on
// another origin can consume the prefilled query.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/malbeclabs/pulse/handoff/pkg/handoff"
	"github.com/malbeclabs/pulse/utils/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 1 << 20

// pinger is implemented by stores backed by a remote database.
type pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	log     *slog.Logger
	cfg     Config
	router  *chi.Mux
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    cfg.Logger,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupRoutes()

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		MaxHeaderBytes:    1 << 20,
	}
	return s, nil
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeText(w, http.StatusOK, "ok\n")
	})
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
	})
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/handoff/{key}", func(r chi.Router) {
		r.Use(metrics.Middleware)
		r.Get("/", s.handleGet)
		r.Put("/", s.handleSet)
		r.Delete("/", s.handleClear)
		r.Post("/take", s.handleTake)
	})
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

type valueResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type setRequest struct {
	Value string `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok, err := s.cfg.Store.Get(r.Context(), key)
	s.writeValue(w, key, value, ok, err)
}

func (s *Server) handleTake(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	value, ok, err := handoff.TakeKey(r.Context(), s.cfg.Store, key)
	s.writeValue(w, key, value, ok, err)
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req setRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Value == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: handoff.ErrEmptyValue.Error()})
		return
	}
	if err := s.cfg.Store.Set(r.Context(), key, req.Value); err != nil {
		s.writeStoreError(w, "set", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := s.cfg.Store.Clear(r.Context(), key); err != nil {
		s.writeStoreError(w, "clear", key, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.cfg.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			s.log.Debug("readyz: store not reachable", "error", err)
			s.writeText(w, http.StatusServiceUnavailable, "store not ready\n")
			return
		}
	}
	s.writeText(w, http.StatusOK, "ok\n")
}

func (s *Server) writeValue(w http.ResponseWriter, key, value string, ok bool, err error) {
	if err != nil {
		s.writeStoreError(w, "get", key, err)
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, valueResponse{Key: key, Value: value})
}

func (s *Server) writeStoreError(w http.ResponseWriter, op, key string, err error) {
	if errors.Is(err, handoff.ErrEmptyKey) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.log.Error("handoff store error", "operation", op, "key", key, "error", err)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

func (s *Server) writeText(w http.ResponseWriter, status int, body string) {
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}
