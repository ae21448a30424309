// Package http exposes the decision pipeline over a small JSON API:
// signal ingestion, outcome settlement, source administration and the
// read-side queries, plus health and Prometheus metrics.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/pulsearb/pulsearb/internal/application"
	"github.com/pulsearb/pulsearb/internal/application/pipeline"
	"github.com/pulsearb/pulsearb/internal/infrastructure/metrics"
)

// Server is the HTTP front of the pipeline.
type Server struct {
	router *mux.Router
	server *http.Server
	config application.ServerConfig
}

// NewServer wires the routes onto the pipeline.
func NewServer(config application.ServerConfig, p *pipeline.Pipeline, m *metrics.Registry) *Server {
	router := mux.NewRouter()
	s := &Server{
		router: router,
		config: config,
	}

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)

	h := &handlers{pipeline: p}
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(m.Prometheus(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	router.HandleFunc("/signals", h.ingestSignal).Methods(http.MethodPost)
	router.HandleFunc("/outcomes", h.recordOutcome).Methods(http.MethodPost)
	router.HandleFunc("/decisions/recent", h.recentDecisions).Methods(http.MethodGet)
	router.HandleFunc("/sources/top", h.topSources).Methods(http.MethodGet)
	router.HandleFunc("/sources/{type}/{id}/blacklist", h.blacklistSource).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
