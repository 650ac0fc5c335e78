// Package server exposes the memory service over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/substratelabs/mnemo/memory"
	"github.com/substratelabs/mnemo/observer"
)

// Server is the HTTP entry surface. Every route except /health requires the
// configured API key in the X-API-Key header.
type Server struct {
	service *memory.Service
	relay   *observer.Relay // nil when capture is disabled
	apiKey  string
	logger  zerolog.Logger
	httpSrv *http.Server
}

// New creates a Server listening on addr.
func New(addr, apiKey string, service *memory.Service, relay *observer.Relay, logger zerolog.Logger) *Server {
	s := &Server{
		service: service,
		relay:   relay,
		apiKey:  apiKey,
		logger:  logger.With().Str("component", "http_server").Logger(),
	}

	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)

	// Health stays reachable without credentials so probes work.
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.requireAPIKey)
	api.HandleFunc("/store", s.handleStore).Methods(http.MethodPost)
	api.HandleFunc("/search", s.handleSearch).Methods(http.MethodPost)
	api.HandleFunc("/recent", s.handleRecent).Methods(http.MethodGet)
	api.HandleFunc("/forget", s.handleForget).Methods(http.MethodPost)
	api.HandleFunc("/get/{id:[0-9]+}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/vectors", s.handleVectors).Methods(http.MethodGet)
	if relay != nil {
		api.HandleFunc("/observe", s.handleObserve).Methods(http.MethodPost)
		api.HandleFunc("/candidates", s.handleCandidates).Methods(http.MethodGet)
	}

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           handlers.RecoveryHandler(handlers.RecoveryLogger(&recoveryLogger{logger: s.logger}))(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("HTTP server listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-API-Key")
		if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type recoveryLogger struct {
	logger zerolog.Logger
}

func (l *recoveryLogger) Println(v ...interface{}) {
	l.logger.Error().Interface("panic", v).Msg("Handler panicked")
}
