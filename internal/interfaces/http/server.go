// Package http exposes the automation surface: scan, trade, positions,
// scheduler and rate-limit control, backtests, metrics, and the websocket
// notification stream. Every endpoint is single request/response JSON.
package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/EnragedAntelope/autotrader-sub001/internal/backtest"
	"github.com/EnragedAntelope/autotrader-sub001/internal/metrics"
	"github.com/EnragedAntelope/autotrader-sub001/internal/monitor"
	"github.com/EnragedAntelope/autotrader-sub001/internal/notify"
	"github.com/EnragedAntelope/autotrader-sub001/internal/orders"
	"github.com/EnragedAntelope/autotrader-sub001/internal/persistence"
	"github.com/EnragedAntelope/autotrader-sub001/internal/ratelimit"
	"github.com/EnragedAntelope/autotrader-sub001/internal/scheduler"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig binds to localhost only.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "127.0.0.1:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Deps are the collaborators the API fronts.
type Deps struct {
	Store       *persistence.Store
	Executor    *orders.Executor
	Monitor     *monitor.Monitor
	Scheduler   *scheduler.Scheduler
	Budget      *ratelimit.Budget
	Backtest    *backtest.Engine
	Metrics     *metrics.Registry
	Hub         *notify.Hub
	TradingMode string
}

// Server is the mux-routed API server.
type Server struct {
	router *mux.Router
	server *http.Server
	deps   Deps
	config ServerConfig
}

// NewServer builds the router and wires all routes.
func NewServer(config ServerConfig, deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: config,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/trade", s.handleTrade).Methods("POST")
	api.HandleFunc("/positions", s.handlePositions).Methods("GET")
	api.HandleFunc("/positions/{symbol}/close", s.handleClosePosition).Methods("POST")
	api.HandleFunc("/scheduler/start", s.handleSchedulerStart).Methods("POST")
	api.HandleFunc("/scheduler/stop", s.handleSchedulerStop).Methods("POST")
	api.HandleFunc("/scheduler/status", s.handleSchedulerStatus).Methods("GET")
	api.HandleFunc("/ratelimit", s.handleRateStatus).Methods("GET")
	api.HandleFunc("/ratelimit/{provider}", s.handleRateUpdate).Methods("PUT")
	api.HandleFunc("/backtest", s.handleBacktest).Methods("POST")

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}
	if s.deps.Hub != nil {
		s.router.HandleFunc("/ws", s.handleWS).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// Local UI only: allow localhost origins, nothing else.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
