package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/koromind/koro/internal/metrics"
	"github.com/koromind/koro/pkg/brain"
	"github.com/koromind/koro/pkg/state"
)

const secretHeader = "X-Koro-Secret"

// Server exposes the message pipeline and state store over a local HTTP
// API. Every /v1 route requires the shared secret header.
type Server struct {
	addr    string
	secret  string
	brain   *brain.Brain
	store   *state.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
	server  *http.Server
}

// Config wires a Server.
type Config struct {
	Host         string
	Port         int
	SharedSecret string
	Brain        *brain.Brain
	Store        *state.Store
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// NewServer creates an API server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("shared secret is required")
	}
	if cfg.Brain == nil {
		return nil, fmt.Errorf("brain is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return &Server{
		addr:    fmt.Sprintf("%s:%d", host, cfg.Port),
		secret:  cfg.SharedSecret,
		brain:   cfg.Brain,
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With().Str("component", "api").Logger(),
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.HandleFunc("/v1/messages", s.authed(s.handleMessages))
	mux.HandleFunc("/v1/sessions", s.authed(s.handleSessions))
	mux.HandleFunc("/v1/sessions/current", s.authed(s.handleCurrentSession))
	mux.HandleFunc("/v1/settings", s.authed(s.handleSettings))
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("starting API server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown API server: %w", err)
	}
	return nil
}

// authed enforces the shared secret before the wrapped handler runs.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := s.brain.Health(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
