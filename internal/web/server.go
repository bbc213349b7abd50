// Package web exposes the voice assistant over HTTP: a WebSocket endpoint
// streaming microphone audio in and status, transcript, token, and
// synthesized-audio events out, plus small JSON APIs for voices, memories,
// and health.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/rg1989/local-ai-voice-chat/internal/health"
	"github.com/rg1989/local-ai-voice-chat/internal/observe"
	"github.com/rg1989/local-ai-voice-chat/internal/session"
)

// shutdownTimeout bounds graceful shutdown after the run context ends.
const shutdownTimeout = 10 * time.Second

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// StaticDir, when set, is served at the root path for the browser client.
	StaticDir string

	// AllowedOrigins are origin patterns accepted for WebSocket upgrades.
	// Empty means same-origin only.
	AllowedOrigins []string
}

// Server serves the web interface and APIs for a [session.Manager].
type Server struct {
	cfg      Config
	sessions *session.Manager
	health   *health.Handler
	metrics  *observe.Metrics
}

// NewServer creates a Server. The health handler and metrics are optional.
func NewServer(cfg Config, sessions *session.Manager, h *health.Handler, m *observe.Metrics) (*Server, error) {
	if sessions == nil {
		return nil, fmt.Errorf("web: session manager is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if h == nil {
		h = health.New()
	}
	return &Server{cfg: cfg, sessions: sessions, health: h, metrics: m}, nil
}

// Handler builds the route table. Exposed separately from [Server.Run] so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/chat", s.handleChat)
	mux.HandleFunc("GET /api/voices", s.handleVoices)
	mux.HandleFunc("GET /api/memories", s.handleListMemories)
	mux.HandleFunc("POST /api/memories", s.handleCreateMemory)
	mux.HandleFunc("DELETE /api/memories/{id}", s.handleDeleteMemory)
	mux.HandleFunc("GET /api/health", s.health.Readyz)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	if s.cfg.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(s.cfg.StaticDir)))
	}

	var handler http.Handler = mux
	if s.metrics != nil {
		handler = observe.Middleware(s.metrics)(mux)
	}
	return handler
}

// Run serves until ctx is cancelled, then shuts down gracefully. In-flight
// WebSocket sessions are torn down by their per-connection contexts.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("web server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// handleVoices lists the voices the TTS backend offers.
func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := s.sessions.Voices(r.Context())
	if err != nil {
		slog.Error("listing voices failed", "error", err)
		http.Error(w, `{"error":"tts backend unavailable"}`, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "error", err)
	}
}
