// Package http provides the read-only admin endpoint of an osyncq process.
//
// Routes (Go 1.22+ method-qualified patterns):
//
//	GET    /health
//	GET    /metrics
//	GET    /api/channels
//	GET    /api/channels/{name}
//	GET    /api/journal?limit=N
//	GET    /api/journal/{key}
//	GET    /ws
package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/snehjoshi/osyncq/internal/broker"
	"github.com/snehjoshi/osyncq/internal/config"
	"github.com/snehjoshi/osyncq/internal/journal"
	"github.com/snehjoshi/osyncq/internal/metrics"
	transportws "github.com/snehjoshi/osyncq/internal/transport/websocket"
)

// Server wraps the stdlib HTTP server with osyncq route wiring.
type Server struct {
	inner *http.Server
}

// New builds a Server around a Broker. j, hub and reg may be nil; their
// routes then answer 404. The caller is responsible for calling
// ListenAndServe / Shutdown.
func New(b *broker.Broker, j *journal.Journal, hub *transportws.Hub, reg *metrics.Registry, cfg config.AdminConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	h := &Handler{broker: b, journal: j}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)

	mux.HandleFunc("GET /api/channels", h.listChannels)
	mux.HandleFunc("GET /api/channels/{name}", h.getChannel)

	if j != nil {
		mux.HandleFunc("GET /api/journal", h.recentJournal)
		mux.HandleFunc("GET /api/journal/{key}", h.getJournalEntry)
	}

	if hub != nil {
		mux.Handle("GET /ws", hub)
	}

	// Metrics (Prometheus text format)
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
	}

	handler := chain(mux,
		LoggingMiddleware(log, reg),
		RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	return &Server{
		inner: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			ErrorLog:     slog.NewLogLogger(log.Handler(), slog.LevelWarn),
		},
	}
}

// Handler returns the composed http.Handler (useful for testing).
func (s *Server) Handler() http.Handler { return s.inner.Handler }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.inner.Addr }

// ListenAndServe starts the server on the configured address. It returns
// when the server stops or encounters an error.
func (s *Server) ListenAndServe() error {
	return s.inner.ListenAndServe()
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	return s.inner.Serve(l)
}

// Shutdown gracefully stops the server, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
