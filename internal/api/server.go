package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dcbridge/dcbridge/internal/chat"
	"github.com/dcbridge/dcbridge/internal/config"
	"github.com/dcbridge/dcbridge/internal/log"
	"github.com/dcbridge/dcbridge/internal/mcp"
)

const (
	// shutdownTimeout is the maximum time to wait for graceful shutdown.
	shutdownTimeout = 10 * time.Second

	// readHeaderTimeout prevents Slowloris-style header trickling.
	readHeaderTimeout = 10 * time.Second

	// readTimeout is the maximum duration for reading the entire request.
	readTimeout = 30 * time.Second

	// idleTimeout applies between keep-alive requests.
	idleTimeout = 120 * time.Second
)

// ChatRunner is the slice of the orchestrator the gateway needs.
// *chat.Orchestrator satisfies it.
type ChatRunner interface {
	Run(ctx context.Context, in chat.Input, emit chat.StreamFunc) (*chat.Output, error)
}

// ServerConfig contains configuration for creating the gateway server.
type ServerConfig struct {
	Logger  log.Logger
	Session *mcp.Session   // Required
	Chat    ChatRunner     // Optional: nil disables chat endpoints
	Config  *config.Config // Required: exposed read-only via /config

	CORSOrigins []string // Allowed origins; empty or "*" allows all
	RateBurst   int      // Rate limiter burst size per IP (0 = default 60)
}

// Server is the gateway HTTP server.
type Server struct {
	handler http.Handler
	logger  log.Logger
}

// NewServer creates a gateway server with all routes and middleware
// configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Session == nil {
		return nil, errors.New("provider session is required")
	}
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	hh := &healthHandler{session: cfg.Session, cfg: cfg.Config}
	th := &toolsHandler{session: cfg.Session, logger: logger}
	ch := &chatHandler{runner: cfg.Chat, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", hh.handleHealth)
	mux.HandleFunc("GET /config", hh.handleConfig)
	mux.HandleFunc("GET /tools", th.handleList)
	mux.HandleFunc("POST /call", th.handleCall)
	mux.HandleFunc("POST /chat", ch.handleSend)
	mux.HandleFunc("POST /chat/stream", ch.handleStream)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID must be before Logging so request_id is available in log
	// attributes. CORS must be before RateLimit so a throttled browser
	// still gets CORS headers on the 429.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	return &Server{handler: handler, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		// No WriteTimeout: /chat/stream holds the connection open for as
		// long as the orchestration runs.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
