package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dcbridge/dcbridge/internal/api"
	"github.com/dcbridge/dcbridge/internal/chat"
	"github.com/dcbridge/dcbridge/internal/config"
	"github.com/dcbridge/dcbridge/internal/mcp"
	"github.com/dcbridge/dcbridge/internal/observability"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve [addr]",
	Short: "Run the HTTP gateway",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (host:port), overrides DCBRIDGE_LISTEN_ADDR")
	rootCmd.AddCommand(serveCmd)
}

// tracingShutdownTimeout bounds the final span flush.
const tracingShutdownTimeout = 5 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.ListenAddr
	if len(args) > 0 {
		addr = args[0]
	}
	if serveAddr != "" {
		addr = serveAddr
	}
	if err := validateAddr(addr); err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}

	logger := newLogger()
	logger.Info("starting dcbridge", "version", AppVersion, "addr", addr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := observability.Setup(ctx, observability.Config{
		Endpoint: cfg.OTLPEndpoint,
		Version:  AppVersion,
		Logger:   logger,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), tracingShutdownTimeout)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace flush failed", "error", err)
		}
	}()

	session := mcp.NewSession(mcp.SessionConfig{
		BaseURL:       cfg.MCPBaseURL(),
		CallTimeout:   cfg.CallTimeout,
		HTTPClient:    &http.Client{},
		ClientName:    "dcbridge",
		ClientVersion: AppVersion,
		Logger:        logger,
	})
	defer session.Close()

	// Eager connect so the first request does not pay the handshake. A
	// provider that is down at startup is not fatal: the session retries
	// on first demand.
	if err := session.Connect(ctx); err != nil {
		logger.Warn("provider not ready at startup, will retry on demand",
			"provider", cfg.MCPBaseURL(), "error", err)
	}

	var runner api.ChatRunner
	if cfg.ChatEnabled() {
		model, err := chat.NewGoogleModel(ctx, cfg.GeminiAPIKey, cfg.ModelName)
		if err != nil {
			return fmt.Errorf("initializing model client: %w", err)
		}
		runner = chat.New(chat.Config{
			Model:            model,
			Tools:            session,
			MaxIterations:    cfg.MaxToolIterations,
			MaxDocumentBytes: cfg.MaxDocumentBytes,
			Logger:           logger,
		})
		logger.Info("chat enabled", "model", cfg.ModelName)
	} else {
		logger.Warn("GEMINI_API_KEY not set, chat endpoints disabled")
	}

	server, err := api.NewServer(api.ServerConfig{
		Logger:      logger,
		Session:     session,
		Chat:        runner,
		Config:      cfg,
		CORSOrigins: cfg.CORSOrigins,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return server.Run(ctx, addr)
}
