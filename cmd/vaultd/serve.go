package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zeeeepa/attune-ai-sub002/internal/config"
	"github.com/Zeeeepa/attune-ai-sub002/internal/mgmt"
	"github.com/Zeeeepa/attune-ai-sub002/internal/observability"
	"github.com/Zeeeepa/attune-ai-sub002/internal/session"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory service with the management HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newCommandLogger(cfg)

	provider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := observability.ShutdownTracing(shutdownCtx, provider); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
	}()

	var tracer trace.Tracer
	if cfg.Tracing.Enabled {
		tracer = provider.Tracer("vaultd")
	}

	s, err := buildStack(ctx, cfg, logger, tracer)
	if err != nil {
		return err
	}
	defer s.Close()

	coordinator := session.NewCoordinator(s.sub, s.short, s.auditor, logger)
	coordinator.Start(cfg.Session.ReapInterval)
	defer coordinator.Stop()

	logger.Info("vaultd started",
		"substrate_degraded", s.degraded,
		"vault_path", cfg.Vault.Path,
		"audit_path", cfg.Audit.Path)

	if !cfg.Server.Enabled {
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	}

	tokens, err := mgmt.NewTokenAuthority([]byte(cfg.Server.TokenSecret), cfg.Server.TokenTTL)
	if err != nil {
		return err
	}
	handler := mgmt.NewServer(s.service, tokens, mgmt.ServerConfig{
		RatePerSecond: cfg.Server.RatePerSecond,
		RateBurst:     cfg.Server.RateBurst,
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("management API listening", "addr", cfg.Server.ListenAddress)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("management API failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("management API shutdown failed: %w", err)
	}
	return nil
}

// newLoggerTo builds the redacting slog logger from logging config.
func newLoggerTo(w io.Writer, cfg *config.Config) *slog.Logger {
	return observability.NewLogger(w, observability.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
}
