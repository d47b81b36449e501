package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/trace"

	"github.com/Zeeeepa/attune-ai-sub002/internal/access"
	"github.com/Zeeeepa/attune-ai-sub002/internal/audit"
	"github.com/Zeeeepa/attune-ai-sub002/internal/config"
	"github.com/Zeeeepa/attune-ai-sub002/internal/crypto"
	"github.com/Zeeeepa/attune-ai-sub002/internal/longterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/memory"
	"github.com/Zeeeepa/attune-ai-sub002/internal/mgmt"
	"github.com/Zeeeepa/attune-ai-sub002/internal/scrub"
	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/substrate"
)

// stack is the assembled component graph every command runs on.
type stack struct {
	cfg       *config.Config
	logger    *slog.Logger
	sub       substrate.Substrate
	degraded  bool
	short     *shortterm.Store
	vault     *longterm.Store
	audit     *audit.SQLiteStore
	auditor   *audit.Logger
	gate      *access.Controller
	encryptor *crypto.Manager
	mem       *memory.UnifiedMemory
	service   *mgmt.Service
}

// buildStack wires config into the full component graph: substrate,
// short-term store, vault, audit log, key ring, facade, and management
// service. A non-nil tracer wraps the facade with span instrumentation.
// Callers own Close.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, tracer trace.Tracer) (*stack, error) {
	for _, path := range []string{cfg.Vault.Path, cfg.Audit.Path} {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
			}
		}
	}

	sub, degraded := substrate.Connect(ctx, cfg.Substrate.ToSubstrate(), logger)

	resolver := shortterm.NewResolver(cfg.Conflict.Policies(), nil)
	short := shortterm.NewStore(sub, cfg.TTL.ToShortTerm(), resolver, degraded)

	vault, err := longterm.Open(cfg.Vault.Path)
	if err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to open pattern vault: %w", err)
	}

	auditStore, err := audit.OpenSQLiteStore(cfg.Audit.Path)
	if err != nil {
		_ = vault.Close()
		_ = sub.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	classifier := scrub.NewDefaultClassifier()
	auditor := audit.NewLogger(auditStore, classifier.Redactor())

	ring, err := crypto.NewKeyRing(cfg.Security.ActiveKeyID, []byte(cfg.Security.MasterSecret))
	if err != nil {
		_ = auditStore.Close()
		_ = vault.Close()
		_ = sub.Close()
		return nil, fmt.Errorf("failed to derive encryption keys: %w", err)
	}
	encryptor := crypto.NewManager(ring)

	gate := access.NewController()
	mem, err := memory.New(memory.Deps{
		Gate:       gate,
		Short:      short,
		Vault:      vault,
		Classifier: classifier,
		Encryptor:  encryptor,
		Auditor:    auditor,
		Logger:     logger,
	})
	if err != nil {
		_ = auditStore.Close()
		_ = vault.Close()
		_ = sub.Close()
		return nil, err
	}

	var facade mgmt.Facade = mem
	if tracer != nil {
		facade = memory.NewTracedMemory(mem, tracer)
	}
	service := mgmt.NewService(facade, short, vault, auditor, gate, encryptor, logger)

	return &stack{
		cfg:       cfg,
		logger:    logger,
		sub:       sub,
		degraded:  degraded,
		short:     short,
		vault:     vault,
		audit:     auditStore,
		auditor:   auditor,
		gate:      gate,
		encryptor: encryptor,
		mem:       mem,
		service:   service,
	}, nil
}

// Close releases the stack's resources in reverse dependency order.
func (s *stack) Close() {
	if err := s.audit.Close(); err != nil {
		s.logger.Warn("failed to close audit store", "error", err)
	}
	if err := s.vault.Close(); err != nil {
		s.logger.Warn("failed to close pattern vault", "error", err)
	}
	if err := s.sub.Close(); err != nil {
		s.logger.Warn("failed to close substrate", "error", err)
	}
}

// newCommandLogger builds the process logger from config.
func newCommandLogger(cfg *config.Config) *slog.Logger {
	return newLoggerTo(os.Stderr, cfg)
}
