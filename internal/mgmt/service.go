// Package mgmt is the operator-facing management surface: status,
// statistics, pattern listing/export/deletion, and the health check. It is
// reachable directly and over HTTP; either way it never echoes raw secret
// or PII detections, only classification labels and counts.
package mgmt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zeeeepa/attune-ai-sub002/internal/access"
	"github.com/Zeeeepa/attune-ai-sub002/internal/audit"
	"github.com/Zeeeepa/attune-ai-sub002/internal/crypto"
	"github.com/Zeeeepa/attune-ai-sub002/internal/longterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

// Status is the substrate and vault overview.
type Status struct {
	SubstrateMode      string           `json:"substrate_mode"`
	SubstrateReachable bool             `json:"substrate_reachable"`
	PatternCounts      map[string]int64 `json:"pattern_counts"`
	AuditEvents        int64            `json:"audit_events"`
	CheckedAt          time.Time        `json:"checked_at"`
}

// Statistics is the capacity and usage overview.
type Statistics struct {
	ShortTermCounts  map[shortterm.TTLClass]int64 `json:"short_term_counts"`
	SubstrateLatency time.Duration                `json:"substrate_latency_ns"`
	StorageBytes     int64                        `json:"storage_bytes"`
	PatternCounts    map[string]int64             `json:"pattern_counts"`
	StagedByAgent    map[string]int               `json:"staged_by_agent"`
}

// PatternSummary is the metadata-only view of a vault row; content never
// appears here regardless of classification.
type PatternSummary struct {
	PatternID      types.ID             `json:"pattern_id"`
	Version        int                  `json:"version"`
	Classification types.Classification `json:"classification"`
	PatternType    string               `json:"pattern_type"`
	Name           string               `json:"name"`
	Confidence     float64              `json:"confidence"`
	PromotedBy     string               `json:"promoted_by"`
	PromotedAt     time.Time            `json:"promoted_at"`
	Encrypted      bool                 `json:"encrypted"`
}

// ExportedPattern is one record in an export bundle. Content is present
// only when the classification permits it (or a steward override decrypted
// a sensitive row).
type ExportedPattern struct {
	PatternSummary
	Content string `json:"content,omitempty"`
}

// ExportBundle is the JSON document handed to an exporter.
type ExportBundle struct {
	ExportedAt time.Time         `json:"exported_at"`
	Filter     string            `json:"filter"`
	Patterns   []ExportedPattern `json:"patterns"`
}

// ExportRequest narrows and shapes an export.
type ExportRequest struct {
	Classification *types.Classification
	PatternType    string
	// IncludeSensitive decrypts SENSITIVE rows into the bundle. Requires
	// steward tier; without it sensitive rows export metadata only.
	IncludeSensitive bool
}

// Facade is the slice of the memory facade the management service drives.
// Both the plain facade and its traced wrapper satisfy it.
type Facade interface {
	DeletePattern(ctx context.Context, cred types.AgentCredential, id types.ID) error
}

// Service implements the management surface over the same components the
// facade uses. All reads go straight to the stores; mutations go through
// the facade so they stay gated and audited.
type Service struct {
	mem       Facade
	short     *shortterm.Store
	vault     *longterm.Store
	auditor   *audit.Logger
	gate      *access.Controller
	encryptor crypto.Encryptor
	logger    *slog.Logger
	clock     func() time.Time
}

// NewService creates the management service.
func NewService(mem Facade, short *shortterm.Store, vault *longterm.Store, auditor *audit.Logger, gate *access.Controller, encryptor crypto.Encryptor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		mem:       mem,
		short:     short,
		vault:     vault,
		auditor:   auditor,
		gate:      gate,
		encryptor: encryptor,
		logger:    logger,
		clock:     time.Now,
	}
}

// WithClock replaces the service's time source for deterministic tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Status reports substrate mode and pattern counts by classification.
func (s *Service) Status(ctx context.Context) (Status, error) {
	mode := "redis"
	if s.short.Degraded() {
		mode = "local-fallback"
	}
	reachable := s.short.Ping(ctx) == nil

	counts, err := s.vault.CountByClass(ctx)
	if err != nil {
		return Status{}, err
	}
	auditCount, err := s.auditor.Count(ctx)
	if err != nil {
		return Status{}, err
	}

	return Status{
		SubstrateMode:      mode,
		SubstrateReachable: reachable,
		PatternCounts:      classCounts(counts),
		AuditEvents:        auditCount,
		CheckedAt:          s.clock().UTC(),
	}, nil
}

// Statistics reports per-TTL-class key counts, substrate latency, vault
// storage bytes, and per-agent staging counts.
func (s *Service) Statistics(ctx context.Context) (Statistics, error) {
	counts, err := s.short.Counts(ctx)
	if err != nil {
		return Statistics{}, err
	}

	pingStart := s.clock()
	pingErr := s.short.Ping(ctx)
	latency := s.clock().Sub(pingStart)
	if pingErr != nil {
		latency = -1
	}

	bytes, err := s.vault.StorageBytes(ctx)
	if err != nil {
		return Statistics{}, err
	}
	patterns, err := s.vault.CountByClass(ctx)
	if err != nil {
		return Statistics{}, err
	}

	staged, err := s.short.ListStaged(ctx, shortterm.StagedFilter{})
	if err != nil {
		return Statistics{}, err
	}
	byAgent := make(map[string]int)
	for _, pattern := range staged {
		byAgent[pattern.AgentID]++
	}

	return Statistics{
		ShortTermCounts:  counts,
		SubstrateLatency: latency,
		StorageBytes:     bytes,
		PatternCounts:    classCounts(patterns),
		StagedByAgent:    byAgent,
	}, nil
}

// ListPatterns returns metadata-only summaries of vault rows, optionally
// filtered by classification and type.
func (s *Service) ListPatterns(ctx context.Context, filter longterm.ListFilter) ([]PatternSummary, error) {
	rows, err := s.vault.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]PatternSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, summarize(row))
	}
	return summaries, nil
}

// ExportPatterns builds an export bundle. Content is included for rows at
// or below INTERNAL; SENSITIVE rows export metadata only unless the caller
// holds steward tier and explicitly asked for sensitive content, which is
// separately gated and audited.
func (s *Service) ExportPatterns(ctx context.Context, cred types.AgentCredential, req ExportRequest) (ExportBundle, error) {
	if err := s.gate.Authorize(cred, access.OpRecall); err != nil {
		return ExportBundle{}, err
	}
	if req.IncludeSensitive {
		if err := s.gate.Authorize(cred, access.OpExportSecret); err != nil {
			return ExportBundle{}, err
		}
	}

	rows, err := s.vault.List(ctx, longterm.ListFilter{
		Classification: req.Classification,
		PatternType:    req.PatternType,
	})
	if err != nil {
		return ExportBundle{}, err
	}

	bundle := ExportBundle{
		ExportedAt: s.clock().UTC(),
		Filter:     filterLabel(req),
		Patterns:   make([]ExportedPattern, 0, len(rows)),
	}

	for _, row := range rows {
		exported := ExportedPattern{PatternSummary: summarize(row)}
		switch {
		case row.Encrypted == nil:
			exported.Content = row.Content
		case req.IncludeSensitive:
			plaintext, err := s.encryptor.Decrypt(*row.Encrypted)
			if err != nil {
				return ExportBundle{}, err
			}
			exported.Content = string(plaintext)
		}
		bundle.Patterns = append(bundle.Patterns, exported)
	}

	if _, err := s.auditor.Append(ctx, cred.AgentID, audit.ActionExport, filterLabel(req),
		map[string]string{
			"patterns":          fmt.Sprint(len(bundle.Patterns)),
			"include_sensitive": fmt.Sprint(req.IncludeSensitive),
		}); err != nil {
		return ExportBundle{}, err
	}
	return bundle, nil
}

// DeletePattern removes a pattern through the facade, keeping the steward
// gate and the audit entry.
func (s *Service) DeletePattern(ctx context.Context, cred types.AgentCredential, id types.ID) error {
	return s.mem.DeletePattern(ctx, cred, id)
}

// VerifyAuditChain recomputes the full audit chain.
func (s *Service) VerifyAuditChain(ctx context.Context) (bool, int64, error) {
	return s.auditor.VerifyAll(ctx)
}

// HealthCheck evaluates every component and merges the results. An
// unencrypted SENSITIVE row, a broken audit chain, or failing audit writes
// are hard failures; running on the fallback substrate is degradation, not
// failure.
func (s *Service) HealthCheck(ctx context.Context) types.HealthStatus {
	var statuses []types.HealthStatus

	unencrypted, err := s.vault.UnencryptedSensitive(ctx)
	switch {
	case err != nil:
		statuses = append(statuses, types.Unhealthy("pattern vault scan failed: "+err.Error(),
			"check the vault database file and its permissions"))
	case len(unencrypted) > 0:
		statuses = append(statuses, types.Unhealthy(
			fmt.Sprintf("%d sensitive patterns stored unencrypted", len(unencrypted)),
			"re-persist the affected patterns so they are encrypted",
			"rotate the encryption key if exposure is suspected"))
	}

	valid, broken, err := s.auditor.VerifyAll(ctx)
	switch {
	case err != nil:
		statuses = append(statuses, types.Unhealthy("audit chain verification failed: "+err.Error(),
			"check the audit database file"))
	case !valid:
		statuses = append(statuses, types.Unhealthy(
			fmt.Sprintf("audit chain broken at sequence %d", broken),
			"the log shows evidence of tampering; preserve it and investigate",
			"restore the audit store from a trusted backup"))
	}

	if failures := s.auditor.FailureCount(); failures > 0 {
		statuses = append(statuses, types.Unhealthy(
			fmt.Sprintf("%d audit appends have failed since startup", failures),
			"mutations are being rejected until audit writes recover",
			"check audit store disk space and permissions"))
	}

	if err := s.vault.Ping(ctx); err != nil {
		statuses = append(statuses, types.Unhealthy("pattern vault unreachable: "+err.Error(),
			"check the vault database file"))
	}

	if s.short.Degraded() {
		statuses = append(statuses, types.Degraded(
			"running on the in-process fallback substrate",
			"signals and staged-pattern listing have single-process scope",
			"restore the cache service and restart to regain cross-process coordination"))
	} else if err := s.short.Ping(ctx); err != nil {
		statuses = append(statuses, types.Degraded("cache substrate unreachable: "+err.Error(),
			"check cache service connectivity"))
	}

	if len(statuses) == 0 {
		return types.Healthy("all components healthy")
	}
	return types.WorstOf(statuses...)
}

func summarize(row longterm.SecurePattern) PatternSummary {
	return PatternSummary{
		PatternID:      row.PatternID,
		Version:        row.Version,
		Classification: row.Classification,
		PatternType:    row.PatternType,
		Name:           row.Name,
		Confidence:     row.Confidence,
		PromotedBy:     row.PromotedBy,
		PromotedAt:     row.PromotedAt,
		Encrypted:      row.Encrypted != nil,
	}
}

func classCounts(counts map[types.Classification]int64) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for class, count := range counts {
		out[class.String()] = count
	}
	return out
}

func filterLabel(req ExportRequest) string {
	label := "all"
	if req.Classification != nil {
		label = req.Classification.String()
	}
	if req.PatternType != "" {
		label += ":" + req.PatternType
	}
	return label
}
