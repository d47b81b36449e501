// Package session tracks live agent sessions via heartbeat and reclaims
// staged work from sessions that stopped beating, so a crashed agent cannot
// permanently orphan its staged patterns.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Zeeeepa/attune-ai-sub002/internal/audit"
	"github.com/Zeeeepa/attune-ai-sub002/internal/shortterm"
	"github.com/Zeeeepa/attune-ai-sub002/internal/substrate"
	"github.com/Zeeeepa/attune-ai-sub002/internal/types"
)

const nsSessionInfo = "st:session:info:"

// ReclaimedOwner is the author recorded on staged patterns released from an
// abandoned session, signalling any validator may act on them.
const ReclaimedOwner = "unclaimed"

// SessionInfo describes one registered agent session.
type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	AgentID       string    `json:"agent_id"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Coordinator registers sessions, tracks heartbeats, and runs the periodic
// reaper. Session records are kept at 4x the session TTL, well past the 2x
// abandonment threshold, so the reaper can observe a session that merely
// stopped beating, distinguish it from one that never existed, and audit
// the reclaim. The reaper deletes the record once it has reclaimed the
// session's staged work.
type Coordinator struct {
	sub        substrate.Substrate
	store      *shortterm.Store
	auditor    *audit.Logger
	logger     *slog.Logger
	sessionTTL time.Duration
	clock      func() time.Time

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(sub substrate.Substrate, store *shortterm.Store, auditor *audit.Logger, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		sub:        sub,
		store:      store,
		auditor:    auditor,
		logger:     logger,
		sessionTTL: store.TTL().Session,
		clock:      time.Now,
	}
}

// WithClock replaces the coordinator's time source for deterministic tests.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// RegisterSession records a new live session.
func (c *Coordinator) RegisterSession(ctx context.Context, sessionID, agentID string) (SessionInfo, error) {
	if sessionID == "" || agentID == "" {
		return SessionInfo{}, fmt.Errorf("session registration requires session and agent IDs")
	}

	now := c.clock().UTC()
	info := SessionInfo{
		SessionID:     sessionID,
		AgentID:       agentID,
		StartedAt:     now,
		LastHeartbeat: now,
	}

	if err := c.writeInfo(ctx, info); err != nil {
		return SessionInfo{}, err
	}
	return info, nil
}

// Heartbeat refreshes a session's liveness window.
func (c *Coordinator) Heartbeat(ctx context.Context, sessionID string) error {
	info, found, err := c.readInfo(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return types.NewError(types.SESSION_NOT_FOUND,
			fmt.Sprintf("session %s is not registered (expired or never registered)", sessionID))
	}

	info.LastHeartbeat = c.clock().UTC()
	return c.writeInfo(ctx, info)
}

// ListActiveSessions returns sessions whose last heartbeat is within the
// session TTL window.
func (c *Coordinator) ListActiveSessions(ctx context.Context) ([]SessionInfo, error) {
	all, err := c.listSessions(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := c.clock().UTC().Add(-c.sessionTTL)
	active := make([]SessionInfo, 0, len(all))
	for _, info := range all {
		if info.LastHeartbeat.After(cutoff) {
			active = append(active, info)
		}
	}
	return active, nil
}

// ReapAbandoned finds sessions silent for at least twice the session TTL,
// releases ownership of their unpromoted staged patterns, and removes the
// session records. Every reclaim writes one audit entry. It returns the
// reclaimed pattern IDs.
func (c *Coordinator) ReapAbandoned(ctx context.Context) ([]types.ID, error) {
	all, err := c.listSessions(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := c.clock().UTC().Add(-2 * c.sessionTTL)
	var reclaimed []types.ID

	for _, info := range all {
		if info.LastHeartbeat.After(cutoff) {
			continue
		}

		ids, err := c.store.StagedBySession(ctx, info.SessionID)
		if err != nil {
			return reclaimed, err
		}

		for _, id := range ids {
			if err := c.store.ReassignStaged(ctx, id, ReclaimedOwner); err != nil {
				if types.IsCode(err, types.PATTERN_NOT_STAGED) {
					// The staged key already expired; the expiry watcher will
					// audit it. Nothing to release.
					continue
				}
				return reclaimed, err
			}

			if _, err := c.auditor.Append(ctx, "coordinator", audit.ActionReclaim, id.String(),
				map[string]string{
					"session_id":     info.SessionID,
					"previous_owner": info.AgentID,
				}); err != nil {
				// Reclaim without audit is not acceptable; put ownership back.
				if restoreErr := c.store.ReassignStaged(ctx, id, info.AgentID); restoreErr != nil {
					c.logger.Error("failed to restore ownership after audit failure",
						"pattern_id", id, "error", restoreErr)
				}
				return reclaimed, err
			}
			reclaimed = append(reclaimed, id)
		}

		if _, err := c.auditor.Append(ctx, "coordinator", audit.ActionSessionReap, info.SessionID,
			map[string]string{"agent_id": info.AgentID, "reclaimed": fmt.Sprint(len(ids))}); err != nil {
			return reclaimed, err
		}

		if _, err := c.sub.Delete(ctx, nsSessionInfo+info.SessionID); err != nil {
			return reclaimed, err
		}

		c.logger.Info("reaped abandoned session",
			"session_id", info.SessionID, "agent_id", info.AgentID, "reclaimed", len(ids))
	}

	return reclaimed, nil
}

// AuditExpiredStaged records an audit entry for every staged pattern whose
// TTL ran out without promotion or rejection, then clears each from the
// staging index. Staged work never vanishes silently.
func (c *Coordinator) AuditExpiredStaged(ctx context.Context) (int, error) {
	expired, err := c.store.ExpiredStaged(ctx)
	if err != nil {
		return 0, err
	}

	audited := 0
	for id, pattern := range expired {
		if _, err := c.auditor.Append(ctx, "coordinator", audit.ActionExpire, id.String(),
			map[string]string{
				"agent_id":  pattern.AgentID,
				"name":      pattern.Name,
				"staged_at": pattern.StagedAt.UTC().Format(time.RFC3339),
			}); err != nil {
			// Leave the index entry in place so the next pass retries.
			return audited, err
		}
		if err := c.store.ClearStagedIndex(ctx, id); err != nil {
			return audited, err
		}
		audited++
	}
	return audited, nil
}

// Start launches the background loop: reap abandoned sessions, audit
// expired staged patterns, and sweep the local substrate if that is what we
// run on. The interval must not exceed half the session TTL; zero selects
// that maximum.
func (c *Coordinator) Start(interval time.Duration) {
	if interval <= 0 || interval > c.sessionTTL/2 {
		interval = c.sessionTTL / 2
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return // already running
	}
	c.stop = make(chan struct{})
	c.stopped = make(chan struct{})

	go c.run(interval, c.stop, c.stopped)
}

// Stop halts the background loop and waits for it to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	stop, stopped := c.stop, c.stopped
	c.stop, c.stopped = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
}

func (c *Coordinator) run(interval time.Duration, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			if _, err := c.ReapAbandoned(ctx); err != nil {
				c.logger.Error("session reap failed", "error", err)
			}
			if _, err := c.AuditExpiredStaged(ctx); err != nil {
				c.logger.Error("staged-expiry audit failed", "error", err)
			}
			if local, ok := c.sub.(*substrate.LocalSubstrate); ok {
				local.Sweep()
			}
			cancel()
		}
	}
}

func (c *Coordinator) writeInfo(ctx context.Context, info SessionInfo) error {
	encoded, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode session info: %w", err)
	}
	// Held well past the 2x abandonment threshold. A record that expired at
	// exactly 2x the TTL would vanish the moment it became reapable, and the
	// reaper would never see the session to reclaim its staged work.
	return c.sub.Set(ctx, nsSessionInfo+info.SessionID, encoded, 4*c.sessionTTL)
}

func (c *Coordinator) readInfo(ctx context.Context, sessionID string) (SessionInfo, bool, error) {
	raw, found, err := c.sub.Get(ctx, nsSessionInfo+sessionID)
	if err != nil || !found {
		return SessionInfo{}, false, err
	}

	var info SessionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return SessionInfo{}, false, fmt.Errorf("decode session info %s: %w", sessionID, err)
	}
	return info, true, nil
}

func (c *Coordinator) listSessions(ctx context.Context) ([]SessionInfo, error) {
	keys, err := c.sub.Keys(ctx, nsSessionInfo)
	if err != nil {
		return nil, err
	}

	sessions := make([]SessionInfo, 0, len(keys))
	for _, key := range keys {
		raw, found, err := c.sub.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}

		var info SessionInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, fmt.Errorf("decode session info at %s: %w", key, err)
		}
		sessions = append(sessions, info)
	}
	return sessions, nil
}
