package background

import (
	"context"
	"log/slog"
	"time"
)

// SessionSweeper is the session-manager operation the cleanup loop drives.
type SessionSweeper interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CleanupManager periodically deletes expired refresh sessions. Revoked but
// unexpired rows are kept until expiry so audit queries can still see them.
type CleanupManager struct {
	sessions SessionSweeper
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(sessions SessionSweeper, logger *slog.Logger, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		sessions: sessions,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic cleanup task. A failed sweep is logged and
// retried on the next tick, never fatal to the process.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	// Run immediately on startup
	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("session cleanup stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("session cleanup context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := cm.sessions.CleanupExpired(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to delete expired sessions", slog.Any("error", err))
		return
	}

	if deleted > 0 {
		cm.logger.Info("expired session cleanup completed", slog.Int64("rows_deleted", deleted))
	}
}

// Stop signals the cleanup manager to stop
func (cm *CleanupManager) Stop() {
	close(cm.stopCh)
}
