// Package services holds the queue manager facade, the single entry point
// the outer layers call for check-in and check-out.
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"schools-in/internal/cache"
	"schools-in/internal/models"
	"schools-in/internal/network"
	"schools-in/internal/queue"
	"schools-in/internal/remote"
	"schools-in/internal/syncer"
	"schools-in/internal/types"

	"github.com/sirupsen/logrus"
)

// CheckResult is the outcome of a check-in or check-out request. Offline
// means the action was deferred to the queue, not necessarily that the
// device is disconnected: a failed direct call while online also defers.
type CheckResult struct {
	Success   bool   `json:"success"`
	Offline   bool   `json:"offline,omitempty"`
	ActionID  string `json:"action_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// QueueManager wires the queue, cache, monitor and sync manager together
// behind one facade. All mutation of queued actions flows through here or
// the sync manager, never directly from callers.
type QueueManager struct {
	queue       *queue.Queue
	cache       *cache.Manager
	monitor     *network.Monitor
	syncManager *syncer.SyncManager
	restoration *syncer.RestorationManager
	client      *remote.Client
	cfg         types.SyncConfig

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueueManager creates the facade.
func NewQueueManager(
	q *queue.Queue,
	cacheManager *cache.Manager,
	monitor *network.Monitor,
	syncManager *syncer.SyncManager,
	restoration *syncer.RestorationManager,
	client *remote.Client,
	configManager types.ConfigManager,
) *QueueManager {
	return &QueueManager{
		queue:       q,
		cache:       cacheManager,
		monitor:     monitor,
		syncManager: syncManager,
		restoration: restoration,
		client:      client,
		cfg:         configManager.GetSyncConfig(),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the periodic auto-sync and cleanup loops.
func (m *QueueManager) Start() {
	m.wg.Add(2)
	go m.autoSyncLoop()
	go m.cleanupLoop()
	logrus.Debug("Queue manager started")
}

// Stop stops the periodic loops gracefully.
func (m *QueueManager) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Queue manager stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("Queue manager stop timed out.")
	}
}

// CheckIn attempts a direct check-in first and falls back to the queue.
// Permanent 4xx rejections fail fast: queueing a request the server will
// never accept only burns the retry budget and hides the error from the user.
func (m *QueueManager) CheckIn(ctx context.Context, schoolID, userID string, location models.Location) (*CheckResult, error) {
	payload := models.CheckInPayload{
		SchoolID: schoolID,
		UserID:   userID,
		Location: location,
	}

	if m.monitor.Status().IsOnline {
		sessionID, err := m.client.CreateSession(ctx, payload)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"school_id": schoolID,
				"user_id":   userID,
			}).Info("Check-in completed directly")
			return &CheckResult{Success: true, SessionID: sessionID}, nil
		}
		if remote.IsPermanentRejection(err) {
			return nil, err
		}
		logrus.WithError(err).Debug("Direct check-in failed, queueing")
	}

	action, err := m.queue.Enqueue(ctx, models.ActionCheckIn, payload, userID)
	if err != nil {
		return nil, fmt.Errorf("check-in could not be queued: %w", err)
	}
	return &CheckResult{Success: true, Offline: true, ActionID: action.ID}, nil
}

// CheckOut attempts a direct check-out first and falls back to the queue.
func (m *QueueManager) CheckOut(ctx context.Context, sessionID, userID string, location models.Location) (*CheckResult, error) {
	payload := models.CheckOutPayload{
		SessionID: sessionID,
		UserID:    userID,
		Location:  location,
	}

	if m.monitor.Status().IsOnline {
		id, err := m.client.CloseSession(ctx, payload)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"session_id": sessionID,
				"user_id":    userID,
			}).Info("Check-out completed directly")
			return &CheckResult{Success: true, SessionID: id}, nil
		}
		if remote.IsPermanentRejection(err) {
			return nil, err
		}
		logrus.WithError(err).Debug("Direct check-out failed, queueing")
	}

	action, err := m.queue.Enqueue(ctx, models.ActionCheckOut, payload, userID)
	if err != nil {
		return nil, fmt.Errorf("check-out could not be queued: %w", err)
	}
	return &CheckResult{Success: true, Offline: true, ActionID: action.ID}, nil
}

// SyncNow runs a sync round immediately. Returns (nil, nil) when a round is
// already in flight and forceSync is unset.
func (m *QueueManager) SyncNow(ctx context.Context, forceSync bool) (*models.SyncResult, error) {
	result, err := m.syncManager.Sync(ctx, m.monitor.Status(), forceSync)
	if err != nil {
		logrus.WithError(err).Warn("Manual sync failed")
	}
	return result, err
}

// GetStats returns queue statistics, optionally filtered by owner.
func (m *QueueManager) GetStats(ctx context.Context, userID string) (models.QueueStats, error) {
	return m.queue.GetStats(ctx, userID)
}

// GetPendingActions returns non-terminal actions, optionally filtered by owner.
func (m *QueueManager) GetPendingActions(ctx context.Context, userID string) ([]models.QueuedAction, error) {
	return m.queue.GetPendingActions(ctx, userID)
}

// CancelAction cancels a not-yet-synced action.
func (m *QueueManager) CancelAction(ctx context.Context, actionID string) (bool, error) {
	return m.queue.Cancel(ctx, actionID)
}

// RetryAction re-queues a failed action with a fresh retry budget.
func (m *QueueManager) RetryAction(ctx context.Context, actionID string) error {
	return m.queue.Retry(ctx, actionID)
}

// SyncRecommendation returns the sync policy verdict for the current
// network status.
func (m *QueueManager) SyncRecommendation() syncer.Recommendation {
	return syncer.GetSyncRecommendations(m.monitor.Status())
}

// NetworkStatus exposes the monitor's current view.
func (m *QueueManager) NetworkStatus() types.NetworkStatus {
	return m.monitor.Status()
}

// RestorationHistory exposes the orchestrator's diagnostic history.
func (m *QueueManager) RestorationHistory() []models.Restoration {
	return m.restoration.History()
}

// autoSyncLoop triggers a sync round periodically, but only when pending
// actions exist and the monitor currently recommends syncing.
func (m *QueueManager) autoSyncLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.AutoSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.autoSync()
		case <-m.stopCh:
			return
		}
	}
}

func (m *QueueManager) autoSync() {
	if m.syncManager.IsProcessing() {
		return
	}
	if !m.monitor.ShouldSync() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.AutoSyncInterval)
	defer cancel()

	stats, err := m.queue.GetStats(ctx, "")
	if err != nil {
		logrus.WithError(err).Debug("Auto-sync stats check failed")
		return
	}
	if stats.Pending == 0 && stats.Failed == 0 {
		return
	}

	if _, err := m.syncManager.Sync(ctx, m.monitor.Status(), false); err != nil {
		logrus.WithError(err).Warn("Auto-sync round failed")
	}
}

// cleanupLoop purges expired queue records and cache entries periodically.
func (m *QueueManager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if removed, err := m.queue.RemoveCompleted(ctx); err != nil {
				logrus.WithError(err).Warn("Queue cleanup failed")
			} else if removed > 0 {
				logrus.Infof("Queue cleanup removed %d completed actions", removed)
			}
			m.cache.RemoveExpired()
			cancel()
		case <-m.stopCh:
			return
		}
	}
}
