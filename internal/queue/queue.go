// Package queue implements the durable action store and action queue.
// Queued actions must survive a full restart: a provider may check in, lose
// power, and reopen hours later with the pending check-in still visible and
// syncable. All state lives in the database; this package is the single
// writer for status transitions.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"schools-in/internal/models"
	"schools-in/internal/types"
	"schools-in/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when a status change violates the action
// lifecycle.
var ErrInvalidTransition = errors.New("queue: invalid status transition")

// ErrActionNotFound is returned when the action id is unknown.
var ErrActionNotFound = errors.New("queue: action not found")

// ErrActionCancelled is returned when a status update targets an action that
// was cancelled after being read. Cancel is terminal; the caller must discard
// any in-flight work for the action instead of submitting it.
var ErrActionCancelled = errors.New("queue: action cancelled")

// Queue is the gorm-backed durable action queue.
type Queue struct {
	db  *gorm.DB
	cfg types.QueueConfig
}

// NewQueue creates the action queue.
func NewQueue(db *gorm.DB, configManager types.ConfigManager) *Queue {
	return &Queue{
		db:  db,
		cfg: configManager.GetQueueConfig(),
	}
}

// Enqueue persists a new pending action and returns it. Transient storage
// errors are retried once. Unlike cache writes, a failed enqueue is surfaced
// to the caller: a lost check-in is a correctness issue, not an optimization
// issue.
func (q *Queue) Enqueue(ctx context.Context, actionType string, payload any, userID string) (*models.QueuedAction, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s payload: %w", actionType, err)
	}

	action := &models.QueuedAction{
		ID:        uuid.NewString(),
		Type:      actionType,
		Payload:   data,
		Status:    models.StatusPending,
		Timestamp: time.Now().UnixMilli(),
		UserID:    userID,
	}

	err = q.db.WithContext(ctx).Create(action).Error
	if utils.IsTransientDBError(err) {
		logrus.WithError(err).WithField("action_id", action.ID).Debug("Transient storage error on enqueue, retrying once")
		err = q.db.WithContext(ctx).Create(action).Error
	}
	if err != nil {
		return nil, fmt.Errorf("failed to persist queued action: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"action_id": action.ID,
		"type":      actionType,
		"user_id":   userID,
	}).Debug("Action enqueued")
	return action, nil
}

// RetryDelay returns the backoff delay before the next sync attempt for an
// action that has failed retryCount times.
func (q *Queue) RetryDelay(retryCount int) time.Duration {
	delay := q.cfg.RetryDelayBase
	for i := 0; i < retryCount; i++ {
		delay *= time.Duration(q.cfg.RetryDelayMultiplier)
	}
	return delay
}

// MaxRetryAttempts returns the configured retry budget.
func (q *Queue) MaxRetryAttempts() int {
	return q.cfg.MaxRetryAttempts
}

// BatchSize returns the configured default batch size.
func (q *Queue) BatchSize() int {
	return q.cfg.BatchSize
}

// DequeueBatch returns sync-eligible actions ordered oldest-first, capped at
// limit. Eligible means pending, or failed with remaining retry budget whose
// backoff delay has elapsed. Ordering is what keeps a check-out from reaching
// the server before its check-in.
func (q *Queue) DequeueBatch(ctx context.Context, limit int) ([]models.QueuedAction, error) {
	if limit <= 0 {
		limit = q.cfg.BatchSize
	}

	var candidates []models.QueuedAction
	err := q.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND retry_count < ?)",
			models.StatusPending, models.StatusFailed, q.cfg.MaxRetryAttempts).
		Order("timestamp ASC").
		Limit(limit * 2).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue batch: %w", err)
	}

	now := time.Now()
	batch := make([]models.QueuedAction, 0, limit)
	for _, action := range candidates {
		if action.Status == models.StatusFailed {
			// Backoff is measured from the last failed transition.
			if now.Sub(action.UpdatedAt) < q.RetryDelay(action.RetryCount) {
				continue
			}
		}
		batch = append(batch, action)
		if len(batch) >= limit {
			break
		}
	}
	return batch, nil
}

// UpdateStatus applies a status transition atomically. Invalid transitions
// return ErrInvalidTransition. A transition attempted against an already
// cancelled action returns ErrActionCancelled and leaves the record
// untouched: the caller lost the race against an explicit cancel and must
// drop the action from its round. Transient storage errors (lock contention,
// SQLITE_BUSY) are retried once before surfacing.
func (q *Queue) UpdateStatus(ctx context.Context, actionID, status string, incrementRetry bool) error {
	err := q.updateStatus(ctx, actionID, status, incrementRetry)
	if utils.IsTransientDBError(err) {
		logrus.WithError(err).WithField("action_id", actionID).Debug("Transient storage error on status update, retrying once")
		err = q.updateStatus(ctx, actionID, status, incrementRetry)
	}
	return err
}

func (q *Queue) updateStatus(ctx context.Context, actionID, status string, incrementRetry bool) error {
	return q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var action models.QueuedAction
		if err := tx.Where("id = ?", actionID).First(&action).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrActionNotFound
			}
			return err
		}

		if action.Status == models.StatusCancelled {
			logrus.WithField("action_id", actionID).Debug("Rejecting status update for cancelled action")
			return ErrActionCancelled
		}

		if !models.CanTransition(action.Status, status) {
			return fmt.Errorf("%w: %s -> %s (action %s)", ErrInvalidTransition, action.Status, status, actionID)
		}

		updates := map[string]any{"status": status}
		if incrementRetry {
			updates["retry_count"] = gorm.Expr("retry_count + 1")
		}
		return tx.Model(&models.QueuedAction{}).Where("id = ?", actionID).Updates(updates).Error
	})
}

// Cancel transitions an action to cancelled. Only pending and failed actions
// are cancelable; anything else is a no-op returning false.
func (q *Queue) Cancel(ctx context.Context, actionID string) (bool, error) {
	result := q.db.WithContext(ctx).
		Model(&models.QueuedAction{}).
		Where("id = ? AND status IN ?", actionID, []string{models.StatusPending, models.StatusFailed}).
		Update("status", models.StatusCancelled)
	if result.Error != nil {
		return false, fmt.Errorf("failed to cancel action %s: %w", actionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	logrus.WithField("action_id", actionID).Info("Action cancelled")
	return true, nil
}

// Retry moves a failed action back to pending with a fresh retry budget.
// This is a human decision, so the automatic budget does not carry over.
func (q *Queue) Retry(ctx context.Context, actionID string) error {
	result := q.db.WithContext(ctx).
		Model(&models.QueuedAction{}).
		Where("id = ? AND status = ?", actionID, models.StatusFailed).
		Updates(map[string]any{"status": models.StatusPending, "retry_count": 0})
	if result.Error != nil {
		return fmt.Errorf("failed to retry action %s: %w", actionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrActionNotFound
	}
	logrus.WithField("action_id", actionID).Info("Action queued for manual retry")
	return nil
}

// GetStats returns aggregate counts by status, optionally filtered by owner.
func (q *Queue) GetStats(ctx context.Context, userID string) (models.QueueStats, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	query := q.db.WithContext(ctx).Model(&models.QueuedAction{})
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var counts []statusCount
	if err := query.Select("status, COUNT(*) as count").Group("status").Scan(&counts).Error; err != nil {
		return models.QueueStats{}, fmt.Errorf("failed to aggregate queue stats: %w", err)
	}

	var stats models.QueueStats
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Status {
		case models.StatusPending:
			stats.Pending = c.Count
		case models.StatusSyncing:
			stats.Syncing = c.Count
		case models.StatusSynced:
			stats.Synced = c.Count
		case models.StatusFailed:
			stats.Failed = c.Count
		case models.StatusCancelled:
			stats.Cancelled = c.Count
		}
	}
	return stats, nil
}

// GetPendingActions returns all non-terminal actions oldest-first, optionally
// filtered by owner. This backs the UI's pending/failed list.
func (q *Queue) GetPendingActions(ctx context.Context, userID string) ([]models.QueuedAction, error) {
	query := q.db.WithContext(ctx).
		Where("status IN ?", []string{models.StatusPending, models.StatusSyncing, models.StatusFailed}).
		Order("timestamp ASC")
	if userID != "" {
		query = query.Where("user_id = ?", userID)
	}

	var actions []models.QueuedAction
	if err := query.Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending actions: %w", err)
	}
	return actions, nil
}

// GetAction loads one action by id.
func (q *Queue) GetAction(ctx context.Context, actionID string) (*models.QueuedAction, error) {
	var action models.QueuedAction
	if err := q.db.WithContext(ctx).Where("id = ?", actionID).First(&action).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrActionNotFound
		}
		return nil, err
	}
	return &action, nil
}

// RemoveCompleted purges synced and cancelled actions older than the
// configured expiration to bound storage growth.
func (q *Queue) RemoveCompleted(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-q.cfg.ExpirationTime).UnixMilli()
	result := q.db.WithContext(ctx).
		Where("status IN ? AND timestamp < ?", []string{models.StatusSynced, models.StatusCancelled}, cutoff).
		Delete(&models.QueuedAction{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge completed actions: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		logrus.Debugf("Purged %d completed actions", result.RowsAffected)
	}
	return result.RowsAffected, nil
}
