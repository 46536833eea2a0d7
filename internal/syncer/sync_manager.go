// Package syncer drains the action queue against the remote session API and
// orchestrates connectivity-restoration sync rounds.
package syncer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"schools-in/internal/models"
	"schools-in/internal/network"
	"schools-in/internal/queue"
	"schools-in/internal/remote"
	"schools-in/internal/types"

	"github.com/sirupsen/logrus"
)

// Strategy tunes one sync round to the observed link quality.
type Strategy struct {
	Name          string
	BatchSize     int
	ActionTimeout time.Duration
}

// conservativeStrategy is used on marginal links: a small batch bounds the
// round duration, a longer per-action timeout rides out slow responses.
var conservativeStrategy = Strategy{
	Name:          "conservative",
	BatchSize:     3,
	ActionTimeout: 30 * time.Second,
}

// Recommendation is the sync layer's pure policy verdict for a network status.
type Recommendation struct {
	ShouldSync       bool          `json:"should_sync"`
	Reason           string        `json:"reason"`
	RecommendedDelay time.Duration `json:"recommended_delay,omitempty"`
}

// GetSyncRecommendations computes the sync policy for a network status. It is
// a pure function shared by the queue manager and the restoration
// orchestrator so the policy lives in exactly one place.
func GetSyncRecommendations(status types.NetworkStatus) Recommendation {
	if !status.IsOnline {
		return Recommendation{ShouldSync: false, Reason: "offline"}
	}
	if status.ConnectivityScore < network.ScoreSyncThreshold {
		return Recommendation{ShouldSync: false, Reason: "poor-connectivity", RecommendedDelay: 5 * time.Second}
	}
	if !status.IsStable {
		return Recommendation{ShouldSync: false, Reason: "unstable-connection", RecommendedDelay: 2 * time.Second}
	}
	return Recommendation{ShouldSync: true, Reason: "ready"}
}

// SyncManager submits queued actions to the remote service, oldest-first.
type SyncManager struct {
	queue        *queue.Queue
	client       *remote.Client
	isProcessing atomic.Bool
}

// NewSyncManager creates a sync manager.
func NewSyncManager(q *queue.Queue, client *remote.Client) *SyncManager {
	return &SyncManager{
		queue:  q,
		client: client,
	}
}

// IsProcessing reports whether a sync round is currently in flight.
func (s *SyncManager) IsProcessing() bool {
	return s.isProcessing.Load()
}

// selectStrategy picks a strategy from the network status. A strong, stable
// link gets the full configured batch; anything weaker gets the conservative
// profile.
func (s *SyncManager) selectStrategy(status types.NetworkStatus) Strategy {
	if status.ConnectivityScore >= 70 && status.IsStable {
		return Strategy{
			Name:          "aggressive",
			BatchSize:     s.queue.BatchSize(),
			ActionTimeout: 15 * time.Second,
		}
	}
	return conservativeStrategy
}

// Sync runs one sync round. Only one round may be in flight; a concurrent
// call returns (nil, nil) and submits nothing. With forceSync the
// recommendation check is bypassed (manual "Sync Now"), but the single-flight
// guard still holds.
func (s *SyncManager) Sync(ctx context.Context, status types.NetworkStatus, forceSync bool) (*models.SyncResult, error) {
	if !s.isProcessing.CompareAndSwap(false, true) {
		logrus.Debug("Sync round already in flight, dropping trigger")
		return nil, nil
	}
	defer s.isProcessing.Store(false)

	if !forceSync {
		if rec := GetSyncRecommendations(status); !rec.ShouldSync {
			logrus.WithField("reason", rec.Reason).Debug("Sync not recommended, skipping round")
			return nil, nil
		}
	}

	strategy := s.selectStrategy(status)
	start := time.Now()

	batch, err := s.queue.DequeueBatch(ctx, strategy.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &models.SyncResult{
		NetworkScore: status.ConnectivityScore,
		Strategy:     strategy.Name,
	}

	for i := range batch {
		action := &batch[i]

		if err := s.queue.UpdateStatus(ctx, action.ID, models.StatusSyncing, false); err != nil {
			// A cancel landing between dequeue and here wins; the action
			// must never reach the server.
			if errors.Is(err, queue.ErrActionCancelled) {
				logrus.WithField("action_id", action.ID).Debug("Action cancelled since dequeue, skipping submission")
			} else {
				logrus.WithError(err).WithField("action_id", action.ID).Warn("Skipping action, could not mark syncing")
			}
			result.Skipped++
			continue
		}
		result.Processed++

		actionCtx, cancel := context.WithTimeout(ctx, strategy.ActionTimeout)
		_, submitErr := s.client.SubmitAction(actionCtx, action)
		cancel()

		if submitErr == nil {
			if err := s.queue.UpdateStatus(ctx, action.ID, models.StatusSynced, false); err != nil {
				logrus.WithError(err).WithField("action_id", action.ID).Warn("Failed to mark action synced")
			}
			result.Synced++
			continue
		}

		if err := s.queue.UpdateStatus(ctx, action.ID, models.StatusFailed, true); err != nil {
			logrus.WithError(err).WithField("action_id", action.ID).Warn("Failed to mark action failed")
		}
		result.Failed++

		transport := remote.IsTransportError(submitErr)
		willRetry := action.RetryCount+1 < s.queue.MaxRetryAttempts()
		result.Errors = append(result.Errors, models.SyncActionError{
			ActionID:  action.ID,
			Type:      action.Type,
			Error:     submitErr.Error(),
			Transport: transport,
			WillRetry: willRetry,
		})

		logrus.WithFields(logrus.Fields{
			"action_id":  action.ID,
			"type":       action.Type,
			"transport":  transport,
			"will_retry": willRetry,
		}).Warn("Action submission failed")
	}

	result.Duration = time.Since(start)
	result.Success = result.Failed == 0

	logrus.WithFields(logrus.Fields{
		"strategy":  result.Strategy,
		"processed": result.Processed,
		"synced":    result.Synced,
		"failed":    result.Failed,
		"skipped":   result.Skipped,
		"duration":  result.Duration,
	}).Info("Sync round completed")

	return result, nil
}
