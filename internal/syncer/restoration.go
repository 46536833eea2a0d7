package syncer

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"schools-in/internal/models"
	"schools-in/internal/network"
	"schools-in/internal/store"
	"schools-in/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NotificationChannel is the pub/sub channel carrying restoration
// completion notifications. The payload is the Restoration record as JSON.
const NotificationChannel = "schools_in:notifications:restoration"

// historyLimit bounds the in-memory restoration history.
const historyLimit = 50

// qualityJumpThreshold is the connectivity score improvement that triggers a
// restoration while already online.
const qualityJumpThreshold = 30

// RestorationManager reacts to connectivity improvements and drives the sync
// manager through bounded, backed-off sync rounds.
type RestorationManager struct {
	syncManager *SyncManager
	monitor     *network.Monitor
	storage     store.Store
	cfg         types.SyncConfig

	isRestoring atomic.Bool

	muStatus   sync.Mutex
	lastStatus types.NetworkStatus
	hasStatus  bool

	muHistory sync.Mutex
	history   []models.Restoration

	unsubscribe func()
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewRestorationManager creates a restoration orchestrator.
func NewRestorationManager(syncManager *SyncManager, monitor *network.Monitor, storage store.Store, configManager types.ConfigManager) *RestorationManager {
	return &RestorationManager{
		syncManager: syncManager,
		monitor:     monitor,
		storage:     storage,
		cfg:         configManager.GetSyncConfig(),
		stopCh:      make(chan struct{}),
	}
}

// Start subscribes to network status changes.
func (r *RestorationManager) Start() {
	r.unsubscribe = r.monitor.Subscribe(r.onStatusChange)
	logrus.Debug("Restoration orchestrator started")
}

// Stop unsubscribes and waits for any in-flight restoration.
func (r *RestorationManager) Stop(ctx context.Context) {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.stopOnce.Do(func() { close(r.stopCh) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Restoration orchestrator stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("Restoration orchestrator stop timed out.")
	}
}

// onStatusChange inspects status transitions for restoration triggers:
// offline to online, or a score jump above qualityJumpThreshold while online.
// Observers must not block, so the restoration itself runs on its own
// goroutine.
func (r *RestorationManager) onStatusChange(status types.NetworkStatus) {
	r.muStatus.Lock()
	prev := r.lastStatus
	hadStatus := r.hasStatus
	r.lastStatus = status
	r.hasStatus = true
	r.muStatus.Unlock()

	if !hadStatus {
		return
	}

	switch {
	case !prev.IsOnline && status.IsOnline:
		r.triggerAsync(models.TriggerReconnection, false)
	case prev.IsOnline && status.IsOnline &&
		status.ConnectivityScore-prev.ConnectivityScore > qualityJumpThreshold:
		r.triggerAsync(models.TriggerQualityImprovement, false)
	}
}

// TriggerManual starts a restoration on user request.
func (r *RestorationManager) TriggerManual(forceSync bool) {
	r.triggerAsync(models.TriggerManual, forceSync)
}

func (r *RestorationManager) triggerAsync(reason string, forceSync bool) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.restore(reason, forceSync)
	}()
}

// restore runs one restoration attempt: wait for stability, re-check the
// recommendation, then up to MaxSyncAttempts sync rounds with exponential
// backoff. Concurrent triggers are coalesced unless forced; a forced trigger
// still cannot duplicate-submit because the sync manager holds its own
// single-flight guard.
func (r *RestorationManager) restore(reason string, forceSync bool) {
	if !r.isRestoring.CompareAndSwap(false, true) {
		if !forceSync {
			logrus.WithField("reason", reason).Debug("Restoration already in flight, coalescing trigger")
			return
		}
	} else {
		defer r.isRestoring.Store(false)
	}

	start := time.Now()
	record := models.Restoration{
		ID:            uuid.NewString(),
		Timestamp:     start,
		TriggerReason: reason,
		NetworkScore:  r.monitor.Status().ConnectivityScore,
	}

	logrus.WithFields(logrus.Fields{
		"trigger": reason,
		"score":   record.NetworkScore,
	}).Info("Restoration started")

	// Let a flapping link settle before consulting the recommendation.
	if r.cfg.GradualSync && r.monitor.Status().IsUnstable {
		waitStart := time.Now()
		if !r.sleep(r.cfg.StabilityWait) {
			// Shutdown interrupted the wait; the attempt still goes into
			// the diagnostic history.
			record.StabilityWaitTime = time.Since(waitStart)
			record.TotalDuration = time.Since(start)
			r.recordRestoration(record)
			return
		}
		record.StabilityWaitTime = time.Since(waitStart)
	}

	status := r.monitor.Status()
	record.NetworkScore = status.ConnectivityScore

	if !forceSync {
		if rec := GetSyncRecommendations(status); !rec.ShouldSync {
			// Defer instead of spinning: schedule one retry at the
			// recommended delay and exit.
			delay := rec.RecommendedDelay
			if delay <= 0 {
				delay = r.cfg.SyncRetryDelay
			}
			logrus.WithFields(logrus.Fields{
				"reason": rec.Reason,
				"delay":  delay,
			}).Info("Restoration deferred")
			time.AfterFunc(delay, func() {
				select {
				case <-r.stopCh:
				default:
					r.triggerAsync(models.TriggerDelayedRetry, false)
				}
			})
			record.TotalDuration = time.Since(start)
			r.recordRestoration(record)
			return
		}
	}

	for attempt := 1; attempt <= r.cfg.MaxSyncAttempts; attempt++ {
		record.SyncAttempts = attempt

		result, err := r.syncManager.Sync(context.Background(), r.monitor.Status(), forceSync)
		if err != nil {
			logrus.WithError(err).Warn("Restoration sync round errored")
		}
		if result != nil {
			record.SyncResults = append(record.SyncResults, *result)
			if result.Success {
				record.Success = true
				break
			}
		}

		if attempt == r.cfg.MaxSyncAttempts {
			break
		}

		// Exponential backoff between rounds; abort if connectivity is lost.
		backoff := r.cfg.SyncRetryDelay * (1 << (attempt - 1))
		if !r.sleep(backoff) {
			record.TotalDuration = time.Since(start)
			r.recordRestoration(record)
			return
		}
		if !r.monitor.Status().IsOnline {
			logrus.Info("Connectivity lost mid-restoration, aborting")
			break
		}
	}

	record.TotalDuration = time.Since(start)
	r.recordRestoration(record)

	if record.Success {
		logrus.WithFields(logrus.Fields{
			"attempts": record.SyncAttempts,
			"duration": record.TotalDuration,
		}).Info("Restoration completed")
		r.notifyCompletion(record)
	} else {
		logrus.WithField("attempts", record.SyncAttempts).Warn("Restoration exhausted its sync attempts")
	}
}

// sleep waits for d or shutdown. Returns false on shutdown.
func (r *RestorationManager) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.stopCh:
		return false
	}
}

// recordRestoration appends to the bounded history.
func (r *RestorationManager) recordRestoration(record models.Restoration) {
	r.muHistory.Lock()
	defer r.muHistory.Unlock()
	r.history = append(r.history, record)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
}

// History returns a copy of the restoration history, newest last.
func (r *RestorationManager) History() []models.Restoration {
	r.muHistory.Lock()
	defer r.muHistory.Unlock()
	out := make([]models.Restoration, len(r.history))
	copy(out, r.history)
	return out
}

// notifyCompletion publishes a completion notification when a restoration
// synced at least one action. Best-effort side channel, never required for
// correctness.
func (r *RestorationManager) notifyCompletion(record models.Restoration) {
	synced := 0
	for _, res := range record.SyncResults {
		synced += res.Synced
	}
	if synced == 0 {
		return
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := r.storage.Publish(NotificationChannel, payload); err != nil {
		logrus.WithError(err).Debug("Failed to publish restoration notification")
	}
}
