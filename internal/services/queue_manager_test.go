package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"schools-in/internal/cache"
	"schools-in/internal/httpclient"
	"schools-in/internal/models"
	"schools-in/internal/network"
	"schools-in/internal/queue"
	"schools-in/internal/remote"
	"schools-in/internal/store"
	"schools-in/internal/syncer"
	"schools-in/internal/types"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubConfig implements the configuration getters the facade stack consults.
type stubConfig struct {
	types.ConfigManager
	queueCfg   types.QueueConfig
	cacheCfg   types.CacheConfig
	remoteCfg  types.RemoteConfig
	syncCfg    types.SyncConfig
	networkCfg types.NetworkConfig
}

func (c *stubConfig) GetQueueConfig() types.QueueConfig     { return c.queueCfg }
func (c *stubConfig) GetCacheConfig() types.CacheConfig     { return c.cacheCfg }
func (c *stubConfig) GetRemoteConfig() types.RemoteConfig   { return c.remoteCfg }
func (c *stubConfig) GetSyncConfig() types.SyncConfig       { return c.syncCfg }
func (c *stubConfig) GetNetworkConfig() types.NetworkConfig { return c.networkCfg }

// fakeSessionAPI answers session requests with a programmable status code.
type fakeSessionAPI struct {
	mu       sync.Mutex
	requests int
	status   int
	server   *httptest.Server
}

func newFakeSessionAPI(t *testing.T) *fakeSessionAPI {
	t.Helper()
	api := &fakeSessionAPI{status: http.StatusOK}
	api.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api.mu.Lock()
		api.requests++
		status := api.status
		api.mu.Unlock()

		if status != http.StatusOK {
			http.Error(w, http.StatusText(status), status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-direct"})
	}))
	t.Cleanup(api.server.Close)
	return api
}

func (api *fakeSessionAPI) setStatus(status int) {
	api.mu.Lock()
	api.status = status
	api.mu.Unlock()
}

func (api *fakeSessionAPI) requestCount() int {
	api.mu.Lock()
	defer api.mu.Unlock()
	return api.requests
}

func newFacade(t *testing.T, baseURL string) (*QueueManager, *network.Monitor) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// An in-memory SQLite database exists per connection, so the pool must
	// stay at one.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.QueuedAction{}, &cache.CacheRecord{}))

	cfg := &stubConfig{
		queueCfg: types.QueueConfig{
			MaxRetryAttempts:     3,
			BatchSize:            10,
			RetryDelayBase:       time.Millisecond,
			RetryDelayMultiplier: 2,
			ExpirationTime:       7 * 24 * time.Hour,
		},
		cacheCfg: types.CacheConfig{KeyPrefix: "test", MemoryMaxEntries: 200},
		remoteCfg: types.RemoteConfig{
			BaseURL:        baseURL,
			RequestTimeout: 2 * time.Second,
			ConnectTimeout: time.Second,
		},
		syncCfg: types.SyncConfig{
			AutoSyncInterval: time.Hour,
			CleanupInterval:  time.Hour,
			StabilityWait:    10 * time.Millisecond,
			MaxSyncAttempts:  3,
			SyncRetryDelay:   10 * time.Millisecond,
			GradualSync:      true,
		},
		networkCfg: types.NetworkConfig{
			StabilityWindow: 30 * time.Second,
			ProbeInterval:   time.Hour,
			ProbeTimeout:    time.Second,
			PingTimeout:     time.Second,
		},
	}

	localStore := store.NewMemoryStore()
	t.Cleanup(func() { localStore.Close() })

	q := queue.NewQueue(db, cfg)
	cacheManager := cache.NewManager(cfg, localStore, db)
	t.Cleanup(func() { cacheManager.Close() })
	monitor := network.NewMonitor(cfg)
	client := remote.NewClient(cfg, httpclient.NewManager())
	syncManager := syncer.NewSyncManager(q, client)
	restoration := syncer.NewRestorationManager(syncManager, monitor, localStore, cfg)

	return NewQueueManager(q, cacheManager, monitor, syncManager, restoration, client, cfg), monitor
}

func goOnlineStable(monitor *network.Monitor) {
	for i := 0; i < 3; i++ {
		monitor.ReportSignal(true, &network.QualityHints{DownlinkMbps: 10, RTTMillis: 20, EffectiveType: "4g"})
	}
}

// TestQueueManager_CheckInDirect tests the online happy path
func TestQueueManager_CheckInDirect(t *testing.T) {
	api := newFakeSessionAPI(t)
	m, monitor := newFacade(t, api.server.URL)
	goOnlineStable(monitor)

	result, err := m.CheckIn(context.Background(), "school-1", "user-1", models.Location{Latitude: 40.7, Longitude: -74.0})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Offline)
	assert.Equal(t, "sess-direct", result.SessionID)
	assert.Empty(t, result.ActionID)
	assert.Equal(t, 1, api.requestCount())

	// Nothing was queued
	stats, err := m.GetStats(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
}

// TestQueueManager_CheckInOffline tests the offline queue fallback
func TestQueueManager_CheckInOffline(t *testing.T) {
	api := newFakeSessionAPI(t)
	m, monitor := newFacade(t, api.server.URL)
	monitor.ReportSignal(false, nil)

	result, err := m.CheckIn(context.Background(), "school-1", "user-1", models.Location{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Offline)
	assert.NotEmpty(t, result.ActionID)
	assert.Equal(t, 0, api.requestCount(), "No direct attempt while offline")

	stats, err := m.GetStats(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

// TestQueueManager_CheckInServerErrorFallsBack tests queueing on a 5xx
func TestQueueManager_CheckInServerErrorFallsBack(t *testing.T) {
	api := newFakeSessionAPI(t)
	api.setStatus(http.StatusBadGateway)
	m, monitor := newFacade(t, api.server.URL)
	goOnlineStable(monitor)

	result, err := m.CheckIn(context.Background(), "school-1", "user-1", models.Location{})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.True(t, result.Offline, "A retryable failure defers to the queue")
	assert.NotEmpty(t, result.ActionID)

	stats, err := m.GetStats(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)
}

// TestQueueManager_CheckInPermanentRejection tests the 4xx fail-fast path
func TestQueueManager_CheckInPermanentRejection(t *testing.T) {
	api := newFakeSessionAPI(t)
	api.setStatus(http.StatusUnprocessableEntity)
	m, monitor := newFacade(t, api.server.URL)
	goOnlineStable(monitor)

	result, err := m.CheckIn(context.Background(), "school-1", "user-1", models.Location{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, remote.IsPermanentRejection(err))

	// A rejected request must not be queued: retrying cannot fix it
	stats, err := m.GetStats(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Total)
}

// TestQueueManager_CheckOutOffline tests the check-out fallback
func TestQueueManager_CheckOutOffline(t *testing.T) {
	api := newFakeSessionAPI(t)
	m, monitor := newFacade(t, api.server.URL)
	monitor.ReportSignal(false, nil)

	result, err := m.CheckOut(context.Background(), "sess-1", "user-1", models.Location{})
	require.NoError(t, err)
	assert.True(t, result.Offline)

	actions, err := m.GetPendingActions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, models.ActionCheckOut, actions[0].Type)
}

// TestQueueManager_SyncNowDrainsQueue tests a manual sync after reconnection
func TestQueueManager_SyncNowDrainsQueue(t *testing.T) {
	api := newFakeSessionAPI(t)
	m, monitor := newFacade(t, api.server.URL)
	ctx := context.Background()

	monitor.ReportSignal(false, nil)
	_, err := m.CheckIn(ctx, "school-1", "user-1", models.Location{})
	require.NoError(t, err)
	_, err = m.CheckOut(ctx, "sess-1", "user-1", models.Location{})
	require.NoError(t, err)

	goOnlineStable(monitor)

	result, err := m.SyncNow(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Synced)

	stats, err := m.GetStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Synced)
	assert.Equal(t, int64(0), stats.Pending)
}

// TestQueueManager_CancelAndRetry tests the manual action controls
func TestQueueManager_CancelAndRetry(t *testing.T) {
	api := newFakeSessionAPI(t)
	m, monitor := newFacade(t, api.server.URL)
	ctx := context.Background()
	monitor.ReportSignal(false, nil)

	queued, err := m.CheckIn(ctx, "school-1", "user-1", models.Location{})
	require.NoError(t, err)

	ok, err := m.CancelAction(ctx, queued.ActionID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Cancelled actions are terminal
	ok, err = m.CancelAction(ctx, queued.ActionID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Retry only applies to failed actions
	err = m.RetryAction(ctx, queued.ActionID)
	assert.ErrorIs(t, err, queue.ErrActionNotFound)
}

// TestQueueManager_RetryAfterFailure tests the manual retry resetting the budget
func TestQueueManager_RetryAfterFailure(t *testing.T) {
	api := newFakeSessionAPI(t)
	api.setStatus(http.StatusInternalServerError)
	m, monitor := newFacade(t, api.server.URL)
	ctx := context.Background()

	monitor.ReportSignal(false, nil)
	queued, err := m.CheckIn(ctx, "school-1", "user-1", models.Location{})
	require.NoError(t, err)

	goOnlineStable(monitor)

	// Burn the automatic retry budget against the failing upstream
	for i := 0; i < 3; i++ {
		result, err := m.SyncNow(ctx, false)
		require.NoError(t, err)
		require.NotNil(t, result)
		time.Sleep(20 * time.Millisecond)
	}

	stats, err := m.GetStats(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Failed)

	// Manual retry re-queues; the upstream recovers; sync succeeds
	require.NoError(t, m.RetryAction(ctx, queued.ActionID))
	api.setStatus(http.StatusOK)

	result, err := m.SyncNow(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Synced)
}

// TestQueueManager_AutoSync tests the periodic trigger conditions
func TestQueueManager_AutoSync(t *testing.T) {
	api := newFakeSessionAPI(t)
	m, monitor := newFacade(t, api.server.URL)
	ctx := context.Background()

	monitor.ReportSignal(false, nil)
	_, err := m.CheckIn(ctx, "school-1", "user-1", models.Location{})
	require.NoError(t, err)

	// Offline: the trigger must do nothing
	m.autoSync()
	assert.Equal(t, 0, api.requestCount())

	goOnlineStable(monitor)
	m.autoSync()
	assert.Equal(t, 1, api.requestCount())

	stats, err := m.GetStats(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Synced)

	// Empty queue: the trigger stays idle
	m.autoSync()
	assert.Equal(t, 1, api.requestCount())
}

// TestQueueManager_NetworkStatus tests the monitor passthrough
func TestQueueManager_NetworkStatus(t *testing.T) {
	api := newFakeSessionAPI(t)
	m, monitor := newFacade(t, api.server.URL)

	goOnlineStable(monitor)
	status := m.NetworkStatus()
	assert.True(t, status.IsOnline)
	assert.True(t, status.IsStable)
	assert.Equal(t, 100, status.ConnectivityScore)
}

// TestQueueManager_StartStop tests the periodic loop lifecycle
func TestQueueManager_StartStop(t *testing.T) {
	api := newFakeSessionAPI(t)
	m, _ := newFacade(t, api.server.URL)

	m.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.Stop(ctx)
	m.Stop(ctx)
}
