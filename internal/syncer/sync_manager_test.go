package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"schools-in/internal/httpclient"
	"schools-in/internal/models"
	"schools-in/internal/queue"
	"schools-in/internal/remote"
	"schools-in/internal/types"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// stubConfig implements the configuration getters the sync stack consults.
// Unused interface methods panic if called, which is what a test wants.
type stubConfig struct {
	types.ConfigManager
	queueCfg   types.QueueConfig
	remoteCfg  types.RemoteConfig
	syncCfg    types.SyncConfig
	networkCfg types.NetworkConfig
}

func (c *stubConfig) GetQueueConfig() types.QueueConfig     { return c.queueCfg }
func (c *stubConfig) GetRemoteConfig() types.RemoteConfig   { return c.remoteCfg }
func (c *stubConfig) GetSyncConfig() types.SyncConfig       { return c.syncCfg }
func (c *stubConfig) GetNetworkConfig() types.NetworkConfig { return c.networkCfg }

// recordingServer is a fake session API that records submissions and answers
// with a programmable handler.
type recordingServer struct {
	mu       sync.Mutex
	actions  []string
	respond  func(w http.ResponseWriter, r *http.Request)
	server   *httptest.Server
	released chan struct{}
}

func newRecordingServer(t *testing.T) *recordingServer {
	t.Helper()
	rs := &recordingServer{
		respond: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-remote"})
		},
	}
	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Action string `json:"action"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		rs.mu.Lock()
		rs.actions = append(rs.actions, body.Action)
		rs.mu.Unlock()

		rs.respond(w, r)
	}))
	t.Cleanup(rs.server.Close)
	return rs
}

func (rs *recordingServer) received() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]string, len(rs.actions))
	copy(out, rs.actions)
	return out
}

func newTestStack(t *testing.T, baseURL string) (*SyncManager, *queue.Queue) {
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

	require.NoError(t, db.AutoMigrate(&models.QueuedAction{}))

	cfg := &stubConfig{
		queueCfg: types.QueueConfig{
			MaxRetryAttempts: 3,
			BatchSize:        10,
			// Short backoff so multi-round tests do not stall.
			RetryDelayBase:       time.Millisecond,
			RetryDelayMultiplier: 2,
			ExpirationTime:       7 * 24 * time.Hour,
		},
		remoteCfg: types.RemoteConfig{
			BaseURL:        baseURL,
			RequestTimeout: 2 * time.Second,
			ConnectTimeout: time.Second,
		},
	}

	q := queue.NewQueue(db, cfg)
	client := remote.NewClient(cfg, httpclient.NewManager())
	return NewSyncManager(q, client), q
}

func onlineStatus(score int, stable bool) types.NetworkStatus {
	return types.NetworkStatus{
		IsOnline:          true,
		ConnectivityScore: score,
		IsStable:          stable,
		IsUnstable:        !stable,
	}
}

// TestGetSyncRecommendations tests the pure sync policy
func TestGetSyncRecommendations(t *testing.T) {
	tests := []struct {
		name       string
		status     types.NetworkStatus
		shouldSync bool
		reason     string
		delay      time.Duration
	}{
		{"offline", types.NetworkStatus{}, false, "offline", 0},
		{"poor connectivity", onlineStatus(20, true), false, "poor-connectivity", 5 * time.Second},
		{"unstable", onlineStatus(80, false), false, "unstable-connection", 2 * time.Second},
		{"threshold score is enough", onlineStatus(30, true), true, "ready", 0},
		{"strong stable link", onlineStatus(95, true), true, "ready", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := GetSyncRecommendations(tt.status)
			assert.Equal(t, tt.shouldSync, rec.ShouldSync)
			assert.Equal(t, tt.reason, rec.Reason)
			assert.Equal(t, tt.delay, rec.RecommendedDelay)
		})
	}
}

// TestSyncManager_SelectStrategy tests link-quality-driven strategy selection
func TestSyncManager_SelectStrategy(t *testing.T) {
	rs := newRecordingServer(t)
	s, _ := newTestStack(t, rs.server.URL)

	aggressive := s.selectStrategy(onlineStatus(80, true))
	assert.Equal(t, "aggressive", aggressive.Name)
	assert.Equal(t, 10, aggressive.BatchSize)
	assert.Equal(t, 15*time.Second, aggressive.ActionTimeout)

	assert.Equal(t, "conservative", s.selectStrategy(onlineStatus(80, false)).Name)
	assert.Equal(t, "conservative", s.selectStrategy(onlineStatus(50, true)).Name)
	assert.Equal(t, 3, conservativeStrategy.BatchSize)
}

// TestSyncManager_SyncSuccess tests a clean round draining the queue oldest-first
func TestSyncManager_SyncSuccess(t *testing.T) {
	rs := newRecordingServer(t)
	s, q := newTestStack(t, rs.server.URL)
	ctx := context.Background()

	checkIn, err := q.Enqueue(ctx, models.ActionCheckIn, models.CheckInPayload{SchoolID: "school-1", UserID: "user-1"}, "user-1")
	require.NoError(t, err)
	checkOut, err := q.Enqueue(ctx, models.ActionCheckOut, models.CheckOutPayload{SessionID: "sess-1", UserID: "user-1"}, "user-1")
	require.NoError(t, err)

	result, err := s.Sync(ctx, onlineStatus(90, true), false)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 2, result.Synced)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, "aggressive", result.Strategy)
	assert.Equal(t, 90, result.NetworkScore)

	// The check-in reaches the server before its check-out
	assert.Equal(t, []string{models.ActionCheckIn, models.ActionCheckOut}, rs.received())

	for _, id := range []string{checkIn.ID, checkOut.ID} {
		action, err := q.GetAction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSynced, action.Status)
	}
	assert.False(t, s.IsProcessing())
}

// TestSyncManager_SyncNotRecommended tests that a weak link skips the round
func TestSyncManager_SyncNotRecommended(t *testing.T) {
	rs := newRecordingServer(t)
	s, q := newTestStack(t, rs.server.URL)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.ActionCheckIn, models.CheckInPayload{SchoolID: "s"}, "user-1")
	require.NoError(t, err)

	result, err := s.Sync(ctx, types.NetworkStatus{}, false)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Empty(t, rs.received(), "Nothing may be submitted while offline")

	// forceSync bypasses the recommendation
	result, err = s.Sync(ctx, types.NetworkStatus{}, true)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Synced)
}

// TestSyncManager_ServerErrorRetriesUntilExhausted tests the retry budget
// against a persistently failing upstream
func TestSyncManager_ServerErrorRetriesUntilExhausted(t *testing.T) {
	rs := newRecordingServer(t)
	rs.respond = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}
	s, q := newTestStack(t, rs.server.URL)
	ctx := context.Background()

	action, err := q.Enqueue(ctx, models.ActionCheckIn, models.CheckInPayload{SchoolID: "s"}, "user-1")
	require.NoError(t, err)

	for round := 1; round <= 3; round++ {
		result, err := s.Sync(ctx, onlineStatus(90, true), false)
		require.NoError(t, err)
		require.NotNil(t, result, "round %d", round)

		assert.False(t, result.Success)
		assert.Equal(t, 1, result.Failed)
		require.Len(t, result.Errors, 1)
		assert.False(t, result.Errors[0].Transport)
		assert.Equal(t, round < 3, result.Errors[0].WillRetry)

		loaded, err := q.GetAction(ctx, action.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, loaded.Status)
		assert.Equal(t, round, loaded.RetryCount)

		// Let the short test backoff elapse before the next round.
		time.Sleep(20 * time.Millisecond)
	}

	// The budget is spent; further rounds leave the action alone.
	result, err := s.Sync(ctx, onlineStatus(90, true), false)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Processed)

	loaded, err := q.GetAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, loaded.Status)
	assert.Equal(t, 3, loaded.RetryCount)
}

// TestSyncManager_TransportErrorIsFlagged tests transport error classification
func TestSyncManager_TransportErrorIsFlagged(t *testing.T) {
	rs := newRecordingServer(t)
	url := rs.server.URL
	rs.server.Close() // submissions now hit a closed port

	s, q := newTestStack(t, url)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.ActionCheckIn, models.CheckInPayload{SchoolID: "s"}, "user-1")
	require.NoError(t, err)

	result, err := s.Sync(ctx, onlineStatus(90, true), false)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.Errors, 1)
	assert.True(t, result.Errors[0].Transport)
	assert.True(t, result.Errors[0].WillRetry)
}

// TestSyncManager_SingleFlight tests that concurrent rounds are rejected
func TestSyncManager_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	rs := newRecordingServer(t)
	rs.respond = func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-remote"})
	}
	s, q := newTestStack(t, rs.server.URL)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, models.ActionCheckIn, models.CheckInPayload{SchoolID: "s"}, "user-1")
	require.NoError(t, err)

	firstDone := make(chan *models.SyncResult, 1)
	go func() {
		result, _ := s.Sync(ctx, onlineStatus(90, true), false)
		firstDone <- result
	}()

	require.Eventually(t, func() bool {
		return s.IsProcessing()
	}, time.Second, 5*time.Millisecond)

	// Second call returns immediately with no result, even when forced
	result, err := s.Sync(ctx, onlineStatus(90, true), true)
	require.NoError(t, err)
	assert.Nil(t, result)

	close(release)
	first := <-firstDone
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Synced)
	assert.Len(t, rs.received(), 1, "The action must be submitted exactly once")
}

// TestSyncManager_CancelMidRoundSkipsSubmission tests that a cancel landing
// after dequeue keeps the action off the wire
func TestSyncManager_CancelMidRoundSkipsSubmission(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	rs := newRecordingServer(t)
	rs.respond = func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-remote"})
	}
	s, q := newTestStack(t, rs.server.URL)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, models.ActionCheckIn, models.CheckInPayload{SchoolID: "s"}, "user-1")
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, models.ActionCheckOut, models.CheckOutPayload{SessionID: "sess-1"}, "user-1")
	require.NoError(t, err)

	done := make(chan *models.SyncResult, 1)
	go func() {
		result, _ := s.Sync(ctx, onlineStatus(90, true), false)
		done <- result
	}()

	// While the first submission is held open, cancel the second action of
	// the same batch.
	<-entered
	ok, err := q.Cancel(ctx, second.ID)
	require.NoError(t, err)
	require.True(t, ok)
	close(release)

	result := <-done
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Synced)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []string{models.ActionCheckIn}, rs.received(), "The cancelled action must never reach the server")

	loadedFirst, err := q.GetAction(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSynced, loadedFirst.Status)

	loadedSecond, err := q.GetAction(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, loadedSecond.Status)
}

// TestSyncManager_CancelledActionNotSubmitted tests that cancel wins before a round
func TestSyncManager_CancelledActionNotSubmitted(t *testing.T) {
	rs := newRecordingServer(t)
	s, q := newTestStack(t, rs.server.URL)
	ctx := context.Background()

	action, err := q.Enqueue(ctx, models.ActionCheckIn, models.CheckInPayload{SchoolID: "s"}, "user-1")
	require.NoError(t, err)

	ok, err := q.Cancel(ctx, action.ID)
	require.NoError(t, err)
	require.True(t, ok)

	result, err := s.Sync(ctx, onlineStatus(90, true), true)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, rs.received())
}
