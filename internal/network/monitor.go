// Package network implements the network quality monitor. A binary
// reachable/unreachable flag is too coarse for sync decisions: a host can be
// nominally online behind a captive portal or a saturated link. The monitor
// folds reachability, bandwidth and latency hints into a 0-100 score plus a
// rolling stability classification, which the sync layer uses for graduated
// decisions.
package network

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"schools-in/internal/types"

	"github.com/sirupsen/logrus"
)

// Score thresholds and formula weights.
const (
	scoreBaseOnline    = 40
	scoreDownlinkHigh  = 30 // >= 5 Mbps
	scoreDownlinkMid   = 20 // >= 1.5 Mbps
	scoreDownlinkLow   = 10 // > 0
	scoreRTTFast       = 20 // <= 50ms
	scoreRTTModerate   = 15 // <= 150ms
	scoreRTTSlow       = 5  // > 0
	ScoreSyncThreshold = 30

	// stableSampleCount is how many consecutive trailing samples must agree
	// with the current state for the link to count as stable.
	stableSampleCount = 3
)

// QualityHints carries optional connection-quality signals. Absent fields
// contribute zero to the score.
type QualityHints struct {
	EffectiveType string  `json:"effective_type,omitempty"`
	DownlinkMbps  float64 `json:"downlink_mbps,omitempty"`
	RTTMillis     int     `json:"rtt_millis,omitempty"`
}

type sample struct {
	online bool
	at     time.Time
}

// Monitor observes connectivity signals and derives a NetworkStatus.
type Monitor struct {
	mu      sync.RWMutex
	online  bool
	hints   QualityHints
	samples []sample
	window  time.Duration

	healthURL    string
	probeTimeout time.Duration
	pingTimeout  time.Duration
	client       *http.Client

	muObservers sync.Mutex
	observers   map[int]func(types.NetworkStatus)
	nextObsID   int

	probeInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewMonitor creates a monitor. The initial state is offline until the first
// signal or probe arrives.
func NewMonitor(configManager types.ConfigManager) *Monitor {
	cfg := configManager.GetNetworkConfig()
	return &Monitor{
		window:        cfg.StabilityWindow,
		healthURL:     cfg.HealthURL,
		probeTimeout:  cfg.ProbeTimeout,
		pingTimeout:   cfg.PingTimeout,
		probeInterval: cfg.ProbeInterval,
		client:        &http.Client{},
		observers:     make(map[int]func(types.NetworkStatus)),
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background probe loop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
	logrus.Debug("Network monitor started")
}

// Stop stops the probe loop.
func (m *Monitor) Stop(ctx context.Context) {
	m.stopOnce.Do(func() { close(m.stopCh) })

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Network monitor stopped gracefully.")
	case <-ctx.Done():
		logrus.Warn("Network monitor stop timed out.")
	}
}

func (m *Monitor) run() {
	defer m.wg.Done()

	// Establish an initial state before the first tick.
	m.probe()

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.probe()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.probeTimeout)
	defer cancel()
	if _, err := m.CheckConnectivity(ctx); err != nil {
		logrus.WithError(err).Debug("Connectivity probe failed")
	}
}

// ReportSignal records a host-reported online/offline transition, mirroring
// the platform connectivity events an embedding host may receive.
func (m *Monitor) ReportSignal(online bool, hints *QualityHints) {
	m.mu.Lock()
	m.online = online
	if hints != nil {
		m.hints = *hints
	}
	m.recordSampleLocked(online)
	status := m.statusLocked()
	m.mu.Unlock()

	m.notify(status)
}

// CheckConnectivity actively probes the health endpoint. Any 2xx response
// counts as reachable. The measured latency feeds the RTT hint.
func (m *Monitor) CheckConnectivity(ctx context.Context) (bool, error) {
	if m.healthURL == "" {
		return false, fmt.Errorf("health URL is not configured")
	}

	latency, err := m.Ping(ctx)
	online := err == nil

	m.mu.Lock()
	m.online = online
	if online {
		m.hints.RTTMillis = int(latency.Milliseconds())
		if m.hints.RTTMillis == 0 {
			m.hints.RTTMillis = 1
		}
	}
	m.recordSampleLocked(online)
	status := m.statusLocked()
	m.mu.Unlock()

	m.notify(status)
	return online, err
}

// Ping measures round-trip latency to the health endpoint with a bounded
// timeout. It does not record a connectivity sample.
func (m *Monitor) Ping(ctx context.Context) (time.Duration, error) {
	if m.healthURL == "" {
		return 0, fmt.Errorf("health URL is not configured")
	}

	pingCtx, cancel := context.WithTimeout(ctx, m.pingTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pingCtx, http.MethodHead, m.healthURL, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	latency := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return latency, fmt.Errorf("health probe returned status %d", resp.StatusCode)
	}
	return latency, nil
}

// recordSampleLocked appends a sample and prunes the rolling window.
// Must be called with the write lock held.
func (m *Monitor) recordSampleLocked(online bool) {
	now := time.Now()
	m.samples = append(m.samples, sample{online: online, at: now})

	cutoff := now.Add(-m.window)
	firstLive := 0
	for firstLive < len(m.samples) && m.samples[firstLive].at.Before(cutoff) {
		firstLive++
	}
	m.samples = m.samples[firstLive:]
}

// Status returns a snapshot of the current network status.
func (m *Monitor) Status() types.NetworkStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() types.NetworkStatus {
	score := m.scoreLocked()
	stable, unstable := m.stabilityLocked()
	return types.NetworkStatus{
		IsOnline:          m.online,
		ConnectivityScore: score,
		IsStable:          stable,
		IsUnstable:        unstable,
		EffectiveType:     m.hints.EffectiveType,
		DownlinkMbps:      m.hints.DownlinkMbps,
		RTTMillis:         m.hints.RTTMillis,
	}
}

// scoreLocked computes the connectivity score. Offline is always 0.
func (m *Monitor) scoreLocked() int {
	if !m.online {
		return 0
	}

	score := scoreBaseOnline

	switch {
	case m.hints.DownlinkMbps >= 5:
		score += scoreDownlinkHigh
	case m.hints.DownlinkMbps >= 1.5:
		score += scoreDownlinkMid
	case m.hints.DownlinkMbps > 0:
		score += scoreDownlinkLow
	}

	switch {
	case m.hints.RTTMillis > 0 && m.hints.RTTMillis <= 50:
		score += scoreRTTFast
	case m.hints.RTTMillis > 0 && m.hints.RTTMillis <= 150:
		score += scoreRTTModerate
	case m.hints.RTTMillis > 0:
		score += scoreRTTSlow
	}

	switch m.hints.EffectiveType {
	case "4g":
		score += 10
	case "3g":
		score += 7
	case "2g":
		score += 3
	case "slow-2g":
		score += 1
	}

	if score > 100 {
		score = 100
	}
	return score
}

// stabilityLocked classifies the rolling window. Stable requires the last
// stableSampleCount samples to agree with the current state; unstable means
// the window holds at least two samples that disagree with each other.
func (m *Monitor) stabilityLocked() (stable, unstable bool) {
	n := len(m.samples)
	if n >= stableSampleCount {
		stable = true
		for _, s := range m.samples[n-stableSampleCount:] {
			if s.online != m.online {
				stable = false
				break
			}
		}
	}

	if n >= 2 {
		first := m.samples[0].online
		for _, s := range m.samples[1:] {
			if s.online != first {
				unstable = true
				break
			}
		}
	}
	return stable, unstable
}

// ShouldSync reports whether the link is good enough to drain the queue now.
func (m *Monitor) ShouldSync() bool {
	status := m.Status()
	return status.IsOnline && status.ConnectivityScore >= ScoreSyncThreshold && status.IsStable
}

// ShouldDelaySync reports whether the host is online but the link quality
// argues for waiting.
func (m *Monitor) ShouldDelaySync() bool {
	status := m.Status()
	return status.IsOnline && (status.ConnectivityScore < ScoreSyncThreshold || status.IsUnstable)
}

// Subscribe registers an observer for status changes and returns an
// unsubscribe handle. Notification is best-effort: observers run on the
// notifier goroutine and must not block.
func (m *Monitor) Subscribe(observer func(types.NetworkStatus)) func() {
	m.muObservers.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = observer
	m.muObservers.Unlock()

	return func() {
		m.muObservers.Lock()
		delete(m.observers, id)
		m.muObservers.Unlock()
	}
}

func (m *Monitor) notify(status types.NetworkStatus) {
	m.muObservers.Lock()
	observers := make([]func(types.NetworkStatus), 0, len(m.observers))
	for _, obs := range m.observers {
		observers = append(observers, obs)
	}
	m.muObservers.Unlock()

	for _, obs := range observers {
		obs(status)
	}
}
