package models

import "time"

// Restoration trigger reasons
const (
	TriggerReconnection       = "reconnection"
	TriggerQualityImprovement = "quality-improvement"
	TriggerManual             = "manual"
	TriggerDelayedRetry       = "delayed-retry"
)

// SyncActionError records an individual action failure within a sync round.
type SyncActionError struct {
	ActionID  string `json:"action_id"`
	Type      string `json:"type"`
	Error     string `json:"error"`
	Transport bool   `json:"transport"`
	WillRetry bool   `json:"will_retry"`
}

// SyncResult summarizes a single sync round.
type SyncResult struct {
	Success      bool              `json:"success"`
	Processed    int               `json:"processed"`
	Synced       int               `json:"synced"`
	Failed       int               `json:"failed"`
	Skipped      int               `json:"skipped"`
	Duration     time.Duration     `json:"duration"`
	NetworkScore int               `json:"network_score"`
	Strategy     string            `json:"strategy"`
	Errors       []SyncActionError `json:"errors,omitempty"`
}

// Restoration is a diagnostic record of one restoration attempt. Kept in a
// bounded in-memory history, never persisted.
type Restoration struct {
	ID                string        `json:"id"`
	Timestamp         time.Time     `json:"timestamp"`
	TriggerReason     string        `json:"trigger_reason"`
	NetworkScore      int           `json:"network_score"`
	StabilityWaitTime time.Duration `json:"stability_wait_time"`
	SyncAttempts      int           `json:"sync_attempts"`
	SyncResults       []SyncResult  `json:"sync_results"`
	TotalDuration     time.Duration `json:"total_duration"`
	Success           bool          `json:"success"`
}
