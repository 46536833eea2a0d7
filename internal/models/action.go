// Package models defines the persisted domain types of the offline sync core.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Action type constants
const (
	ActionCheckIn        = "check_in"
	ActionCheckOut       = "check_out"
	ActionSessionUpdate  = "session_update"
	ActionLocationUpdate = "location_update"
)

// Action status constants
const (
	StatusPending   = "pending"
	StatusSyncing   = "syncing"
	StatusSynced    = "synced"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// validTransitions encodes the action lifecycle state machine. A status may
// only move to one of its listed successors; synced and cancelled are terminal.
var validTransitions = map[string][]string{
	StatusPending: {StatusSyncing, StatusCancelled},
	StatusSyncing: {StatusSynced, StatusFailed},
	StatusFailed:  {StatusSyncing, StatusPending, StatusCancelled},
}

// CanTransition reports whether a status change is allowed by the lifecycle.
func CanTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether a status permits no further transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusSynced || status == StatusCancelled
}

// Location is a GPS fix captured at check-in/check-out time.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

// CheckInPayload is the payload for check_in actions.
type CheckInPayload struct {
	SchoolID string   `json:"school_id"`
	UserID   string   `json:"user_id"`
	Location Location `json:"location"`
}

// CheckOutPayload is the payload for check_out actions.
type CheckOutPayload struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Location  Location `json:"location"`
}

// SessionUpdatePayload is the payload for session_update actions.
type SessionUpdatePayload struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id"`
	Fields    map[string]any `json:"fields"`
}

// LocationUpdatePayload is the payload for location_update actions.
type LocationUpdatePayload struct {
	SessionID string   `json:"session_id"`
	UserID    string   `json:"user_id"`
	Location  Location `json:"location"`
}

// QueuedAction corresponds to the queued_actions table. Records must remain
// readable across restarts using only these columns.
type QueuedAction struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Type       string         `gorm:"type:varchar(32);not null;index" json:"type"`
	Payload    datatypes.JSON `gorm:"type:text;not null" json:"payload"`
	Status     string         `gorm:"type:varchar(16);not null;index" json:"status"`
	Timestamp  int64          `gorm:"not null;index" json:"timestamp"`
	RetryCount int            `gorm:"not null;default:0" json:"retry_count"`
	UserID     string         `gorm:"type:varchar(64);not null;index" json:"user_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName sets the table name for gorm.
func (QueuedAction) TableName() string {
	return "queued_actions"
}

// DecodePayload unmarshals the JSON payload into the variant matching the
// action type, enabling exhaustive handling in the sync manager.
func (a *QueuedAction) DecodePayload() (any, error) {
	switch a.Type {
	case ActionCheckIn:
		var p CheckInPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode check_in payload for action %s: %w", a.ID, err)
		}
		return p, nil
	case ActionCheckOut:
		var p CheckOutPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode check_out payload for action %s: %w", a.ID, err)
		}
		return p, nil
	case ActionSessionUpdate:
		var p SessionUpdatePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode session_update payload for action %s: %w", a.ID, err)
		}
		return p, nil
	case ActionLocationUpdate:
		var p LocationUpdatePayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode location_update payload for action %s: %w", a.ID, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown action type: %s", a.Type)
	}
}

// QueueStats aggregates per-status action counts.
type QueueStats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Syncing   int64 `json:"syncing"`
	Synced    int64 `json:"synced"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}
