package model

import (
	"time"
)

// EventType represents the type of turn event.
type EventType string

const (
	EventTypeTurnCompleted     EventType = "turn_completed"
	EventTypeStageDegraded     EventType = "stage_degraded"
	EventTypePersistenceFailed EventType = "persistence_failed"
)

// TurnEvent is published to the turn event feed.
type TurnEvent struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	UserID     string         `json:"user_id"`
	TurnNumber int            `json:"turn_number"`
	Type       EventType      `json:"type"`
	Stage      Stage          `json:"stage,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Record     *TurnRecord    `json:"record,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
