package model

import (
	"encoding/json"
	"time"
)

// TurnRecord is one persisted turn. It is immutable once written.
type TurnRecord struct {
	SessionID        string          `json:"session_id"`
	UserID           string          `json:"user_id"`
	TurnNumber       int             `json:"turn_number"`
	UserMessage      string          `json:"user_message"`
	AssistantMessage string          `json:"assistant_message"`
	Intent           Intent          `json:"intent"`
	Confidence       float64         `json:"confidence"`
	Data             json.RawMessage `json:"data,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Payload decodes the structured-data blob. It returns nil when the record
// carries no data or the blob is not a payload.
func (r *TurnRecord) Payload() *Payload {
	if r == nil || len(r.Data) == 0 {
		return nil
	}
	var p Payload
	if err := json.Unmarshal(r.Data, &p); err != nil {
		return nil
	}
	return &p
}

// SessionMetadata is the mutable per-session summary row.
type SessionMetadata struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	StartedAt    time.Time `json:"started_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	TotalTurns   int       `json:"total_turns"`
	Summary      string    `json:"summary"`
}

// Profile is the derived intent-frequency view of a user's recent turns.
type Profile map[Intent]int

// Total returns the number of turns the profile was computed over.
func (p Profile) Total() int {
	n := 0
	for _, c := range p {
		n += c
	}
	return n
}

// Dominant returns the most frequent intent. Ties resolve in classifier
// priority order. ok is false for an empty profile.
func (p Profile) Dominant() (Intent, bool) {
	var (
		best  Intent
		count int
	)
	for _, i := range Intents() {
		if p[i] > count {
			best, count = i, p[i]
		}
	}
	return best, count > 0
}

// HabitStatus is the outcome of one habit occurrence.
type HabitStatus string

const (
	HabitCompleted HabitStatus = "completed"
	HabitMissed    HabitStatus = "missed"
)

// HabitEvent is a completion or miss recorded by habit-tracking domain logic.
type HabitEvent struct {
	Habit  string      `json:"habit"`
	Status HabitStatus `json:"status"`
	At     time.Time   `json:"at"`
}
