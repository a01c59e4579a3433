package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

type memSession struct {
	meta  model.SessionMetadata
	turns []model.TurnRecord
}

type intentMark struct {
	intent model.Intent
	at     time.Time
}

// MemoryStore keeps everything in process memory. It is meant for tests and
// single-instance development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	// byUser lists each user's turn intents in append order.
	byUser map[string][]intentMark
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		byUser:   make(map[string][]intentMark),
	}
}

// AppendTurn implements Store.
func (s *MemoryStore) AppendTurn(ctx context.Context, rec *model.TurnRecord) error {
	if err := validateRecord(rec); err != nil {
		return &PersistenceError{Op: "append", SessionID: sessionOf(rec), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Op: "append", SessionID: rec.SessionID, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &PersistenceError{Op: "append", SessionID: rec.SessionID, Err: errClosed}
	}

	sess, ok := s.sessions[rec.SessionID]
	if ok && sess.meta.UserID != rec.UserID {
		return &PersistenceError{Op: "append", SessionID: rec.SessionID, Err: ErrSessionOwner}
	}

	last := 0
	if ok {
		last = sess.meta.TotalTurns
	}
	if rec.TurnNumber != last+1 {
		return &PersistenceError{
			Op:        "append",
			SessionID: rec.SessionID,
			Err:       fmt.Errorf("%w: got %d, want %d", ErrTurnConflict, rec.TurnNumber, last+1),
		}
	}

	stored := copyRecord(*rec)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	if !ok {
		sess = &memSession{meta: model.SessionMetadata{
			SessionID: rec.SessionID,
			UserID:    rec.UserID,
			StartedAt: stored.CreatedAt,
		}}
		s.sessions[rec.SessionID] = sess
	}
	sess.turns = append(sess.turns, stored)
	sess.meta.TotalTurns = stored.TurnNumber
	sess.meta.LastActiveAt = stored.CreatedAt

	s.byUser[rec.UserID] = append(s.byUser[rec.UserID], intentMark{intent: stored.Intent, at: stored.CreatedAt})
	return nil
}

// GetRecentTurns implements Store.
func (s *MemoryStore) GetRecentTurns(ctx context.Context, sessionID string, k int) ([]model.TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || k <= 0 {
		return []model.TurnRecord{}, nil
	}

	start := len(sess.turns) - k
	if start < 0 {
		start = 0
	}
	out := make([]model.TurnRecord, 0, len(sess.turns)-start)
	for _, t := range sess.turns[start:] {
		out = append(out, copyRecord(t))
	}
	return out, nil
}

// Summarize implements Store.
func (s *MemoryStore) Summarize(ctx context.Context, sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return buildSummary(0, nil), nil
	}

	recent := sess.turns
	if len(recent) > summaryTurns {
		recent = recent[len(recent)-summaryTurns:]
	}
	sess.meta.Summary = buildSummary(len(sess.turns), recent)
	return sess.meta.Summary, nil
}

// GetSessionMetadata implements Store.
func (s *MemoryStore) GetSessionMetadata(ctx context.Context, sessionID string) (*model.SessionMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	meta := sess.meta
	return &meta, nil
}

// ProfileCounts implements Store.
func (s *MemoryStore) ProfileCounts(ctx context.Context, userID string, window int) (model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if window <= 0 {
		window = DefaultProfileWindow
	}
	marks := s.byUser[userID]
	if len(marks) > window {
		marks = marks[len(marks)-window:]
	}

	profile := make(model.Profile)
	for _, m := range marks {
		profile[m.intent]++
	}
	return profile, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func copyRecord(r model.TurnRecord) model.TurnRecord {
	if r.Data != nil {
		r.Data = append(json.RawMessage(nil), r.Data...)
	}
	return r
}

func sessionOf(rec *model.TurnRecord) string {
	if rec == nil {
		return ""
	}
	return rec.SessionID
}
