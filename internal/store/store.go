// Package store persists conversation turns and session metadata.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

var (
	// ErrTurnConflict is wrapped when a turn number is not the session's
	// last turn number plus one.
	ErrTurnConflict = errors.New("turn number conflict")

	// ErrSessionOwner is wrapped when a turn is appended to a session owned
	// by a different user.
	ErrSessionOwner = errors.New("session belongs to another user")

	errClosed = errors.New("store closed")
)

// PersistenceError reports a failed store operation.
type PersistenceError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s (session %s): %v", e.Op, e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store is the durable conversation log. Implementations are safe for
// concurrent use.
type Store interface {
	// AppendTurn writes an immutable turn record and upserts the session's
	// metadata. The record's turn number must be the session's last turn
	// number plus one.
	AppendTurn(ctx context.Context, rec *model.TurnRecord) error

	// GetRecentTurns returns up to k most recent turns, oldest first. An
	// unknown session yields an empty slice.
	GetRecentTurns(ctx context.Context, sessionID string, k int) ([]model.TurnRecord, error)

	// Summarize recomputes the session's rolling summary from stored turns,
	// saves it on the metadata and returns it.
	Summarize(ctx context.Context, sessionID string) (string, error)

	// GetSessionMetadata returns nil, nil for an unknown session.
	GetSessionMetadata(ctx context.Context, sessionID string) (*model.SessionMetadata, error)

	// ProfileCounts counts intents over the user's last window turns across
	// all sessions.
	ProfileCounts(ctx context.Context, userID string, window int) (model.Profile, error)

	Ping(ctx context.Context) error
	Close() error
}

// Driver names a Store implementation.
type Driver string

const (
	DriverSQLite Driver = "sqlite"
	DriverMemory Driver = "memory"
)

// Open creates the store named by driver. path is ignored by the memory
// driver.
func Open(driver Driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func validateRecord(rec *model.TurnRecord) error {
	switch {
	case rec == nil:
		return errors.New("nil record")
	case rec.SessionID == "":
		return errors.New("empty session id")
	case rec.UserID == "":
		return errors.New("empty user id")
	case rec.TurnNumber < 1:
		return fmt.Errorf("%w: turn number %d", ErrTurnConflict, rec.TurnNumber)
	}
	return nil
}
