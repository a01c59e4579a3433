package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id        TEXT NOT NULL,
	user_id           TEXT NOT NULL,
	turn_number       INTEGER NOT NULL,
	user_message      TEXT NOT NULL,
	assistant_message TEXT NOT NULL,
	intent            TEXT NOT NULL,
	intent_confidence REAL NOT NULL,
	extracted_data    TEXT,
	created_at        TEXT NOT NULL,
	UNIQUE(session_id, turn_number)
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, id);

CREATE TABLE IF NOT EXISTS sessions (
	session_id     TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	started_at     TEXT NOT NULL,
	last_active_at TEXT NOT NULL,
	total_turns    INTEGER NOT NULL DEFAULT 0,
	summary        TEXT NOT NULL DEFAULT ''
);
`

// SQLiteStore is the durable Store backed by a SQLite file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database at path. ":memory:"
// gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases
	// shared between queries.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// AppendTurn implements Store.
func (s *SQLiteStore) AppendTurn(ctx context.Context, rec *model.TurnRecord) error {
	if err := validateRecord(rec); err != nil {
		return &PersistenceError{Op: "append", SessionID: sessionOf(rec), Err: err}
	}
	if err := s.appendTurn(ctx, rec); err != nil {
		return &PersistenceError{Op: "append", SessionID: rec.SessionID, Err: err}
	}
	return nil
}

func (s *SQLiteStore) appendTurn(ctx context.Context, rec *model.TurnRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		owner string
		last  int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, total_turns FROM sessions WHERE session_id = ?`, rec.SessionID,
	).Scan(&owner, &last)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("reading session: %w", err)
	case owner != rec.UserID:
		return ErrSessionOwner
	}

	if rec.TurnNumber != last+1 {
		return fmt.Errorf("%w: got %d, want %d", ErrTurnConflict, rec.TurnNumber, last+1)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	ts := formatTime(createdAt)

	var data any
	if len(rec.Data) > 0 {
		data = string(rec.Data)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO conversations
			(session_id, user_id, turn_number, user_message, assistant_message,
			 intent, intent_confidence, extracted_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.UserID, rec.TurnNumber, rec.UserMessage, rec.AssistantMessage,
		string(rec.Intent), rec.Confidence, data, ts,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, started_at, last_active_at, total_turns)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			last_active_at = excluded.last_active_at,
			total_turns    = excluded.total_turns`,
		rec.SessionID, rec.UserID, ts, ts, rec.TurnNumber,
	)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetRecentTurns implements Store.
func (s *SQLiteStore) GetRecentTurns(ctx context.Context, sessionID string, k int) ([]model.TurnRecord, error) {
	if k <= 0 {
		return []model.TurnRecord{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, turn_number, user_message, assistant_message,
		       intent, intent_confidence, extracted_data, created_at
		FROM conversations
		WHERE session_id = ?
		ORDER BY turn_number DESC
		LIMIT ?`, sessionID, k)
	if err != nil {
		return nil, &PersistenceError{Op: "read", SessionID: sessionID, Err: err}
	}
	defer rows.Close()

	turns := make([]model.TurnRecord, 0, k)
	for rows.Next() {
		var (
			rec    model.TurnRecord
			intent string
			data   sql.NullString
			ts     string
		)
		if err := rows.Scan(&rec.SessionID, &rec.UserID, &rec.TurnNumber, &rec.UserMessage,
			&rec.AssistantMessage, &intent, &rec.Confidence, &data, &ts); err != nil {
			return nil, &PersistenceError{Op: "read", SessionID: sessionID, Err: err}
		}
		rec.Intent = model.Intent(intent)
		if data.Valid && data.String != "" {
			rec.Data = []byte(data.String)
		}
		rec.CreatedAt = parseTime(ts)
		turns = append(turns, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "read", SessionID: sessionID, Err: err}
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Summarize implements Store.
func (s *SQLiteStore) Summarize(ctx context.Context, sessionID string) (string, error) {
	meta, err := s.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return buildSummary(0, nil), nil
	}

	recent, err := s.GetRecentTurns(ctx, sessionID, summaryTurns)
	if err != nil {
		return "", err
	}

	summary := buildSummary(meta.TotalTurns, recent)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ? WHERE session_id = ?`, summary, sessionID,
	); err != nil {
		return "", &PersistenceError{Op: "summarize", SessionID: sessionID, Err: err}
	}
	return summary, nil
}

// GetSessionMetadata implements Store.
func (s *SQLiteStore) GetSessionMetadata(ctx context.Context, sessionID string) (*model.SessionMetadata, error) {
	var (
		meta           model.SessionMetadata
		started, added string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, started_at, last_active_at, total_turns, summary
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&meta.SessionID, &meta.UserID, &started, &added, &meta.TotalTurns, &meta.Summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "metadata", SessionID: sessionID, Err: err}
	}
	meta.StartedAt = parseTime(started)
	meta.LastActiveAt = parseTime(added)
	return &meta, nil
}

// ProfileCounts implements Store.
func (s *SQLiteStore) ProfileCounts(ctx context.Context, userID string, window int) (model.Profile, error) {
	if window <= 0 {
		window = DefaultProfileWindow
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT intent, COUNT(*) FROM (
			SELECT intent FROM conversations
			WHERE user_id = ?
			ORDER BY id DESC
			LIMIT ?
		) GROUP BY intent`, userID, window)
	if err != nil {
		return nil, &PersistenceError{Op: "profile", Err: err}
	}
	defer rows.Close()

	profile := make(model.Profile)
	for rows.Next() {
		var (
			intent string
			count  int
		)
		if err := rows.Scan(&intent, &count); err != nil {
			return nil, &PersistenceError{Op: "profile", Err: err}
		}
		profile[model.Intent(intent)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "profile", Err: err}
	}
	return profile, nil
}

// Ping implements Store.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
