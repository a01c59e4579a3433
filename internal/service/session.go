// Package service provides the session operations behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/store"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
)

// ErrNotFound is returned for unknown sessions and sessions owned by
// someone else.
var ErrNotFound = errors.New("session not found")

// TurnProcessor runs conversation turns.
type TurnProcessor interface {
	ProcessTurnObserved(ctx context.Context, req model.TurnRequest, observe orchestrator.StageObserver) model.TurnResult
}

// SessionService handles session operations for one authenticated user at
// a time.
type SessionService struct {
	store  store.Store
	turns  TurnProcessor
	logger *logger.Logger
}

// NewSessionService creates a new session service.
func NewSessionService(st store.Store, turns TurnProcessor, log *logger.Logger) *SessionService {
	return &SessionService{
		store:  st,
		turns:  turns,
		logger: log.Named("sessions"),
	}
}

// Create allocates a new session id. Nothing is stored until the first
// turn.
func (s *SessionService) Create(ctx context.Context, userID string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	s.logger.Info("session created", zap.String("session_id", id.String()), zap.String("user_id", userID))
	return id.String(), nil
}

// Get returns the session's metadata.
func (s *SessionService) Get(ctx context.Context, userID, sessionID string) (*model.SessionMetadata, error) {
	meta, err := s.store.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if meta == nil || meta.UserID != userID {
		return nil, ErrNotFound
	}
	return meta, nil
}

// RecentTurns returns up to limit turns, oldest first.
func (s *SessionService) RecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]model.TurnRecord, error) {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	turns, err := s.store.GetRecentTurns(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	return turns, nil
}

// Summary recomputes and returns the session summary.
func (s *SessionService) Summary(ctx context.Context, userID, sessionID string) (string, error) {
	if _, err := s.Get(ctx, userID, sessionID); err != nil {
		return "", err
	}
	summary, err := s.store.Summarize(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to summarize session: %w", err)
	}
	return summary, nil
}

// Authorize reports whether userID may submit turns to sessionID. A
// session that has no turns yet is open to whoever submits first.
func (s *SessionService) Authorize(ctx context.Context, userID, sessionID string) error {
	meta, err := s.store.GetSessionMetadata(ctx, sessionID)
	if err != nil {
		// The orchestrator degrades on read failures and the store still
		// rejects foreign writes, so let the turn through.
		s.logger.Warn("failed to check session owner", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	if meta != nil && meta.UserID != userID {
		return ErrNotFound
	}
	return nil
}

// Submit processes one utterance.
func (s *SessionService) Submit(ctx context.Context, userID, sessionID, content string, observe orchestrator.StageObserver) (model.TurnResult, error) {
	if err := s.Authorize(ctx, userID, sessionID); err != nil {
		return model.TurnResult{}, err
	}

	return s.turns.ProcessTurnObserved(ctx, model.TurnRequest{
		UserID:    userID,
		SessionID: sessionID,
		Utterance: content,
	}, observe), nil
}
