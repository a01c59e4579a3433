// Package handler provides HTTP handlers for the API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/middleware"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/orchestrator"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/service"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/logger"
)

const (
	defaultTurnsLimit = 20
	maxBodyBytes      = 64 << 10
)

// Sessions is the session service as the handlers use it.
type Sessions interface {
	Create(ctx context.Context, userID string) (string, error)
	Get(ctx context.Context, userID, sessionID string) (*model.SessionMetadata, error)
	RecentTurns(ctx context.Context, userID, sessionID string, limit int) ([]model.TurnRecord, error)
	Summary(ctx context.Context, userID, sessionID string) (string, error)
	Authorize(ctx context.Context, userID, sessionID string) error
	Submit(ctx context.Context, userID, sessionID, content string, observe orchestrator.StageObserver) (model.TurnResult, error)
}

// CreateSessionResponse is returned by POST /sessions.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// TurnsResponse is returned by GET /sessions/{sessionID}/turns.
type TurnsResponse struct {
	SessionID string             `json:"session_id"`
	Turns     []model.TurnRecord `json:"turns"`
}

// SummaryResponse is returned by GET /sessions/{sessionID}/summary.
type SummaryResponse struct {
	SessionID string `json:"session_id"`
	Summary   string `json:"summary"`
}

// SubmitTurnRequest is the body of the turn endpoints.
type SubmitTurnRequest struct {
	Content string `json:"content"`
}

// SessionHandler handles session endpoints.
type SessionHandler struct {
	sessions Sessions
	logger   *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions Sessions, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   log,
	}
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := h.sessions.Create(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, &CreateSessionResponse{SessionID: id})
}

// Get handles GET /api/v1/sessions/{sessionID}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	meta, err := h.sessions.Get(ctx, middleware.GetUserID(ctx), sessionID)
	if err != nil {
		h.serviceError(w, err, "failed to load session")
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// Turns handles GET /api/v1/sessions/{sessionID}/turns
func (h *SessionHandler) Turns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	limit := defaultTurnsLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed <= 0 || parsed > middleware.MaxTurnsLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 50")
			return
		}
		limit = parsed
	}

	turns, err := h.sessions.RecentTurns(ctx, middleware.GetUserID(ctx), sessionID, limit)
	if err != nil {
		h.serviceError(w, err, "failed to load turns")
		return
	}

	writeJSON(w, http.StatusOK, &TurnsResponse{SessionID: sessionID, Turns: turns})
}

// Summary handles GET /api/v1/sessions/{sessionID}/summary
func (h *SessionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}

	summary, err := h.sessions.Summary(ctx, middleware.GetUserID(ctx), sessionID)
	if err != nil {
		h.serviceError(w, err, "failed to summarize session")
		return
	}

	writeJSON(w, http.StatusOK, &SummaryResponse{SessionID: sessionID, Summary: summary})
}

// SubmitTurn handles POST /api/v1/sessions/{sessionID}/turns
func (h *SessionHandler) SubmitTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	res, err := h.sessions.Submit(ctx, middleware.GetUserID(ctx), sessionID, req.Content, nil)
	if err != nil {
		h.serviceError(w, err, "failed to process turn")
		return
	}
	if res.Cancelled {
		return
	}

	if res.PersistenceWarning {
		w.Header().Set("X-Persistence-Warning", "true")
	}
	writeJSON(w, http.StatusOK, &res)
}

func (h *SessionHandler) serviceError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, service.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	h.logger.Error(message, zap.Error(err))
	writeError(w, http.StatusInternalServerError, message)
}

func sessionParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "sessionID")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

func decodeTurn(w http.ResponseWriter, r *http.Request) (*SubmitTurnRequest, bool) {
	var req SubmitTurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := middleware.ValidateContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}
