package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/middleware"
	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
	"github.com/capitalize-ai/lifeos-orchestrator/pkg/metrics"
)

// StageEvent reports one executed stage.
type StageEvent struct {
	Stage  model.Stage       `json:"stage"`
	Status model.StageStatus `json:"status"`
}

// ErrorEvent reports a failure on the stream.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StreamTurn handles POST /api/v1/sessions/{sessionID}/turns/stream
// It streams a stage event per executed stage, then the turn result.
func (h *SessionHandler) StreamTurn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, ok := sessionParam(w, r)
	if !ok {
		return
	}
	req, ok := decodeTurn(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	userID := middleware.GetUserID(ctx)
	if err := h.sessions.Authorize(ctx, userID, sessionID); err != nil {
		h.serviceError(w, err, "failed to load session")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	res, err := h.sessions.Submit(ctx, userID, sessionID, req.Content, func(out model.StageOutput) {
		if ctx.Err() != nil {
			return
		}
		if err := sendSSEEvent(w, flusher, "stage", &StageEvent{Stage: out.Stage, Status: out.Status}); err != nil {
			h.logger.Debug("failed to send stage event", zap.Error(err))
		}
	})
	if err != nil {
		h.logger.Error("failed to process turn", zap.Error(err))
		sendSSEEvent(w, flusher, "error", &ErrorEvent{Code: "turn_error", Message: "failed to process turn"})
		return
	}
	if res.Cancelled {
		h.logger.Info("SSE client disconnected", zap.String("session_id", sessionID))
		return
	}

	sendSSEEvent(w, flusher, "turn_complete", &res)
	sendSSEEvent(w, flusher, "done", map[string]bool{"success": true})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
