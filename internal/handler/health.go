package handler

import (
	"context"
	"net/http"
	"time"
)

// Pinger checks a dependency's liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnChecker reports a connection's state.
type ConnChecker interface {
	IsConnected() bool
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	store Pinger
	feed  ConnChecker
}

// NewHealthHandler creates a new health handler. feed is nil when the
// event feed is disabled.
func NewHealthHandler(store Pinger, feed ConnChecker) *HealthHandler {
	return &HealthHandler{
		store: store,
		feed:  feed,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "store unavailable",
		})
		return
	}

	if h.feed != nil && !h.feed.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}
