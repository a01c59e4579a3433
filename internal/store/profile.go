package store

import (
	"context"

	"github.com/capitalize-ai/lifeos-orchestrator/internal/model"
)

// DefaultProfileWindow is the number of recent turns a profile covers.
const DefaultProfileWindow = 20

// ProfileSource derives user profiles from a Store over a fixed window.
type ProfileSource struct {
	store  Store
	window int
}

// NewProfileSource creates a profile source. A non-positive window falls
// back to DefaultProfileWindow.
func NewProfileSource(s Store, window int) *ProfileSource {
	if window <= 0 {
		window = DefaultProfileWindow
	}
	return &ProfileSource{store: s, window: window}
}

// ProfileCounts returns intent counts over the user's recent turns.
func (p *ProfileSource) ProfileCounts(ctx context.Context, userID string) (model.Profile, error) {
	return p.store.ProfileCounts(ctx, userID, p.window)
}
