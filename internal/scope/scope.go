// Package scope decides how much history a source fetch covers and runs the
// fan-out that pulls content from every source of a deliverable.
package scope

import (
	"fmt"
	"time"

	"github.com/stellarlinkco/briefops/internal/deliverable"
)

// Window is the resolved time range for a single source fetch.
type Window struct {
	Since         time.Time
	Until         time.Time
	UsedWatermark bool
}

// WatermarkStore is the slice of the persistence engine the scope engine
// needs: read a source cursor and advance it after a successful fetch.
type WatermarkStore interface {
	Watermark(userID, deliverableID, sourceKey string) (*time.Time, error)
	AdvanceWatermark(userID, deliverableID, sourceKey string, to time.Time) error
}

// ResolveWindow computes the fetch range for one source at the given instant.
// Delta mode resumes from the stored watermark, falling back to a bounded
// lookback on first run. Fixed-window mode always covers the trailing
// recency_days and never reads a watermark.
func ResolveWindow(store WatermarkStore, userID, deliverableID string, src deliverable.Source, now time.Time) (Window, error) {
	switch src.Scope.Mode {
	case deliverable.ScopeDelta:
		wm, err := store.Watermark(userID, deliverableID, src.Key())
		if err != nil {
			return Window{}, fmt.Errorf("resolve window: %w", err)
		}
		if wm != nil {
			return Window{Since: *wm, Until: now, UsedWatermark: true}, nil
		}
		return Window{Since: now.AddDate(0, 0, -src.Scope.FallbackDays), Until: now}, nil
	case deliverable.ScopeFixedWindow:
		return Window{Since: now.AddDate(0, 0, -src.Scope.RecencyDays), Until: now}, nil
	default:
		return Window{}, fmt.Errorf("resolve window: unknown scope mode %q", src.Scope.Mode)
	}
}
