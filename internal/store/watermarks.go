package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Watermark returns the last successful fetch cursor for a delta-mode source,
// or nil when the source has never fetched successfully.
func (e *Engine) Watermark(userID, deliverableID, sourceKey string) (*time.Time, error) {
	var raw string
	err := e.db.QueryRow(`
		SELECT watermark FROM source_watermarks
		WHERE deliverable_id = ? AND source_key = ? AND user_id = ?
	`, deliverableID, sourceKey, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark: %w", err)
	}

	t := parseTime(raw)
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}

// AdvanceWatermark records a successful fetch up to the given instant. The
// upsert never moves a watermark backwards, so a retried run that raced a
// newer fetch cannot re-expose already-consumed content.
func (e *Engine) AdvanceWatermark(userID, deliverableID, sourceKey string, to time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.db.Exec(`
		INSERT INTO source_watermarks (deliverable_id, source_key, user_id, watermark, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(deliverable_id, source_key) DO UPDATE SET
			watermark = MAX(watermark, excluded.watermark),
			updated_at = excluded.updated_at
	`, deliverableID, sourceKey, userID, formatTime(to), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	return nil
}
