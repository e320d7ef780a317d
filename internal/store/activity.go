package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Activity event types appended by the pipeline and mined by the flywheel.
const (
	EventDeliverableRun      = "deliverable_run"
	EventDeliverableApproved = "deliverable_approved"
	EventDeliverableRejected = "deliverable_rejected"
	EventDeliverableFailed   = "deliverable_failed"
	EventDelivered           = "delivered"
	EventSignalDecision      = "signal_decision"
)

// ActivityLogEntry is an immutable append-only event with a metadata payload.
type ActivityLogEntry struct {
	ID            string
	UserID        string
	EventType     string
	DeliverableID string
	Metadata      map[string]any
	CreatedAt     time.Time
}

func (e *Engine) AppendActivity(userID, eventType, deliverableID string, metadata map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload := "{}"
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode activity metadata: %w", err)
		}
		payload = string(data)
	}

	_, err := e.db.Exec(`
		INSERT INTO activity_log (id, user_id, event_type, deliverable_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), userID, eventType, deliverableID, payload, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ActivitySince returns the user's events newer than the cutoff, oldest first.
func (e *Engine) ActivitySince(userID string, since time.Time) ([]ActivityLogEntry, error) {
	rows, err := e.db.Query(`
		SELECT id, user_id, event_type, deliverable_id, metadata, created_at
		FROM activity_log
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at ASC
	`, userID, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("activity since: %w", err)
	}
	defer rows.Close()
	return scanActivity(rows)
}

// HasActivityWithMetadata reports whether a recent event of the given type
// carries the given metadata key/value. The signal engine uses this to
// fingerprint already-handled signals.
func (e *Engine) HasActivityWithMetadata(userID, eventType, metaKey, metaValue string, since time.Time) (bool, error) {
	entries, err := e.ActivitySince(userID, since)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.EventType != eventType {
			continue
		}
		if v, ok := entry.Metadata[metaKey].(string); ok && v == metaValue {
			return true, nil
		}
	}
	return false, nil
}

func scanActivity(rows *sql.Rows) ([]ActivityLogEntry, error) {
	result := make([]ActivityLogEntry, 0)
	for rows.Next() {
		var entry ActivityLogEntry
		var payload, created string
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.EventType, &entry.DeliverableID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		entry.CreatedAt = parseTime(created)
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("decode activity metadata: %w", err)
			}
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity: %w", err)
	}
	return result, nil
}
