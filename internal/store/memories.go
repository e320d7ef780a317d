package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MemoryRecord is a durable key/value preference fact produced by the quality
// flywheel and consumed as generation context.
type MemoryRecord struct {
	ID         string
	UserID     string
	Key        string
	Value      string
	Source     string // explicit, feedback, pattern
	Confidence float64
	UpdatedAt  time.Time
}

// UpsertMemory creates or refreshes the record for (user, key). Re-running an
// extractor never duplicates records; it only refreshes value, confidence and
// timestamp.
func (e *Engine) UpsertMemory(userID, key, value, source string, confidence float64) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("upsert memory: empty key")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err := e.db.Exec(`
		INSERT INTO memories (id, user_id, key, value, source, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			source = excluded.source,
			confidence = excluded.confidence,
			updated_at = excluded.updated_at
	`, uuid.NewString(), userID, key, strings.TrimSpace(value), source, confidence, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("upsert memory: %w", err)
	}
	return nil
}

// ListMemories returns the user's records, most recently refreshed first.
func (e *Engine) ListMemories(userID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.db.Query(`
		SELECT id, user_id, key, value, source, confidence, updated_at
		FROM memories
		WHERE user_id = ?
		ORDER BY updated_at DESC, key ASC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// MemoriesByPrefix returns records whose key starts with the given namespace
// prefix, e.g. "pattern:".
func (e *Engine) MemoriesByPrefix(userID, prefix string) ([]MemoryRecord, error) {
	rows, err := e.db.Query(`
		SELECT id, user_id, key, value, source, confidence, updated_at
		FROM memories
		WHERE user_id = ? AND key LIKE ?
		ORDER BY updated_at DESC, key ASC
	`, userID, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("memories by prefix: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]MemoryRecord, error) {
	result := make([]MemoryRecord, 0)
	for rows.Next() {
		var m MemoryRecord
		var updated string
		if err := rows.Scan(&m.ID, &m.UserID, &m.Key, &m.Value, &m.Source, &m.Confidence, &updated); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.UpdatedAt = parseTime(updated)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return result, nil
}
