// Package store is the sqlite persistence engine for deliverables, versions,
// source watermarks, memory records, the activity log and work tickets.
// Every row is scoped to a single user id; all queries filter on it.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

type Engine struct {
	db *sql.DB
	mu sync.Mutex
}

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS deliverables (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			deliverable_type TEXT NOT NULL,
			schedule TEXT NOT NULL,
			sources TEXT NOT NULL,
			destination TEXT NOT NULL,
			recipient_context TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			origin TEXT NOT NULL DEFAULT 'user_configured',
			next_run_at TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deliverables_user ON deliverables(user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_deliverables_due ON deliverables(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS versions (
			id TEXT PRIMARY KEY,
			deliverable_id TEXT NOT NULL REFERENCES deliverables(id),
			user_id TEXT NOT NULL,
			version_number INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'generating',
			draft_content TEXT NOT NULL DEFAULT '',
			final_content TEXT NOT NULL DEFAULT '',
			feedback_notes TEXT NOT NULL DEFAULT '',
			edit_distance REAL NOT NULL DEFAULT 0,
			fetch_summary TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			staged_at TEXT NOT NULL DEFAULT '',
			approved_at TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(deliverable_id, version_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_deliverable ON versions(deliverable_id, version_number)`,
		`CREATE INDEX IF NOT EXISTS idx_versions_status ON versions(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS source_watermarks (
			deliverable_id TEXT NOT NULL,
			source_key TEXT NOT NULL,
			user_id TEXT NOT NULL,
			watermark TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (deliverable_id, source_key)
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			source TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0.5,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(user_id, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS activity_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			deliverable_id TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_user ON activity_log(user_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS work_tickets (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			deliverable_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			execution_mode TEXT NOT NULL DEFAULT '',
			progress_stage TEXT NOT NULL DEFAULT '',
			progress_percent INTEGER NOT NULL DEFAULT 0,
			progress_message TEXT NOT NULL DEFAULT '',
			fallback_reason TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			output_version_id TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_user ON work_tickets(user_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// UserIDs returns the distinct owners of at least one deliverable. The daily
// flywheel job iterates over this set.
func (e *Engine) UserIDs() ([]string, error) {
	rows, err := e.db.Query(`SELECT DISTINCT user_id FROM deliverables ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user ids: %w", err)
	}
	return ids, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ",?"
	}
	return out
}
