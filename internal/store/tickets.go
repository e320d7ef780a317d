package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ticket statuses.
const (
	TicketPending   = "pending"
	TicketQueued    = "queued"
	TicketRunning   = "running"
	TicketCompleted = "completed"
	TicketFailed    = "failed"
)

// Execution modes.
const (
	ModeBackground  = "background"
	ModeSynchronous = "synchronous"
)

// WorkTicket is one unit of queued background execution.
type WorkTicket struct {
	ID              string
	UserID          string
	DeliverableID   string
	Status          string
	ExecutionMode   string
	ProgressStage   string
	ProgressPercent int
	ProgressMessage string
	FallbackReason  string
	Attempts        int
	LastError       string
	OutputVersionID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (e *Engine) CreateTicket(userID, deliverableID string) (*WorkTicket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	t := &WorkTicket{
		ID:            uuid.NewString(),
		UserID:        userID,
		DeliverableID: deliverableID,
		Status:        TicketPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := e.db.Exec(`
		INSERT INTO work_tickets (id, user_id, deliverable_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.DeliverableID, t.Status, formatTime(now), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return t, nil
}

func (e *Engine) GetTicket(userID, ticketID string) (*WorkTicket, error) {
	row := e.db.QueryRow(ticketSelect+` WHERE id = ? AND user_id = ?`, ticketID, userID)
	t, err := scanTicket(row)
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

// SetTicketMode records how the ticket will execute and why, moving it out of
// pending. fallbackReason is empty for background execution. A terminal
// ticket is never moved back to an earlier status.
func (e *Engine) SetTicketMode(userID, ticketID, mode, fallbackReason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := TicketQueued
	if mode == ModeSynchronous {
		status = TicketRunning
	}
	res, err := e.db.Exec(`
		UPDATE work_tickets
		SET status = ?, execution_mode = ?, fallback_reason = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status NOT IN ('completed', 'failed')
	`, status, mode, fallbackReason, formatTime(time.Now()), ticketID, userID)
	if err != nil {
		return fmt.Errorf("set ticket mode: %w", err)
	}
	return requireRow(res, "set ticket mode")
}

// ClaimTicket moves a queued/pending ticket to running and bumps the attempt
// counter. A completed ticket is never claimed again, which is what makes a
// retried ticket id idempotent.
func (e *Engine) ClaimTicket(userID, ticketID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`
		UPDATE work_tickets
		SET status = 'running', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND status IN ('pending', 'queued', 'running')
	`, formatTime(time.Now()), ticketID, userID)
	if err != nil {
		return false, fmt.Errorf("claim ticket: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim ticket: %w", err)
	}
	return n > 0, nil
}

func (e *Engine) SetTicketProgress(userID, ticketID, stage string, percent int, message string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res, err := e.db.Exec(`
		UPDATE work_tickets
		SET progress_stage = ?, progress_percent = ?, progress_message = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, stage, percent, message, formatTime(time.Now()), ticketID, userID)
	if err != nil {
		return fmt.Errorf("set ticket progress: %w", err)
	}
	return requireRow(res, "set ticket progress")
}

// CompleteTicket records the produced version and terminates the ticket.
func (e *Engine) CompleteTicket(userID, ticketID, versionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`
		UPDATE work_tickets
		SET status = 'completed', output_version_id = ?, progress_percent = 100, updated_at = ?
		WHERE id = ? AND user_id = ? AND status != 'completed'
	`, versionID, formatTime(time.Now()), ticketID, userID)
	if err != nil {
		return fmt.Errorf("complete ticket: %w", err)
	}
	return requireRow(res, "complete ticket")
}

func (e *Engine) FailTicket(userID, ticketID, reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`
		UPDATE work_tickets
		SET status = 'failed', last_error = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status != 'completed'
	`, reason, formatTime(time.Now()), ticketID, userID)
	if err != nil {
		return fmt.Errorf("fail ticket: %w", err)
	}
	return requireRow(res, "fail ticket")
}

const ticketSelect = `
	SELECT id, user_id, deliverable_id, status, execution_mode, progress_stage,
	       progress_percent, progress_message, fallback_reason, attempts,
	       last_error, output_version_id, created_at, updated_at
	FROM work_tickets`

func scanTicket(row rowScanner) (*WorkTicket, error) {
	var t WorkTicket
	var created, updated string
	err := row.Scan(&t.ID, &t.UserID, &t.DeliverableID, &t.Status, &t.ExecutionMode,
		&t.ProgressStage, &t.ProgressPercent, &t.ProgressMessage, &t.FallbackReason,
		&t.Attempts, &t.LastError, &t.OutputVersionID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ticket: %w", err)
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}
