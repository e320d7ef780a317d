package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stellarlinkco/briefops/internal/deliverable"
)

// ErrNotFound is returned when a row does not exist for the given user.
var ErrNotFound = errors.New("not found")

const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (e *Engine) CreateDeliverable(d *deliverable.Deliverable) error {
	if err := d.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.Status == "" {
		d.Status = deliverable.StatusActive
	}
	if d.Origin == "" {
		d.Origin = deliverable.OriginUserConfigured
	}

	schedule, sources, destination, err := marshalDeliverableFields(d)
	if err != nil {
		return err
	}

	_, err = e.db.Exec(`
		INSERT INTO deliverables
			(id, user_id, title, deliverable_type, schedule, sources, destination,
			 recipient_context, status, origin, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.UserID, d.Title, string(d.Type), schedule, sources, destination,
		d.RecipientContext, string(d.Status), string(d.Origin),
		formatTime(d.NextRunAt), formatTime(d.CreatedAt), formatTime(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create deliverable: %w", err)
	}
	return nil
}

func (e *Engine) UpdateDeliverable(d *deliverable.Deliverable) error {
	if err := d.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	d.UpdatedAt = time.Now().UTC()
	schedule, sources, destination, err := marshalDeliverableFields(d)
	if err != nil {
		return err
	}

	res, err := e.db.Exec(`
		UPDATE deliverables
		SET title = ?, deliverable_type = ?, schedule = ?, sources = ?, destination = ?,
		    recipient_context = ?, status = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`, d.Title, string(d.Type), schedule, sources, destination,
		d.RecipientContext, string(d.Status), formatTime(d.UpdatedAt), d.ID, d.UserID)
	if err != nil {
		return fmt.Errorf("update deliverable: %w", err)
	}
	return requireRow(res, "update deliverable")
}

// SetDeliverableStatus moves a deliverable between active/paused/archived.
// Archive is the only removal path; rows are never deleted.
func (e *Engine) SetDeliverableStatus(userID, id string, status deliverable.Status) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`
		UPDATE deliverables SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?
	`, string(status), formatTime(time.Now()), id, userID)
	if err != nil {
		return fmt.Errorf("set deliverable status: %w", err)
	}
	return requireRow(res, "set deliverable status")
}

// SetNextRun writes next_run_at. The scheduler is the only caller outside of
// manual triggers.
func (e *Engine) SetNextRun(userID, id string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.Exec(`
		UPDATE deliverables SET next_run_at = ?, updated_at = ? WHERE id = ? AND user_id = ?
	`, formatTime(at), formatTime(time.Now()), id, userID)
	if err != nil {
		return fmt.Errorf("set next run: %w", err)
	}
	return requireRow(res, "set next run")
}

func (e *Engine) GetDeliverable(userID, id string) (*deliverable.Deliverable, error) {
	row := e.db.QueryRow(deliverableSelect+` WHERE id = ? AND user_id = ?`, id, userID)
	d, err := scanDeliverable(row)
	if err != nil {
		return nil, fmt.Errorf("get deliverable: %w", err)
	}
	return d, nil
}

func (e *Engine) ListDeliverables(userID string, includeArchived bool) ([]deliverable.Deliverable, error) {
	q := deliverableSelect + ` WHERE user_id = ?`
	if !includeArchived {
		q += ` AND status != 'archived'`
	}
	q += ` ORDER BY created_at ASC`

	rows, err := e.db.Query(q, userID)
	if err != nil {
		return nil, fmt.Errorf("list deliverables: %w", err)
	}
	defer rows.Close()
	return scanDeliverables(rows)
}

// DueDeliverables returns active deliverables across all users whose
// next_run_at has passed. Paused and archived rows are skipped here; paused
// deliverables remain manually triggerable through the run-now path.
func (e *Engine) DueDeliverables(now time.Time) ([]deliverable.Deliverable, error) {
	rows, err := e.db.Query(deliverableSelect+`
		WHERE status = 'active' AND next_run_at != '' AND next_run_at <= ?
		ORDER BY next_run_at ASC
	`, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("due deliverables: %w", err)
	}
	defer rows.Close()
	return scanDeliverables(rows)
}

const deliverableSelect = `
	SELECT id, user_id, title, deliverable_type, schedule, sources, destination,
	       recipient_context, status, origin, next_run_at, created_at, updated_at
	FROM deliverables`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeliverable(row rowScanner) (*deliverable.Deliverable, error) {
	var d deliverable.Deliverable
	var schedule, sources, destination string
	var dType, status, origin, nextRun, created, updated string

	err := row.Scan(&d.ID, &d.UserID, &d.Title, &dType, &schedule, &sources, &destination,
		&d.RecipientContext, &status, &origin, &nextRun, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan deliverable: %w", err)
	}

	d.Type = deliverable.Type(dType)
	d.Status = deliverable.Status(status)
	d.Origin = deliverable.Origin(origin)
	d.NextRunAt = parseTime(nextRun)
	d.CreatedAt = parseTime(created)
	d.UpdatedAt = parseTime(updated)

	if err := json.Unmarshal([]byte(schedule), &d.Schedule); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &d.Sources); err != nil {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	if err := json.Unmarshal([]byte(destination), &d.Destination); err != nil {
		return nil, fmt.Errorf("decode destination: %w", err)
	}
	return &d, nil
}

func scanDeliverables(rows *sql.Rows) ([]deliverable.Deliverable, error) {
	result := make([]deliverable.Deliverable, 0)
	for rows.Next() {
		d, err := scanDeliverable(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deliverables: %w", err)
	}
	return result, nil
}

func marshalDeliverableFields(d *deliverable.Deliverable) (string, string, string, error) {
	schedule, err := json.Marshal(d.Schedule)
	if err != nil {
		return "", "", "", fmt.Errorf("encode schedule: %w", err)
	}
	sources, err := json.Marshal(d.Sources)
	if err != nil {
		return "", "", "", fmt.Errorf("encode sources: %w", err)
	}
	destination, err := json.Marshal(d.Destination)
	if err != nil {
		return "", "", "", fmt.Errorf("encode destination: %w", err)
	}
	return string(schedule), string(sources), string(destination), nil
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
