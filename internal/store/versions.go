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

// ErrRunInFlight is returned when a deliverable already has a version in a
// non-terminal state. At most one version may be in flight per deliverable.
var ErrRunInFlight = errors.New("a version is already in flight for this deliverable")

// CreateVersion inserts a new version in generating state. The non-terminal
// check and the insert run inside one transaction so two concurrent runs
// cannot both pass the check.
func (e *Engine) CreateVersion(userID, deliverableID string) (*deliverable.Version, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin create version: %w", err)
	}
	defer tx.Rollback()

	var inFlight int
	err = tx.QueryRow(`
		SELECT COUNT(*) FROM versions
		WHERE deliverable_id = ? AND user_id = ? AND status IN ('generating', 'staged', 'reviewing')
	`, deliverableID, userID).Scan(&inFlight)
	if err != nil {
		return nil, fmt.Errorf("count in-flight versions: %w", err)
	}
	if inFlight > 0 {
		return nil, ErrRunInFlight
	}

	var maxNumber sql.NullInt64
	err = tx.QueryRow(`
		SELECT MAX(version_number) FROM versions WHERE deliverable_id = ?
	`, deliverableID).Scan(&maxNumber)
	if err != nil {
		return nil, fmt.Errorf("max version number: %w", err)
	}

	now := time.Now().UTC()
	v := &deliverable.Version{
		ID:            uuid.NewString(),
		DeliverableID: deliverableID,
		UserID:        userID,
		VersionNumber: int(maxNumber.Int64) + 1,
		Status:        deliverable.VersionGenerating,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = tx.Exec(`
		INSERT INTO versions (id, deliverable_id, user_id, version_number, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, v.ID, v.DeliverableID, v.UserID, v.VersionNumber, string(v.Status),
		formatTime(v.CreatedAt), formatTime(v.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("insert version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create version: %w", err)
	}
	return v, nil
}

// StageVersion moves generating -> staged and records the draft plus the
// source fetch summary in the same statement.
func (e *Engine) StageVersion(userID, versionID, draft string, summary *deliverable.FetchSummary) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	summaryJSON := ""
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("encode fetch summary: %w", err)
		}
		summaryJSON = string(data)
	}

	now := formatTime(time.Now())
	res, err := e.db.Exec(`
		UPDATE versions
		SET status = 'staged', draft_content = ?, fetch_summary = ?, staged_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = 'generating'
	`, draft, summaryJSON, now, now, versionID, userID)
	if err != nil {
		return fmt.Errorf("stage version: %w", err)
	}
	return requireRow(res, "stage version")
}

// SetVersionStatus performs a guarded state write: the row is only updated if
// it is currently in one of the allowed prior states.
func (e *Engine) SetVersionStatus(userID, versionID string, to deliverable.VersionStatus, from ...deliverable.VersionStatus) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	q := `UPDATE versions SET status = ?, updated_at = ? WHERE id = ? AND user_id = ?`
	args := []any{string(to), formatTime(time.Now()), versionID, userID}
	if len(from) > 0 {
		q += ` AND status IN (` + placeholders(len(from)) + `)`
		for _, s := range from {
			args = append(args, string(s))
		}
	}

	res, err := e.db.Exec(q, args...)
	if err != nil {
		return fmt.Errorf("set version status: %w", err)
	}
	return requireRow(res, "set version status")
}

// ApproveVersion finalizes a version: terminal approved state, optional user
// edit, feedback notes and the derived edit distance.
func (e *Engine) ApproveVersion(userID, versionID, finalContent, notes string, editDistance float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := formatTime(time.Now())
	res, err := e.db.Exec(`
		UPDATE versions
		SET status = 'approved', final_content = ?, feedback_notes = ?, edit_distance = ?,
		    approved_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status IN ('staged', 'reviewing')
	`, finalContent, notes, editDistance, now, now, versionID, userID)
	if err != nil {
		return fmt.Errorf("approve version: %w", err)
	}
	return requireRow(res, "approve version")
}

func (e *Engine) GetVersion(userID, versionID string) (*deliverable.Version, error) {
	row := e.db.QueryRow(versionSelect+` WHERE id = ? AND user_id = ?`, versionID, userID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

// LatestVersion returns the highest-numbered version, or ErrNotFound when the
// deliverable has never run.
func (e *Engine) LatestVersion(userID, deliverableID string) (*deliverable.Version, error) {
	row := e.db.QueryRow(versionSelect+`
		WHERE deliverable_id = ? AND user_id = ?
		ORDER BY version_number DESC LIMIT 1
	`, deliverableID, userID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, fmt.Errorf("latest version: %w", err)
	}
	return v, nil
}

func (e *Engine) ListVersions(userID, deliverableID string) ([]deliverable.Version, error) {
	rows, err := e.db.Query(versionSelect+`
		WHERE deliverable_id = ? AND user_id = ?
		ORDER BY version_number ASC
	`, deliverableID, userID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	result := make([]deliverable.Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return result, nil
}

// StuckGenerating returns versions sitting in generating since before the
// cutoff. These are defects to surface, not work to silently retry.
func (e *Engine) StuckGenerating(cutoff time.Time) ([]deliverable.Version, error) {
	rows, err := e.db.Query(versionSelect+`
		WHERE status = 'generating' AND created_at < ?
		ORDER BY created_at ASC
	`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("stuck generating: %w", err)
	}
	defer rows.Close()

	result := make([]deliverable.Version, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stuck versions: %w", err)
	}
	return result, nil
}

const versionSelect = `
	SELECT id, deliverable_id, user_id, version_number, status, draft_content,
	       final_content, feedback_notes, edit_distance, fetch_summary,
	       created_at, staged_at, approved_at, updated_at
	FROM versions`

func scanVersion(row rowScanner) (*deliverable.Version, error) {
	var v deliverable.Version
	var status, summaryJSON, created, staged, approved, updated string

	err := row.Scan(&v.ID, &v.DeliverableID, &v.UserID, &v.VersionNumber, &status,
		&v.DraftContent, &v.FinalContent, &v.FeedbackNotes, &v.EditDistanceScore,
		&summaryJSON, &created, &staged, &approved, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}

	v.Status = deliverable.VersionStatus(status)
	v.CreatedAt = parseTime(created)
	v.StagedAt = parseTime(staged)
	v.ApprovedAt = parseTime(approved)
	v.UpdatedAt = parseTime(updated)

	if summaryJSON != "" {
		var summary deliverable.FetchSummary
		if err := json.Unmarshal([]byte(summaryJSON), &summary); err != nil {
			return nil, fmt.Errorf("decode fetch summary: %w", err)
		}
		v.FetchSummary = &summary
	}
	return &v, nil
}
