package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/common/event"
	"judgeflow/internal/solution/model"
)

var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionRepository defines submission persistence.
type SubmissionRepository interface {
	Create(ctx context.Context, submission *model.Submission) error
	GetByID(ctx context.Context, id string) (*model.Submission, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.Submission, error)
	CountDaily(ctx context.Context, userID string, since time.Time) ([]model.ActivityDay, error)
	// CompleteIfPending applies t only while the row is still PENDING and
	// reports whether this call performed the transition.
	CompleteIfPending(ctx context.Context, id string, t model.Transition) (bool, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Submission, error)
	// ListUnscored returns terminal rows in the given statuses whose
	// progress update never landed, last touched inside [after, before).
	ListUnscored(ctx context.Context, statuses []model.Status, after, before time.Time, limit int) ([]*model.Submission, error)
}

// MySQLSubmissionRepository implements SubmissionRepository with MySQL.
type MySQLSubmissionRepository struct {
	db db.Database
}

// NewSubmissionRepository creates a MySQL submission repository.
func NewSubmissionRepository(database db.Database) *MySQLSubmissionRepository {
	return &MySQLSubmissionRepository{db: database}
}

const submissionColumns = "id, user_id, task_id, code, language, status, tests_passed, tests_total, feedback, progress_applied, created_at, updated_at"

// Create inserts a submission record.
func (r *MySQLSubmissionRepository) Create(ctx context.Context, submission *model.Submission) error {
	if submission == nil {
		return errors.New("submission is nil")
	}
	if submission.ID == "" {
		return errors.New("id is required")
	}
	if submission.UserID == "" {
		return errors.New("userID is required")
	}
	if submission.CreatedAt.IsZero() {
		submission.CreatedAt = time.Now().UTC()
	}
	submission.UpdatedAt = submission.CreatedAt
	feedback, err := encodeFeedback(submission.Feedback)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO solutions
		(id, user_id, task_id, code, language, status, tests_passed, tests_total, feedback, progress_applied, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.Exec(
		ctx,
		query,
		submission.ID,
		submission.UserID,
		submission.TaskID,
		submission.Code,
		string(submission.Language),
		string(submission.Status),
		submission.TestsPassed,
		submission.TestsTotal,
		feedback,
		submission.ProgressApplied,
		submission.CreatedAt,
		submission.UpdatedAt,
	)
	return err
}

// GetByID retrieves a submission by id.
func (r *MySQLSubmissionRepository) GetByID(ctx context.Context, id string) (*model.Submission, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	query := "SELECT " + submissionColumns + " FROM solutions WHERE id = ? LIMIT 1"
	submission, err := scanSubmission(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	return submission, nil
}

// ListByUser returns the user's submissions, newest first.
func (r *MySQLSubmissionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM solutions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?"
	return r.list(ctx, query, userID, limit)
}

// ListStalePending returns PENDING submissions created before the cutoff, oldest first.
func (r *MySQLSubmissionRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*model.Submission, error) {
	query := "SELECT " + submissionColumns + " FROM solutions WHERE status = ? AND created_at < ? ORDER BY created_at ASC LIMIT ?"
	return r.list(ctx, query, string(model.StatusPending), createdBefore, limit)
}

// ListUnscored returns rows whose scoring is still outstanding, oldest update first.
func (r *MySQLSubmissionRepository) ListUnscored(ctx context.Context, statuses []model.Status, after, before time.Time, limit int) ([]*model.Submission, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(statuses)+3)
	for _, st := range statuses {
		args = append(args, string(st))
	}
	args = append(args, after, before, limit)
	query := "SELECT " + submissionColumns + " FROM solutions WHERE progress_applied = 0 AND status IN (" +
		db.Placeholders(len(statuses)) + ") AND updated_at >= ? AND updated_at < ? ORDER BY updated_at ASC LIMIT ?"
	return r.list(ctx, query, args...)
}

// CountDaily counts the user's submissions per calendar day since the given time.
func (r *MySQLSubmissionRepository) CountDaily(ctx context.Context, userID string, since time.Time) ([]model.ActivityDay, error) {
	query := `
		SELECT DATE(created_at) AS day, COUNT(*)
		FROM solutions
		WHERE user_id = ? AND created_at >= ?
		GROUP BY day
		ORDER BY day ASC
	`
	rows, err := r.db.Query(ctx, query, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []model.ActivityDay
	for rows.Next() {
		var (
			day   time.Time
			count int
		)
		if err := rows.Scan(&day, &count); err != nil {
			return nil, err
		}
		days = append(days, model.ActivityDay{Date: day.Format(time.DateOnly), Count: count})
	}
	return days, rows.Err()
}

// CompleteIfPending performs the PENDING compare-and-set.
func (r *MySQLSubmissionRepository) CompleteIfPending(ctx context.Context, id string, t model.Transition) (bool, error) {
	if id == "" {
		return false, errors.New("id is required")
	}
	if !t.Status.IsTerminal() {
		return false, errors.New("target status must be terminal")
	}
	feedback, err := encodeFeedback(t.Feedback)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE solutions
		SET status = ?, feedback = ?, tests_passed = ?,
			tests_total = IF(? > 0, ?, tests_total), updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := r.db.Exec(
		ctx,
		query,
		string(t.Status),
		feedback,
		t.TestsPassed,
		t.TestsTotal,
		t.TestsTotal,
		time.Now().UTC(),
		id,
		string(model.StatusPending),
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *MySQLSubmissionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*model.Submission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Submission
	for rows.Next() {
		submission, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, submission)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSubmission(row scanner) (*model.Submission, error) {
	var (
		submission model.Submission
		language   string
		status     string
		feedback   []byte
	)
	if err := row.Scan(
		&submission.ID,
		&submission.UserID,
		&submission.TaskID,
		&submission.Code,
		&language,
		&status,
		&submission.TestsPassed,
		&submission.TestsTotal,
		&feedback,
		&submission.ProgressApplied,
		&submission.CreatedAt,
		&submission.UpdatedAt,
	); err != nil {
		return nil, err
	}
	submission.Language = event.Language(language)
	submission.Status = model.Status(status)
	submission.Feedback = decodeFeedback(feedback)
	return &submission, nil
}

// Feedback is stored as a JSON string in a JSON column; NULL means none.
func encodeFeedback(feedback string) (interface{}, error) {
	if feedback == "" {
		return nil, nil
	}
	data, err := json.Marshal(feedback)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeFeedback(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return string(raw)
	}
	return text
}
