package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/burrowsocial/burrow/errors"
)

// Store handles persistence of scheduled post jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new scheduled post store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobSelectColumns = `id, owner_id, content, run_at, status, error,
	attempts, next_attempt_at, created_at, updated_at`

func scanJob(row interface{ Scan(...interface{}) error }, job *Job) error {
	return row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Content,
		&job.RunAt,
		&job.Status,
		&job.Error,
		&job.Attempts,
		&job.NextAttemptAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func scanJobs(rows *sql.Rows, what string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := scanJob(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", what)
	}

	return jobs, nil
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO scheduled_posts (
			id, owner_id, content, run_at, status, error,
			attempts, next_attempt_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		job.Content,
		job.RunAt,
		job.Status,
		job.Error,
		job.Attempts,
		job.NextAttemptAt,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create scheduled post")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobSelectColumns + ` FROM scheduled_posts WHERE id = ?`

	var job Job
	err := scanJob(s.db.QueryRowContext(ctx, query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("scheduled post %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get scheduled post")
	}

	return &job, nil
}

// CancelJob atomically cancels a job that is still scheduled and owned by
// ownerID. Missing and not-owned jobs are indistinguishable (ErrNotFound);
// a job already picked up for publishing returns ErrInvalidState.
func (s *Store) CancelJob(ctx context.Context, id, ownerID string) error {
	query := `
		UPDATE scheduled_posts
		SET status = ?, updated_at = ?
		WHERE id = ? AND owner_id = ? AND status = ?
	`

	result, err := s.db.ExecContext(ctx, query, StatusCancelled, time.Now(), id, ownerID, StatusScheduled)
	if err != nil {
		return errors.Wrap(err, "failed to cancel scheduled post")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 1 {
		return nil
	}

	// The conditional update missed. Distinguish "picked up for publishing"
	// from everything else without disclosing other owners' jobs.
	var status Status
	err = s.db.QueryRowContext(ctx,
		`SELECT status FROM scheduled_posts WHERE id = ? AND owner_id = ?`, id, ownerID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError("scheduled post %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to check scheduled post state")
	}

	if status == StatusProcessing {
		return errors.Wrapf(errors.ErrInvalidState, "scheduled post %s is already publishing", id)
	}
	// Terminal: already completed, failed, or cancelled
	return errors.NewNotFoundError("scheduled post %s", id)
}

// ClaimDueJob atomically picks up the oldest due job and marks it processing.
// Returns nil when no job is due.
func (s *Store) ClaimDueJob(ctx context.Context, now time.Time) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim transaction")
	}
	defer tx.Rollback()

	query := `SELECT ` + jobSelectColumns + `
		FROM scheduled_posts
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at ASC
		LIMIT 1`

	var job Job
	err = scanJob(tx.QueryRowContext(ctx, query, StatusScheduled, now), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // nothing due
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find due job")
	}

	job.Start()

	result, err := tx.ExecContext(ctx,
		`UPDATE scheduled_posts SET status = ?, attempts = ?, updated_at = ? WHERE id = ? AND status = ?`,
		job.Status, job.Attempts, job.UpdatedAt, job.ID, StatusScheduled,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mark job processing")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		// Cancelled between select and update
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit claim")
	}

	return &job, nil
}

// MarkCompleted records a successful publish.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	return s.finish(ctx, id, StatusCompleted, "")
}

// MarkFailed records a terminal publish failure with its error message.
func (s *Store) MarkFailed(ctx context.Context, id, errMsg string) error {
	return s.finish(ctx, id, StatusFailed, errMsg)
}

func (s *Store) finish(ctx context.Context, id string, status Status, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now(), id,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s", status)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("scheduled post %s", id)
	}

	return nil
}

// RescheduleRetry puts a processing job back in the scheduled state with its
// next attempt time. Attempts stays as incremented by the claim; the error
// column is cleared because only failed jobs carry one.
func (s *Store) RescheduleRetry(ctx context.Context, id string, nextAttempt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_posts SET status = ?, error = '', next_attempt_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusScheduled, nextAttempt, time.Now(), id, StatusProcessing,
	)
	if err != nil {
		return errors.Wrap(err, "failed to reschedule retry")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("scheduled post %s", id)
	}

	return nil
}

// ListForOwner returns the owner's scheduled, processing, and failed jobs,
// soonest due first.
func (s *Store) ListForOwner(ctx context.Context, ownerID string) ([]*Job, error) {
	query := `SELECT ` + jobSelectColumns + `
		FROM scheduled_posts
		WHERE owner_id = ? AND status IN (?, ?, ?)
		ORDER BY run_at ASC`

	rows, err := s.db.QueryContext(ctx, query, ownerID, StatusScheduled, StatusProcessing, StatusFailed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scheduled posts")
	}
	defer rows.Close()

	return scanJobs(rows, "scheduled posts")
}

// CountByStatus returns job counts grouped by status. Waiting and delayed are
// both reported as scheduled here; Stats splits them on next_attempt_at.
func (s *Store) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM scheduled_posts GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan count")
		}
		counts[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating counts")
	}

	return counts, nil
}

// CountDue returns how many scheduled jobs are already due at now.
func (s *Store) CountDue(ctx context.Context, now time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scheduled_posts WHERE status = ? AND next_attempt_at <= ?`,
		StatusScheduled, now,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count due jobs")
	}
	return count, nil
}

// CleanupOldJobs removes terminal jobs older than the specified duration,
// bounding how much history the durable backend retains.
func (s *Store) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduled_posts
		WHERE status IN (?, ?, ?)
		  AND updated_at < ?
	`, StatusCompleted, StatusFailed, StatusCancelled, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}
