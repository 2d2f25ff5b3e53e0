// Package scheduler provides delayed publishing of posts. A facade selects a
// durable SQLite-backed queue when the database is writable at startup, or an
// in-memory timer-based scheduler when it is not, and exposes the same
// schedule/cancel/list/stats contract over both.
package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/burrowsocial/burrow/errors"
)

// Status represents the current state of a scheduled post job
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusScheduled, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status permits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DefaultMaxHorizon is how far into the future a post may be scheduled.
const DefaultMaxHorizon = 365 * 24 * time.Hour

// Job represents one pending (or recently finished) scheduled post.
//
// RunAt is the caller's requested publish time and is never rewritten;
// retries on the durable backend track their own NextAttemptAt so the
// original schedule stays inspectable after backoff has kicked in.
type Job struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Content       string    `json:"content"`
	RunAt         time.Time `json:"run_at"`
	Status        Status    `json:"status"`
	Error         string    `json:"error,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewJob creates a job in the scheduled state with a durable-namespace
// identifier. The id embeds owner and due time so accidental duplicate
// scheduling is distinguishable in logs; it is not used for deduplication.
func NewJob(ownerID, content string, runAt time.Time) *Job {
	now := time.Now()
	return &Job{
		ID:            fmt.Sprintf("sp-%s-%d-%s", ownerID, runAt.Unix(), uuid.NewString()[:8]),
		OwnerID:       ownerID,
		Content:       content,
		RunAt:         runAt,
		Status:        StatusScheduled,
		NextAttemptAt: runAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Start marks the job as processing
func (j *Job) Start() {
	j.Status = StatusProcessing
	j.Attempts++
	j.UpdatedAt = time.Now()
}

// Complete marks the job as completed
func (j *Job) Complete() {
	j.Status = StatusCompleted
	j.Error = ""
	j.UpdatedAt = time.Now()
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	j.Status = StatusFailed
	j.Error = err.Error()
	j.UpdatedAt = time.Now()
}

// Cancel marks the job as cancelled
func (j *Job) Cancel() {
	j.Status = StatusCancelled
	j.UpdatedAt = time.Now()
}

// ValidateRunAt enforces the scheduling window: strictly in the future and at
// most horizon ahead of now. A zero horizon applies DefaultMaxHorizon.
func ValidateRunAt(now, runAt time.Time, horizon time.Duration) error {
	if runAt.IsZero() {
		return errors.Wrap(errors.ErrInvalidSchedule, "scheduled time is required")
	}
	if horizon <= 0 {
		horizon = DefaultMaxHorizon
	}
	if !runAt.After(now) {
		return errors.NewInvalidScheduleError("scheduled time %s is not in the future", runAt.Format(time.RFC3339))
	}
	if runAt.Sub(now) > horizon {
		return errors.NewInvalidScheduleError("scheduled time %s is more than %s ahead", runAt.Format(time.RFC3339), horizon)
	}
	return nil
}
