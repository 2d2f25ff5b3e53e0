package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowsocial/burrow/errors"
	burrowtest "github.com/burrowsocial/burrow/internal/testing"
)

func TestStoreCreateAndGetJob(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job := NewJob("alice", "scheduled announcement", time.Now().Add(time.Hour))
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "alice", got.OwnerID)
	assert.Equal(t, "scheduled announcement", got.Content)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, 0, got.Attempts)
}

func TestStoreGetJobNotFound(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob(context.Background(), "sp-nobody-0-deadbeef")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreCancelJob(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job := NewJob("alice", "cancel me", time.Now().Add(time.Hour))
	require.NoError(t, store.CreateJob(ctx, job))

	require.NoError(t, store.CancelJob(ctx, job.ID, "alice"))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestStoreCancelJobMissing(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)

	err := store.CancelJob(context.Background(), "sp-ghost-0-00000000", "alice")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

// A job belonging to someone else must be indistinguishable from a job that
// does not exist.
func TestStoreCancelJobWrongOwner(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job := NewJob("alice", "private draft", time.Now().Add(time.Hour))
	require.NoError(t, store.CreateJob(ctx, job))

	err := store.CancelJob(ctx, job.ID, "mallory")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	// Still scheduled for the real owner
	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
}

func TestStoreCancelJobAlreadyProcessing(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job := NewJob("alice", "in flight", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(ctx, job))

	claimed, err := store.ClaimDueJob(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	err = store.CancelJob(ctx, job.ID, "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))
}

func TestStoreCancelJobAlreadyCompleted(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job := NewJob("alice", "already out", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(ctx, job))

	claimed, err := store.ClaimDueJob(ctx, time.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.MarkCompleted(ctx, job.ID))

	err = store.CancelJob(ctx, job.ID, "alice")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreClaimDueJob(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now()

	early := NewJob("alice", "first in line", now.Add(-2*time.Minute))
	late := NewJob("alice", "second in line", now.Add(-1*time.Minute))
	future := NewJob("alice", "not yet", now.Add(time.Hour))
	require.NoError(t, store.CreateJob(ctx, early))
	require.NoError(t, store.CreateJob(ctx, late))
	require.NoError(t, store.CreateJob(ctx, future))

	// Oldest due job comes out first
	claimed, err := store.ClaimDueJob(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, early.ID, claimed.ID)
	assert.Equal(t, StatusProcessing, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	claimed, err = store.ClaimDueJob(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, late.ID, claimed.ID)

	// The future job is not due
	claimed, err = store.ClaimDueJob(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestStoreClaimDueJobEmpty(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)

	claimed, err := store.ClaimDueJob(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestStoreRescheduleRetry(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now()

	job := NewJob("alice", "flaky publish", now.Add(-time.Second))
	require.NoError(t, store.CreateJob(ctx, job))

	claimed, err := store.ClaimDueJob(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	nextAttempt := now.Add(2 * time.Second)
	require.NoError(t, store.RescheduleRetry(ctx, job.ID, nextAttempt))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.Equal(t, 1, got.Attempts, "attempts survive the reschedule")
	assert.Empty(t, got.Error, "only failed jobs carry an error")
	// The originally requested time is never rewritten
	assert.WithinDuration(t, job.RunAt, got.RunAt, time.Millisecond)
	assert.WithinDuration(t, nextAttempt, got.NextAttemptAt, time.Millisecond)

	// Not yet due at now, due once the backoff elapses
	claimed, err = store.ClaimDueJob(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, claimed)

	claimed, err = store.ClaimDueJob(ctx, now.Add(3*time.Second))
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, 2, claimed.Attempts)
}

func TestStoreMarkFailed(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job := NewJob("alice", "doomed", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(ctx, job))
	_, err := store.ClaimDueJob(ctx, time.Now())
	require.NoError(t, err)

	require.NoError(t, store.MarkFailed(ctx, job.ID, "rejected by publisher"))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "rejected by publisher", got.Error)
}

func TestStoreListForOwner(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now()

	pending := NewJob("alice", "pending", now.Add(2*time.Hour))
	soon := NewJob("alice", "soon", now.Add(time.Hour))
	other := NewJob("bob", "not alice's", now.Add(time.Hour))
	done := NewJob("alice", "done", now.Add(-time.Minute))
	require.NoError(t, store.CreateJob(ctx, pending))
	require.NoError(t, store.CreateJob(ctx, soon))
	require.NoError(t, store.CreateJob(ctx, other))
	require.NoError(t, store.CreateJob(ctx, done))

	claimed, err := store.ClaimDueJob(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.MarkCompleted(ctx, done.ID))

	jobs, err := store.ListForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, jobs, 2, "completed jobs and other owners' jobs are excluded")
	assert.Equal(t, soon.ID, jobs[0].ID, "soonest due first")
	assert.Equal(t, pending.ID, jobs[1].ID)
}

func TestStoreListForOwnerIncludesFailed(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	job := NewJob("alice", "failed publish", time.Now().Add(-time.Second))
	require.NoError(t, store.CreateJob(ctx, job))
	_, err := store.ClaimDueJob(ctx, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.MarkFailed(ctx, job.ID, "downstream error"))

	jobs, err := store.ListForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusFailed, jobs[0].Status)
}

func TestStoreCounts(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()
	now := time.Now()

	due := NewJob("alice", "due", now.Add(-time.Minute))
	delayed := NewJob("alice", "delayed", now.Add(time.Hour))
	require.NoError(t, store.CreateJob(ctx, due))
	require.NoError(t, store.CreateJob(ctx, delayed))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[StatusScheduled])

	dueCount, err := store.CountDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, dueCount)
}

func TestStoreCleanupOldJobs(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	done := NewJob("alice", "old news", time.Now().Add(-time.Second))
	pending := NewJob("alice", "still pending", time.Now().Add(time.Hour))
	require.NoError(t, store.CreateJob(ctx, done))
	require.NoError(t, store.CreateJob(ctx, pending))

	_, err := store.ClaimDueJob(ctx, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.MarkCompleted(ctx, done.ID))

	// Zero retention makes every terminal job eligible immediately
	removed, err := store.CleanupOldJobs(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetJob(ctx, done.ID)
	assert.True(t, errors.IsNotFoundError(err))

	// Pending jobs are never swept
	_, err = store.GetJob(ctx, pending.ID)
	assert.NoError(t, err)
}

func TestStoreGetJobQueryError(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("disk I/O error"))

	store := NewStore(mockDB)
	_, err = store.GetJob(context.Background(), "sp-alice-0-deadbeef")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}
