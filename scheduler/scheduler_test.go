package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/burrowsocial/burrow/errors"
	burrowtest "github.com/burrowsocial/burrow/internal/testing"
)

func newTestScheduler(t *testing.T, durable bool, publisher Publisher) *Scheduler {
	t.Helper()

	cfg := Config{
		PollInterval: 10 * time.Millisecond,
		RetryBackoff: 20 * time.Millisecond,
	}

	var s *Scheduler
	if durable {
		db := burrowtest.CreateTestDB(t)
		s = New(context.Background(), db, publisher, cfg, zap.NewNop().Sugar())
	} else {
		s = New(context.Background(), nil, publisher, cfg, zap.NewNop().Sugar())
	}
	t.Cleanup(s.Stop)
	return s
}

func TestSchedulerBindsDurableBackend(t *testing.T) {
	s := newTestScheduler(t, true, &recordingPublisher{})

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BackendDurable, stats.Backend)
	assert.Equal(t, BackendDurable, s.BackendType())
}

func TestSchedulerFallsBackWithoutDatabase(t *testing.T) {
	s := newTestScheduler(t, false, &recordingPublisher{})

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, stats.Backend)
	assert.Equal(t, BackendMemory, s.BackendType())
}

func TestSchedulerFallsBackOnClosedDatabase(t *testing.T) {
	db := burrowtest.CreateTestDB(t)
	require.NoError(t, db.Close())

	s := New(context.Background(), db, &recordingPublisher{}, Config{}, zap.NewNop().Sugar())
	t.Cleanup(s.Stop)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, stats.Backend)
}

func TestSchedulerValidatesBeforeScheduling(t *testing.T) {
	s := newTestScheduler(t, true, &recordingPublisher{})
	ctx := context.Background()

	_, err := s.Schedule(ctx, "alice", "too late", time.Now().Add(-time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidScheduleError(err))

	_, err = s.Schedule(ctx, "alice", "too far", time.Now().Add(2*DefaultMaxHorizon))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidScheduleError(err))

	_, err = s.Schedule(ctx, "", "no owner", time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = s.Schedule(ctx, "alice", "", time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestSchedulerEndToEndDurable(t *testing.T) {
	publisher := &recordingPublisher{}
	s := newTestScheduler(t, true, publisher)
	ctx := context.Background()

	job, err := s.Schedule(ctx, "alice", "see you soon", time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, job)

	waitFor(t, 5*time.Second, func() bool { return publisher.count() == 1 })

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)
}

func TestSchedulerCancelRoundTrip(t *testing.T) {
	publisher := &recordingPublisher{}
	s := newTestScheduler(t, true, publisher)
	ctx := context.Background()

	job, err := s.Schedule(ctx, "alice", "on second thought", time.Now().Add(time.Hour))
	require.NoError(t, err)

	jobs, err := s.ListForOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	require.NoError(t, s.Cancel(ctx, job.ID, "alice"))

	jobs, err = s.ListForOwner(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, jobs)

	err = s.Cancel(ctx, job.ID, "alice")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSchedulerSubscribersSeeTransitions(t *testing.T) {
	publisher := &recordingPublisher{}
	s := newTestScheduler(t, true, publisher)
	ctx := context.Background()

	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	_, err := s.Schedule(ctx, "alice", "broadcast me", time.Now().Add(30*time.Millisecond))
	require.NoError(t, err)

	var seen []Status
	deadline := time.After(5 * time.Second)
	for len(seen) < 3 {
		select {
		case ev := <-ch:
			seen = append(seen, ev.Status)
		case <-deadline:
			t.Fatalf("saw only %v before timeout", seen)
		}
	}

	assert.Equal(t, []Status{StatusScheduled, StatusProcessing, StatusCompleted}, seen)
}

func TestProbeDurable(t *testing.T) {
	ctx := context.Background()

	require.Error(t, ProbeDurable(ctx, nil))

	db := burrowtest.CreateTestDB(t)
	require.NoError(t, ProbeDurable(ctx, db))

	// The probe leaves no residue behind
	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM scheduled_posts`).Scan(&count))
	assert.Equal(t, 0, count)

	require.NoError(t, db.Close())
	require.Error(t, ProbeDurable(ctx, db))
}
