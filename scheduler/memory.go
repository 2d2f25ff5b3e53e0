package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/burrowsocial/burrow/errors"
)

// MemoryScheduler is the in-process fallback used when the durable backend is
// unavailable at startup. Jobs live in a map and fire on single-shot timers;
// everything is lost on restart and failed publishes are not retried.
//
// A timer that has fired cannot be interrogated, so cancellation races are
// resolved by the fire callback re-checking the map under the mutex as its
// first action: an absent entry means the job was cancelled and the fire is a
// no-op.
type MemoryScheduler struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	timers    map[string]*time.Timer
	nextID    int64
	completed int
	publisher Publisher
	notify    func(*Job)
	logger    *zap.SugaredLogger
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMemoryScheduler constructs the fallback backend. notify may be nil.
func NewMemoryScheduler(ctx context.Context, publisher Publisher, notify func(*Job), logger *zap.SugaredLogger) *MemoryScheduler {
	memCtx, cancel := context.WithCancel(ctx)
	return &MemoryScheduler{
		jobs:      make(map[string]*Job),
		timers:    make(map[string]*time.Timer),
		publisher: publisher,
		notify:    notify,
		logger:    logger.Named("memory"),
		ctx:       memCtx,
		cancel:    cancel,
	}
}

// Schedule arms a single-shot timer for the job. The identifier is a local
// monotonic counter - unique within this process only, which is all the
// fallback promises.
func (m *MemoryScheduler) Schedule(ctx context.Context, ownerID, content string, runAt time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	now := time.Now()
	job := &Job{
		ID:            fmt.Sprintf("mem-%d", m.nextID),
		OwnerID:       ownerID,
		Content:       content,
		RunAt:         runAt,
		Status:        StatusScheduled,
		NextAttemptAt: runAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	m.jobs[job.ID] = job
	m.timers[job.ID] = time.AfterFunc(time.Until(runAt), func() {
		m.fire(job.ID)
	})

	m.logger.Infow("Scheduled post (in-memory)",
		"job_id", job.ID,
		"owner_id", ownerID,
		"run_at", runAt.Format(time.RFC3339))

	m.notifyLocked(job)
	return job, nil
}

// Cancel deletes the map entry before the timer fires. An entry that is gone,
// or that belongs to another owner, is reported identically as not found.
func (m *MemoryScheduler) Cancel(ctx context.Context, jobID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return errors.NewNotFoundError("scheduled post %s", jobID)
	}

	switch job.Status {
	case StatusScheduled:
		// ok
	case StatusProcessing:
		return errors.Wrapf(errors.ErrInvalidState, "scheduled post %s is already publishing", jobID)
	default:
		// Only failed entries are retained past their fire; they can no
		// longer be cancelled, but cancelling one clears it from listings.
		delete(m.jobs, jobID)
		return errors.NewNotFoundError("scheduled post %s", jobID)
	}

	if timer, ok := m.timers[jobID]; ok {
		timer.Stop()
		delete(m.timers, jobID)
	}
	delete(m.jobs, jobID)

	job.Cancel()
	m.logger.Infow("Cancelled scheduled post (in-memory)", "job_id", jobID, "owner_id", ownerID)
	m.notifyLocked(job)

	return nil
}

// ListForOwner returns the owner's pending and retained failed jobs,
// soonest due first.
func (m *MemoryScheduler) ListForOwner(ctx context.Context, ownerID string) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []*Job
	for _, job := range m.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		copied := *job
		jobs = append(jobs, &copied)
	}

	// Map iteration order is random; present soonest-due first
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && jobs[j].RunAt.Before(jobs[j-1].RunAt); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}

	return jobs, nil
}

// Stats reports in-process counts. Completed jobs are deleted on success, so
// only a running total survives for them.
func (m *MemoryScheduler) Stats(ctx context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{Backend: BackendMemory, Completed: m.completed}
	now := time.Now()
	for _, job := range m.jobs {
		switch job.Status {
		case StatusScheduled:
			if job.RunAt.After(now) {
				stats.Delayed++
			} else {
				stats.Waiting++
			}
		case StatusProcessing:
			stats.Active++
		case StatusFailed:
			stats.Failed++
		}
	}
	stats.Total = stats.Waiting + stats.Active + stats.Completed + stats.Failed + stats.Delayed

	return stats, nil
}

// Stop cancels all pending timers and waits for in-flight publishes.
func (m *MemoryScheduler) Stop() {
	m.cancel()

	m.mu.Lock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
}

// fire runs when a job's timer elapses. The presence re-check under the mutex
// makes delete-before-fire cancellation race-free.
func (m *MemoryScheduler) fire(jobID string) {
	m.mu.Lock()
	job, ok := m.jobs[jobID]
	if !ok {
		// Cancelled before the timer could be stopped
		m.mu.Unlock()
		return
	}
	delete(m.timers, jobID)
	job.Start()
	m.notifyLocked(job)
	m.wg.Add(1)
	m.mu.Unlock()

	defer m.wg.Done()

	// Publish outside the lock; the job is in processing state so cancel
	// attempts fail with an invalid-state error in the meantime.
	err := m.publisher.Publish(m.ctx, job.OwnerID, job.Content)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		// No retry on the fallback: record the failure and keep the entry so
		// the owner can inspect it via listing.
		job.Fail(err)
		m.logger.Warnw("Publish failed (in-memory, no retry)",
			"job_id", job.ID,
			"owner_id", job.OwnerID,
			"error", err)
		m.notifyLocked(job)
		return
	}

	job.Complete()
	m.completed++
	delete(m.jobs, jobID)

	m.logger.Infow("Published scheduled post (in-memory)",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"run_at", job.RunAt.Format(time.RFC3339))
	m.notifyLocked(job)
}

// notifyLocked sends a snapshot of the job to the notifier.
// REQUIRES: m.mu must be held by caller.
func (m *MemoryScheduler) notifyLocked(job *Job) {
	if m.notify != nil {
		copied := *job
		m.notify(&copied)
	}
}
