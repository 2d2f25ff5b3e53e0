package scheduler

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// DurableScheduler is the SQLite-backed scheduler: jobs survive restarts and
// failed publishes are retried with bounded exponential backoff.
type DurableScheduler struct {
	store  *Store
	worker *Worker
	notify func(*Job)
	logger *zap.SugaredLogger
}

// NewDurableScheduler constructs the durable backend and starts its publish
// worker. notify may be nil.
func NewDurableScheduler(ctx context.Context, sqldb *sql.DB, publisher Publisher, cfg WorkerConfig, notify func(*Job), logger *zap.SugaredLogger) *DurableScheduler {
	store := NewStore(sqldb)
	worker := NewWorker(ctx, store, publisher, cfg, notify, logger)
	worker.Start()

	return &DurableScheduler{
		store:  store,
		worker: worker,
		notify: notify,
		logger: logger.Named("durable"),
	}
}

func (d *DurableScheduler) notifyJob(job *Job) {
	if d.notify != nil {
		copied := *job
		d.notify(&copied)
	}
}

// Schedule creates a persisted job due at runAt.
func (d *DurableScheduler) Schedule(ctx context.Context, ownerID, content string, runAt time.Time) (*Job, error) {
	job := NewJob(ownerID, content, runAt)
	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	d.logger.Infow("Scheduled post",
		"job_id", job.ID,
		"owner_id", ownerID,
		"run_at", runAt.Format(time.RFC3339))

	d.notifyJob(job)
	return job, nil
}

// Cancel removes a still-scheduled job owned by ownerID.
func (d *DurableScheduler) Cancel(ctx context.Context, jobID, ownerID string) error {
	if err := d.store.CancelJob(ctx, jobID, ownerID); err != nil {
		return err
	}

	d.logger.Infow("Cancelled scheduled post", "job_id", jobID, "owner_id", ownerID)

	if d.notify != nil {
		if job, err := d.store.GetJob(ctx, jobID); err == nil {
			d.notify(job)
		}
	}
	return nil
}

// ListForOwner returns the owner's pending, in-flight, and retained failed jobs.
func (d *DurableScheduler) ListForOwner(ctx context.Context, ownerID string) ([]*Job, error) {
	return d.store.ListForOwner(ctx, ownerID)
}

// Stats returns queue counts. Waiting and delayed split the scheduled set on
// whether the next attempt is already due.
func (d *DurableScheduler) Stats(ctx context.Context) (*Stats, error) {
	counts, err := d.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	due, err := d.store.CountDue(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	scheduled := counts[StatusScheduled]
	stats := &Stats{
		Waiting:   due,
		Active:    counts[StatusProcessing],
		Completed: counts[StatusCompleted],
		Failed:    counts[StatusFailed],
		Delayed:   scheduled - due,
		Backend:   BackendDurable,
	}
	stats.Total = scheduled + stats.Active + stats.Completed + stats.Failed + counts[StatusCancelled]

	return stats, nil
}

// Stop shuts down the publish worker.
func (d *DurableScheduler) Stop() {
	d.worker.Stop()
}
