package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/burrowsocial/burrow/db"
	"github.com/burrowsocial/burrow/errors"
)

// WorkerConfig contains configuration for the durable publish worker
type WorkerConfig struct {
	Workers       int           `json:"workers"`        // Number of concurrent workers
	PollInterval  time.Duration `json:"poll_interval"`  // How often to check for due jobs
	MaxAttempts   int           `json:"max_attempts"`   // Publish attempts before a job is failed
	RetryBackoff  time.Duration `json:"retry_backoff"`  // First retry delay; doubles per attempt
	Retention     time.Duration `json:"retention"`      // How long terminal jobs are kept
	PublishPerSec float64       `json:"publish_per_sec"` // Publish rate limit (0 = unlimited)
}

// DefaultWorkerConfig returns sensible defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Workers:       1, // Single worker keeps simultaneously-due jobs FIFO
		PollInterval:  1 * time.Second,
		MaxAttempts:   3,
		RetryBackoff:  2 * time.Second,
		Retention:     24 * time.Hour,
		PublishPerSec: 10,
	}
}

// retentionSweepInterval is how often terminal history is pruned.
const retentionSweepInterval = 10 * time.Minute

// Worker polls the durable store for due jobs and publishes them.
type Worker struct {
	store     *Store
	publisher Publisher
	limiter   *rate.Limiter
	config    WorkerConfig
	notify    func(*Job)
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *zap.SugaredLogger
}

// NewWorker creates a publish worker. notify may be nil; when set it receives
// every job transition the worker performs.
func NewWorker(ctx context.Context, store *Store, publisher Publisher, cfg WorkerConfig, notify func(*Job), logger *zap.SugaredLogger) *Worker {
	workerCtx, cancel := context.WithCancel(ctx)

	var limiter *rate.Limiter
	if cfg.PublishPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.PublishPerSec), 1)
	}

	return &Worker{
		store:     store,
		publisher: publisher,
		limiter:   limiter,
		config:    cfg,
		notify:    notify,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    logger.Named("worker"),
	}
}

// Start begins processing due jobs.
func (w *Worker) Start() {
	workers := w.config.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		w.wg.Add(1)
		go w.run(i)
	}

	w.wg.Add(1)
	go w.retentionLoop()

	w.logger.Infow("Publish worker started",
		"workers", workers,
		"poll_interval", w.config.PollInterval,
		"max_attempts", w.config.MaxAttempts)
}

// Stop gracefully stops the worker, waiting for in-flight publishes with a
// timeout so shutdown is never blocked indefinitely.
func (w *Worker) Stop() {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timeout := 30 * time.Second
	select {
	case <-done:
		w.logger.Infow("Publish worker stopped cleanly")
	case <-time.After(timeout):
		w.logger.Warnw("Publish worker stop timeout", "timeout", timeout)
	}
}

// run is a single worker loop.
func (w *Worker) run(id int) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Error backoff state
	errorCount := 0
	const maxConsecutiveErrors = 5
	backoffDuration := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.processNextJob(); err != nil {
				select {
				case <-w.ctx.Done():
					// Shutting down - exit silently
					return
				default:
				}
				if errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
					// Database closed during shutdown - exit silently
					return
				}

				errorCount++
				w.logger.Errorw("Worker error processing job",
					"worker_id", id,
					"error", err,
					"consecutive_errors", errorCount)

				if errorCount >= maxConsecutiveErrors {
					w.logger.Warnw("Worker backing off due to consecutive errors",
						"worker_id", id,
						"backoff", backoffDuration,
						"consecutive_errors", errorCount)
					time.Sleep(backoffDuration)
					backoffDuration = min(backoffDuration*2, maxBackoff)
				}
			} else {
				if errorCount > 0 {
					w.logger.Infow("Worker recovered from errors",
						"worker_id", id,
						"previous_error_count", errorCount)
				}
				errorCount = 0
				backoffDuration = time.Second
			}
		}
	}
}

// processNextJob claims the oldest due job and publishes it.
func (w *Worker) processNextJob() error {
	select {
	case <-w.ctx.Done():
		return nil
	default:
	}

	// Gate on the publish rate limit BEFORE claiming so a throttled worker
	// leaves jobs claimable rather than holding them in processing.
	if w.limiter != nil && !w.limiter.Allow() {
		return nil
	}

	job, err := w.store.ClaimDueJob(w.ctx, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to claim due job")
	}
	if job == nil {
		return nil // nothing due
	}

	w.notifyJob(job)

	if err := w.publisher.Publish(w.ctx, job.OwnerID, job.Content); err != nil {
		return w.handlePublishFailure(job, err)
	}

	job.Complete()
	if err := w.store.MarkCompleted(w.ctx, job.ID); err != nil {
		return errors.Wrapf(err, "failed to complete job %s", job.ID)
	}
	w.notifyJob(job)

	w.logger.Infow("Published scheduled post",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"run_at", job.RunAt.Format(time.RFC3339),
		"attempts", job.Attempts)

	return nil
}

// handlePublishFailure retries with exponential backoff until the attempt
// limit, then records the failure on the job.
func (w *Worker) handlePublishFailure(job *Job, pubErr error) error {
	if job.Attempts < w.config.MaxAttempts {
		// Backoff doubles per attempt: base, 2*base, 4*base, ...
		delay := w.config.RetryBackoff << (job.Attempts - 1)
		nextAttempt := time.Now().Add(delay)

		w.logger.Warnw("Publish failed, retrying",
			"job_id", job.ID,
			"attempt", job.Attempts,
			"max_attempts", w.config.MaxAttempts,
			"retry_in", delay,
			"error", pubErr)

		if err := w.store.RescheduleRetry(w.ctx, job.ID, nextAttempt); err != nil {
			return errors.Wrapf(err, "failed to reschedule job %s", job.ID)
		}

		job.Status = StatusScheduled
		job.Error = ""
		job.NextAttemptAt = nextAttempt
		w.notifyJob(job)
		return nil
	}

	w.logger.Errorw("Publish failed permanently",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"attempts", job.Attempts,
		"error", pubErr)

	job.Fail(pubErr)
	if err := w.store.MarkFailed(w.ctx, job.ID, pubErr.Error()); err != nil {
		return errors.Wrapf(err, "failed to mark job %s failed", job.ID)
	}
	w.notifyJob(job)
	return nil
}

// retentionLoop prunes terminal job history on an interval.
func (w *Worker) retentionLoop() {
	defer w.wg.Done()

	if w.config.Retention <= 0 {
		return
	}

	ticker := time.NewTicker(retentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.store.CleanupOldJobs(w.ctx, w.config.Retention)
			if err != nil {
				if db.IsDatabaseClosed(err) {
					return
				}
				w.logger.Warnw("Retention sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				w.logger.Infow("Pruned terminal job history",
					"removed", removed,
					"older_than", w.config.Retention)
			}
		}
	}
}

func (w *Worker) notifyJob(job *Job) {
	if w.notify != nil {
		copied := *job
		w.notify(&copied)
	}
}
