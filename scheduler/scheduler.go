package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/burrowsocial/burrow/errors"
)

// SubscriberChannelBufferSize is the buffer size for subscriber channels
const SubscriberChannelBufferSize = 100

// Config tunes the scheduler. Zero values fall back to the worker defaults.
type Config struct {
	Workers       int
	PollInterval  time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	Retention     time.Duration
	PublishPerSec int
	MaxHorizon    time.Duration
}

// Scheduler is the single entry point for scheduled posts. At construction it
// probes the durable backend exactly once and binds to it, or to the
// in-process fallback if the probe fails. The binding is never re-evaluated
// for the lifetime of the process.
type Scheduler struct {
	mu          sync.RWMutex
	backend     Backend
	backendType string
	maxHorizon  time.Duration
	ready       chan struct{}
	subscribers []chan *Job
	logger      *zap.SugaredLogger
}

// New probes the database and binds a backend asynchronously; operations
// arriving before the probe resolves wait for it. db may be nil, which binds
// the fallback immediately.
func New(ctx context.Context, db *sql.DB, publisher Publisher, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	horizon := cfg.MaxHorizon
	if horizon <= 0 {
		horizon = DefaultMaxHorizon
	}

	s := &Scheduler{
		maxHorizon: horizon,
		ready:      make(chan struct{}),
		logger:     logger.Named("scheduler"),
	}

	go s.bind(ctx, db, publisher, cfg)

	return s
}

// bind runs the startup probe and installs the chosen backend.
func (s *Scheduler) bind(ctx context.Context, db *sql.DB, publisher Publisher, cfg Config) {
	defer close(s.ready)

	workerCfg := DefaultWorkerConfig()
	if cfg.Workers > 0 {
		workerCfg.Workers = cfg.Workers
	}
	if cfg.PollInterval > 0 {
		workerCfg.PollInterval = cfg.PollInterval
	}
	if cfg.MaxAttempts > 0 {
		workerCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBackoff > 0 {
		workerCfg.RetryBackoff = cfg.RetryBackoff
	}
	if cfg.Retention > 0 {
		workerCfg.Retention = cfg.Retention
	}
	if cfg.PublishPerSec > 0 {
		workerCfg.PublishPerSec = float64(cfg.PublishPerSec)
	}

	if err := ProbeDurable(ctx, db); err != nil {
		s.logger.Warnw("Durable backend unavailable, falling back to in-memory scheduling",
			"error", err)
		s.logger.Warnw("In-memory scheduled posts do not survive restart and are not retried on failure")

		s.mu.Lock()
		s.backend = NewMemoryScheduler(ctx, publisher, s.notifySubscribers, s.logger)
		s.backendType = BackendMemory
		s.mu.Unlock()
		return
	}

	durable := NewDurableScheduler(ctx, db, publisher, workerCfg, s.notifySubscribers, s.logger)

	s.mu.Lock()
	s.backend = durable
	s.backendType = BackendDurable
	s.mu.Unlock()

	s.logger.Infow("Durable scheduling backend ready",
		"workers", workerCfg.Workers,
		"poll_interval", workerCfg.PollInterval)
}

// waitReady blocks until the startup probe has resolved or ctx expires.
func (s *Scheduler) waitReady(ctx context.Context) (Backend, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "scheduler not ready")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil, errors.Wrap(errors.ErrServiceUnavailable, "no scheduling backend bound")
	}
	return s.backend, nil
}

// Schedule validates the requested time and hands the post to the bound
// backend. The scheduled time must be strictly in the future and within the
// configured horizon.
func (s *Scheduler) Schedule(ctx context.Context, ownerID, content string, runAt time.Time) (*Job, error) {
	if ownerID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "owner is required")
	}
	if content == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "content is required")
	}
	if err := ValidateRunAt(time.Now(), runAt, s.maxHorizon); err != nil {
		return nil, err
	}

	backend, err := s.waitReady(ctx)
	if err != nil {
		return nil, err
	}
	return backend.Schedule(ctx, ownerID, content, runAt)
}

// Cancel withdraws a pending job owned by ownerID.
func (s *Scheduler) Cancel(ctx context.Context, jobID, ownerID string) error {
	backend, err := s.waitReady(ctx)
	if err != nil {
		return err
	}
	return backend.Cancel(ctx, jobID, ownerID)
}

// ListForOwner returns the owner's pending and failed scheduled posts.
func (s *Scheduler) ListForOwner(ctx context.Context, ownerID string) ([]*Job, error) {
	backend, err := s.waitReady(ctx)
	if err != nil {
		return nil, err
	}
	return backend.ListForOwner(ctx, ownerID)
}

// Stats reports queue counts and which backend is serving them.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	backend, err := s.waitReady(ctx)
	if err != nil {
		return nil, err
	}
	return backend.Stats(ctx)
}

// BackendType reports which backend the startup probe bound, or "" if the
// probe has not resolved yet.
func (s *Scheduler) BackendType() string {
	select {
	case <-s.ready:
	default:
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backendType
}

// Subscribe returns a channel that receives job state transitions.
func (s *Scheduler) Subscribe() chan *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize) // Buffered to avoid blocking
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel.
// The channel is NOT closed by this method - callers should close it themselves
// after unsubscribing if needed. This prevents double-close panics.
func (s *Scheduler) Unsubscribe(ch chan *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends job updates to all subscribers.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (s *Scheduler) notifySubscribers(job *Job) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- job:
			// Sent successfully
		default:
			// Channel full, skip (non-blocking)
		}
	}
}

// Stop waits for the probe to resolve, then shuts down the bound backend.
func (s *Scheduler) Stop() {
	<-s.ready

	s.mu.RLock()
	backend := s.backend
	s.mu.RUnlock()

	if backend != nil {
		backend.Stop()
	}
}
