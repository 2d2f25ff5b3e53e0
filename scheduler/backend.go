package scheduler

import (
	"context"
	"time"
)

// Backend type identifiers reported by Stats.
const (
	BackendDurable = "durable"
	BackendMemory  = "memory"
)

// Publisher performs the publish side effect when a job comes due. Any error
// it returns is treated as the job's failure.
type Publisher interface {
	Publish(ctx context.Context, ownerID, content string) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, ownerID, content string) error

func (f PublisherFunc) Publish(ctx context.Context, ownerID, content string) error {
	return f(ctx, ownerID, content)
}

// Backend is the uniform contract both schedulers implement. The facade binds
// exactly one implementation at startup and never switches afterwards.
type Backend interface {
	// Schedule creates a job due at runAt. runAt has already been validated
	// by the facade. The returned job carries the backend-assigned id.
	Schedule(ctx context.Context, ownerID, content string, runAt time.Time) (*Job, error)

	// Cancel removes a still-scheduled job. Missing jobs and jobs owned by a
	// different owner both return ErrNotFound; a job already picked up for
	// publishing returns ErrInvalidState.
	Cancel(ctx context.Context, jobID, ownerID string) error

	// ListForOwner returns the owner's pending and in-flight jobs, plus
	// retained failed jobs so their error is inspectable.
	ListForOwner(ctx context.Context, ownerID string) ([]*Job, error)

	// Stats returns operator-facing queue counts.
	Stats(ctx context.Context) (*Stats, error)

	// Stop shuts the backend down, waiting for in-flight work.
	Stop()
}

// Stats is the diagnostics view of the active backend.
type Stats struct {
	Waiting   int    `json:"waiting"` // due but not yet picked up
	Active    int    `json:"active"`  // currently publishing
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Delayed   int    `json:"delayed"` // not yet due
	Total     int    `json:"total"`
	Backend   string `json:"backend_type"`
}
