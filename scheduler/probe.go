package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/burrowsocial/burrow/errors"
)

// probeOwner namespaces probe rows so they can never be confused with, or
// returned alongside, real jobs while they briefly exist.
const probeOwner = "__probe__"

// ProbeDurable verifies the durable backend can accept work by enqueueing a
// throwaway job and tearing it down again. Any failure (unopenable database,
// missing schema, read-only volume) selects the in-memory fallback for the
// process lifetime; the decision is made exactly once.
func ProbeDurable(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.Wrap(errors.ErrServiceUnavailable, "no database handle")
	}

	if err := db.PingContext(ctx); err != nil {
		return errors.Wrap(err, "durable backend unreachable")
	}

	store := NewStore(db)

	probe := NewJob(probeOwner, "connectivity probe", time.Now().Add(DefaultMaxHorizon))
	probe.ID = "probe-" + uuid.NewString()

	if err := store.CreateJob(ctx, probe); err != nil {
		return errors.Wrap(err, "durable backend rejected probe write")
	}

	// Tear down the probe so it never interferes with real jobs. A failed
	// delete means we cannot trust the backend either.
	if _, err := db.ExecContext(ctx, `DELETE FROM scheduled_posts WHERE id = ?`, probe.ID); err != nil {
		return errors.Wrap(err, "failed to remove probe job")
	}

	return nil
}
