package user

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/arkline/identity-api/internal/apperr"
	"github.com/arkline/identity-api/internal/logging"
)

// Getter reads a committed aggregate.
type Getter interface {
	Get(ctx context.Context, id uuid.UUID) (*Aggregate, error)
}

// Cache is the projection store the coordinator keeps aligned with the
// database.
type Cache interface {
	Put(ctx context.Context, agg *Aggregate) error
	Delete(ctx context.Context, agg *Aggregate) error
	DeleteEmail(ctx context.Context, email string) error
}

// Coordinator keeps the cached projection in step with relational writes.
// Sync is called inside a transaction after the last row write; Restore is
// the compensation path when the transaction later fails.
type Coordinator struct {
	committed Getter
	cache     Cache
}

func NewCoordinator(committed Getter, cache Cache) *Coordinator {
	return &Coordinator{committed: committed, cache: cache}
}

// Sync reads the aggregate through the transaction's own ops, so it sees
// the uncommitted writes, and pushes that state into the cache. It returns
// the synced aggregate so callers can compensate if the commit fails.
func (c *Coordinator) Sync(ctx context.Context, ops Ops, id uuid.UUID) (*Aggregate, error) {
	agg, err := ops.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(ctx, agg); err != nil {
		return agg, err
	}
	return agg, nil
}

// DropEmail removes a stale email key after a committed address change.
func (c *Coordinator) DropEmail(ctx context.Context, email string) {
	if err := c.cache.DeleteEmail(ctx, email); err != nil {
		logging.GetLoggerFromContext(ctx).Error("stale email cleanup failed", "email", email, "error", err)
	}
}

// Restore repairs the cache after a rolled-back transaction. The keys
// derived from the failed state are dropped first, then the database
// decides: a committed aggregate gets its projection rewritten, a missing
// one stays gone.
func (c *Coordinator) Restore(ctx context.Context, agg *Aggregate) {
	if agg == nil {
		return
	}
	log := logging.GetLoggerFromContext(ctx)

	if err := c.cache.Delete(ctx, agg); err != nil {
		log.Error("cache cleanup failed", "identifier", agg.Identifier, "error", err)
	}

	committed, err := c.committed.Get(ctx, agg.Identifier)
	switch {
	case err == nil:
		if err := c.cache.Put(ctx, committed); err != nil {
			log.Error("cache restore failed", "identifier", agg.Identifier, "error", err)
		}
	case apperr.IsStatus(err, http.StatusNotFound):
		// Nothing committed, nothing to project.
	default:
		log.Error("cache restore lookup failed", "identifier", agg.Identifier, "error", err)
	}
}
