package store

import (
	"context"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

// Applier is the persistence collaborator the sync core calls out to.
// Implementations live under internal/store/<driver>/ (postgres, sqlite).
//
// Apply must be atomic per event: either the whole change lands or none of it
// does. LastVersion returns the last applied (version, event) pair for an
// entity, or (0, nil, nil) when the entity has never been written.
type Applier interface {
	Apply(ctx context.Context, e *model.SyncEvent) error
	LastVersion(ctx context.Context, et model.EntityType, entityID string) (int64, *model.SyncEvent, error)
}
