package conflict

import (
	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

// Resolver turns a detected conflict into a single deterministic outcome.
// Strategies are selectable per entity type; delete_vs_update always resolves
// by delete_wins regardless of configuration, because a deleted record cannot
// be partially updated.
//
// Resolve is pure: the same pair of events always yields the same output,
// which keeps resolution idempotent under offline-queue redelivery.
type Resolver struct {
	defaultStrategy model.ResolutionStrategy
	perEntity       map[model.EntityType]model.ResolutionStrategy
}

// NewResolver builds a Resolver with the given default strategy and optional
// per-entity-type overrides. An unknown or empty default falls back to
// last_write_wins.
func NewResolver(def model.ResolutionStrategy, perEntity map[model.EntityType]model.ResolutionStrategy) *Resolver {
	if !model.KnownStrategy(def) {
		def = model.ResolveLastWriteWins
	}
	overrides := make(map[model.EntityType]model.ResolutionStrategy, len(perEntity))
	for et, s := range perEntity {
		if model.KnownEntityType(et) && model.KnownStrategy(s) {
			overrides[et] = s
		}
	}
	return &Resolver{defaultStrategy: def, perEntity: overrides}
}

// StrategyFor selects the strategy that will be applied to c.
func (r *Resolver) StrategyFor(c *model.ConflictInfo) model.ResolutionStrategy {
	if c.Type == model.ConflictDeleteVsUpdate {
		return model.ResolveDeleteWins
	}
	s := r.defaultStrategy
	if o, ok := r.perEntity[c.EntityType]; ok {
		s = o
	}
	if s == model.ResolveManual {
		return s
	}
	// Two racing updates merge field-by-field instead of dropping one side.
	if s == model.ResolveLastWriteWins &&
		c.Local.Action == model.ActionUpdate && c.Remote.Action == model.ActionUpdate {
		return model.ResolveFieldMerge
	}
	return s
}

// Resolve produces the outcome event for c and the strategy used. ok is false
// only for the manual strategy, where the conflict must be retained for
// external adjudication instead of being merged.
func (r *Resolver) Resolve(c *model.ConflictInfo) (out *model.SyncEvent, strategy model.ResolutionStrategy, ok bool) {
	strategy = r.StrategyFor(c)
	switch strategy {
	case model.ResolveManual:
		return nil, strategy, false
	case model.ResolveDeleteWins:
		return deleteWins(c.Local, c.Remote), strategy, true
	case model.ResolveFieldMerge:
		return fieldMerge(c.Local, c.Remote), strategy, true
	default:
		return lastWriteWins(c.Local, c.Remote), strategy, true
	}
}

// winner orders two events by timestamp, breaking ties by lexical comparison
// of their ids so the outcome never depends on arrival order.
func winner(a, b *model.SyncEvent) (win, lose *model.SyncEvent) {
	if a.Timestamp.After(b.Timestamp) {
		return a, b
	}
	if b.Timestamp.After(a.Timestamp) {
		return b, a
	}
	if a.ID > b.ID {
		return a, b
	}
	return b, a
}

func nextVersion(a, b *model.SyncEvent) int64 {
	v := a.Version
	if b.Version > v {
		v = b.Version
	}
	return v + 1
}

// lastWriteWins keeps the later event whole; fields the loser touched that
// the winner did not are still carried over, so only genuinely conflicting
// fields are discarded.
func lastWriteWins(local, remote *model.SyncEvent) *model.SyncEvent {
	win, lose := winner(local, remote)
	out := win.Clone()
	if win.Action != model.ActionDelete && lose.Action != model.ActionDelete {
		if out.Data == nil {
			out.Data = map[string]any{}
		}
		for k, v := range lose.Data {
			if _, taken := out.Data[k]; !taken {
				out.Data[k] = v
			}
		}
	}
	out.Version = nextVersion(local, remote)
	return out
}

// fieldMerge unions both patches, resolving per-key collisions by each
// event's timestamp.
func fieldMerge(local, remote *model.SyncEvent) *model.SyncEvent {
	win, lose := winner(local, remote)
	out := win.Clone()
	if out.Data == nil {
		out.Data = map[string]any{}
	}
	for k, v := range lose.Data {
		if _, taken := out.Data[k]; !taken {
			out.Data[k] = v
		}
	}
	out.Version = nextVersion(local, remote)
	return out
}

// deleteWins always emits the delete side, carrying the later of the two
// timestamps so downstream ordering by time stays sane.
func deleteWins(local, remote *model.SyncEvent) *model.SyncEvent {
	del := local
	if remote.Action == model.ActionDelete {
		del = remote
	}
	out := del.Clone()
	if local.Timestamp.After(out.Timestamp) {
		out.Timestamp = local.Timestamp
	}
	if remote.Timestamp.After(out.Timestamp) {
		out.Timestamp = remote.Timestamp
	}
	out.Version = nextVersion(local, remote)
	return out
}
