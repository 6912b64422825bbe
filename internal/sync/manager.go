// Package sync orchestrates event ingestion: validation, conflict handling,
// the persistence call-out, and rebroadcast to live connections.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
	"github.com/halcyon-ai/halcyon-sync/internal/store"
	"github.com/halcyon-ai/halcyon-sync/internal/sync/conflict"
	"github.com/halcyon-ai/halcyon-sync/internal/sync/validate"
)

// Broadcaster is the narrow egress surface the manager needs from the
// transport layer. Implemented by transport.Hub.
type Broadcaster interface {
	Broadcast(msg *model.Message, excludeConnID string, et model.EntityType)
}

// Result reports what Ingest did with an event.
type Result struct {
	// Applied is the event that was persisted and broadcast, after any
	// conflict resolution. Nil when nothing was applied.
	Applied *model.SyncEvent
	// Conflict is set when a conflict was detected, whether or not it was
	// resolved.
	Conflict *model.ConflictInfo
}

// entityState serializes ingest steps 2-4 for one (entity_type, entity_id).
type entityState struct {
	mu      gosync.Mutex
	version int64
	last    *model.SyncEvent
	loaded  bool
}

type entityKey struct {
	et model.EntityType
	id string
}

// Options tunes a Manager. Zero values pick the documented defaults.
type Options struct {
	// SkewTolerance bounds how far in the future event timestamps may lie.
	SkewTolerance time.Duration
	// DefaultStrategy resolves conflicts unless overridden per entity type.
	DefaultStrategy model.ResolutionStrategy
	// StrategyOverrides maps entity types to resolution strategies.
	StrategyOverrides map[model.EntityType]model.ResolutionStrategy
	// MaxUnresolved caps the retained manual-conflict set (default 100).
	MaxUnresolved int
}

// Manager owns per-entity version counters, conflict history, and running
// statistics. It is safe for concurrent use; events for different entities
// proceed fully in parallel, events for the same entity are serialized.
type Manager struct {
	applier   store.Applier
	hub       Broadcaster
	validator *validate.Validator
	resolver  *conflict.Resolver
	log       zerolog.Logger

	mu       gosync.Mutex
	entities map[entityKey]*entityState

	unresolvedMu  gosync.Mutex
	unresolved    []*model.ConflictInfo
	maxUnresolved int

	stats statsCounters
}

// NewManager builds a Manager around the persistence collaborator. hub may be
// nil (nothing is broadcast), which tests rely on.
func NewManager(applier store.Applier, hub Broadcaster, log zerolog.Logger, opts Options) *Manager {
	if opts.MaxUnresolved <= 0 {
		opts.MaxUnresolved = 100
	}
	return &Manager{
		applier:       applier,
		hub:           hub,
		validator:     validate.New(opts.SkewTolerance),
		resolver:      conflict.NewResolver(opts.DefaultStrategy, opts.StrategyOverrides),
		log:           log,
		entities:      make(map[entityKey]*entityState),
		maxUnresolved: opts.MaxUnresolved,
	}
}

// Ingest runs one event through validation, conflict handling, persistence,
// and rebroadcast. originConnID identifies the connection the event came in
// on; the broadcast skips it. Errors wrap the sentinel for their kind:
// model.ErrInvalidEvent, model.ErrPersistence, model.ErrConflictUnresolved.
func (m *Manager) Ingest(ctx context.Context, e *model.SyncEvent, originConnID string) (*Result, error) {
	if err := m.validator.Event(e); err != nil {
		m.stats.countRejected()
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidEvent, err)
	}

	ent := m.entity(e.EntityType, e.EntityID)
	ent.mu.Lock()

	if !ent.loaded {
		v, last, err := m.applier.LastVersion(ctx, e.EntityType, e.EntityID)
		if err != nil {
			ent.mu.Unlock()
			return nil, fmt.Errorf("%w: last version lookup: %s", model.ErrPersistence, err)
		}
		ent.version, ent.last, ent.loaded = v, last, true
	}

	applied := e
	res := &Result{}

	if c := conflict.Detect(e, ent.version, ent.last); c != nil {
		res.Conflict = c
		m.stats.countConflict(c.Type)

		out, strategy, ok := m.resolver.Resolve(c)
		c.Strategy = strategy
		if !ok {
			ent.mu.Unlock()
			m.retainUnresolved(c)
			m.stats.countResolution(strategy)
			m.log.Warn().
				Str("entity_type", string(c.EntityType)).
				Str("entity_id", c.EntityID).
				Str("conflict_type", string(c.Type)).
				Msg("conflict retained for manual resolution")
			return res, model.ErrConflictUnresolved
		}
		m.stats.countResolution(strategy)
		applied = out
	}

	// Advance the counter: the authoritative version is strictly increasing,
	// and an optimistic client that ran ahead pulls the counter up to match.
	next := ent.version + 1
	if applied.Version > next {
		next = applied.Version
	}
	applied = applied.Clone()
	applied.Version = next

	if err := m.applier.Apply(ctx, applied); err != nil {
		ent.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", model.ErrPersistence, err)
	}
	ent.version = next
	ent.last = applied

	// Fan-out stays under the entity lock so same-entity broadcasts and
	// offline-queue enqueues follow apply order. Hub delivery is a
	// non-blocking buffer enqueue, never a socket write.
	m.broadcast(applied, res.Conflict, originConnID)
	ent.mu.Unlock()

	m.stats.countApplied(applied)
	res.Applied = applied
	return res, nil
}

// broadcast fans the applied event out to every other live connection
// interested in its entity type, plus a conflict notice when resolution
// folded two events into one.
func (m *Manager) broadcast(applied *model.SyncEvent, c *model.ConflictInfo, originConnID string) {
	if m.hub == nil {
		return
	}
	now := time.Now().UTC()
	m.hub.Broadcast(&model.Message{
		Type:      model.MsgSyncApplied,
		Event:     applied,
		Timestamp: now,
	}, originConnID, applied.EntityType)

	if c != nil {
		m.hub.Broadcast(&model.Message{
			Type: model.MsgConflictNotice,
			Conflict: &model.ConflictNotice{
				EntityType: c.EntityType,
				EntityID:   c.EntityID,
				Type:       c.Type,
				Strategy:   c.Strategy,
			},
			Timestamp: now,
		}, "", applied.EntityType)
	}
}

func (m *Manager) entity(et model.EntityType, id string) *entityState {
	k := entityKey{et: et, id: id}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.entities[k]; ok {
		return s
	}
	s := &entityState{}
	m.entities[k] = s
	return s
}

// retainUnresolved appends c to the bounded inspection set, dropping the
// oldest entry past the cap so the set cannot grow without bound.
func (m *Manager) retainUnresolved(c *model.ConflictInfo) {
	m.unresolvedMu.Lock()
	defer m.unresolvedMu.Unlock()
	m.unresolved = append(m.unresolved, c)
	if len(m.unresolved) > m.maxUnresolved {
		m.unresolved = m.unresolved[len(m.unresolved)-m.maxUnresolved:]
	}
}

// UnresolvedConflicts returns a snapshot of retained manual conflicts,
// oldest first.
func (m *Manager) UnresolvedConflicts() []*model.ConflictInfo {
	m.unresolvedMu.Lock()
	defer m.unresolvedMu.Unlock()
	out := make([]*model.ConflictInfo, len(m.unresolved))
	copy(out, m.unresolved)
	return out
}

// Version returns the manager's current counter for one entity, zero when
// the entity is untracked. Observability only.
func (m *Manager) Version(et model.EntityType, id string) int64 {
	m.mu.Lock()
	s, ok := m.entities[entityKey{et: et, id: id}]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Stats returns a snapshot of the running counters.
func (m *Manager) Stats() Stats {
	s := m.stats.snapshot()
	m.mu.Lock()
	s.TrackedEntities = len(m.entities)
	m.mu.Unlock()
	m.unresolvedMu.Lock()
	s.UnresolvedConflicts = len(m.unresolved)
	m.unresolvedMu.Unlock()
	return s
}
