package sync

import (
	gosync "sync"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

// Stats is an observability snapshot. Never used for control flow.
type Stats struct {
	EventsApplied       int64                                 `json:"eventsApplied"`
	EventsRejected      int64                                 `json:"eventsRejected"`
	ByAction            map[model.Action]int64                `json:"byAction"`
	ByEntityType        map[model.EntityType]int64            `json:"byEntityType"`
	ConflictsByType     map[model.ConflictType]int64          `json:"conflictsByType"`
	ResolutionsByStrat  map[model.ResolutionStrategy]int64    `json:"resolutionsByStrategy"`
	TrackedEntities     int                                   `json:"trackedEntities"`
	UnresolvedConflicts int                                   `json:"unresolvedConflicts"`
}

type statsCounters struct {
	mu          gosync.Mutex
	applied     int64
	rejected    int64
	byAction    map[model.Action]int64
	byEntity    map[model.EntityType]int64
	byConflict  map[model.ConflictType]int64
	byStrategy  map[model.ResolutionStrategy]int64
}

func (s *statsCounters) countApplied(e *model.SyncEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied++
	if s.byAction == nil {
		s.byAction = make(map[model.Action]int64)
	}
	s.byAction[e.Action]++
	if s.byEntity == nil {
		s.byEntity = make(map[model.EntityType]int64)
	}
	s.byEntity[e.EntityType]++
}

func (s *statsCounters) countRejected() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

func (s *statsCounters) countConflict(ct model.ConflictType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byConflict == nil {
		s.byConflict = make(map[model.ConflictType]int64)
	}
	s.byConflict[ct]++
}

func (s *statsCounters) countResolution(rs model.ResolutionStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byStrategy == nil {
		s.byStrategy = make(map[model.ResolutionStrategy]int64)
	}
	s.byStrategy[rs]++
}

func (s *statsCounters) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Stats{
		EventsApplied:      s.applied,
		EventsRejected:     s.rejected,
		ByAction:           make(map[model.Action]int64, len(s.byAction)),
		ByEntityType:       make(map[model.EntityType]int64, len(s.byEntity)),
		ConflictsByType:    make(map[model.ConflictType]int64, len(s.byConflict)),
		ResolutionsByStrat: make(map[model.ResolutionStrategy]int64, len(s.byStrategy)),
	}
	for k, v := range s.byAction {
		out.ByAction[k] = v
	}
	for k, v := range s.byEntity {
		out.ByEntityType[k] = v
	}
	for k, v := range s.byConflict {
		out.ConflictsByType[k] = v
	}
	for k, v := range s.byStrategy {
		out.ResolutionsByStrat[k] = v
	}
	return out
}
