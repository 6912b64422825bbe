// Package conflict decides whether two changes to one entity collide and
// turns detected collisions into a single deterministic outcome.
package conflict

import (
	"reflect"
	"time"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

// Detect classifies the relationship between an incoming event and the last
// applied (version, event) pair for the same entity. It returns nil when the
// incoming event is a plain successor: first write, version == last+1, or a
// benign gap where an optimistic client ran ahead of the server counter.
//
// Version relationship is authoritative; timestamps never raise a conflict on
// their own and only act as tiebreakers during resolution.
func Detect(incoming *model.SyncEvent, lastVersion int64, last *model.SyncEvent) *model.ConflictInfo {
	if lastVersion == 0 && last == nil {
		// First write for this entity.
		return nil
	}

	var ct model.ConflictType
	switch {
	case incoming.Version == lastVersion:
		// Both events claim to follow the same base version. That is only a
		// conflict when the changes are incompatible: one side deletes, or
		// overlapping data keys carry different values. Disjoint patches on
		// the same base stack cleanly.
		if !incompatible(incoming, last) {
			return nil
		}
		ct = model.ConflictConcurrentUpdate
		if oneIsDelete(incoming, last) {
			ct = model.ConflictDeleteVsUpdate
		}
	case incoming.Version < lastVersion:
		// Covers version zero against existing state: the client worked from
		// outdated (or no) knowledge of an entity that has moved on.
		ct = model.ConflictStaleVersion
		if oneIsDelete(incoming, last) {
			ct = model.ConflictDeleteVsUpdate
		}
	default:
		// incoming.Version > lastVersion: the client applied optimistic local
		// state; the manager advances its counter to match.
		return nil
	}

	return &model.ConflictInfo{
		EntityType: incoming.EntityType,
		EntityID:   incoming.EntityID,
		Local:      last.Clone(),
		Remote:     incoming.Clone(),
		Type:       ct,
		DetectedAt: time.Now().UTC(),
	}
}

func oneIsDelete(a, b *model.SyncEvent) bool {
	ad := a != nil && a.Action == model.ActionDelete
	bd := b != nil && b.Action == model.ActionDelete
	return ad != bd
}

// incompatible reports whether two events that claim the same base cannot
// both stand: one side deletes what the other changes, or they wrote
// different values to the same field. A create followed by an update against
// the created version is the ordinary client flow, not a conflict.
func incompatible(a, b *model.SyncEvent) bool {
	if b == nil {
		return false
	}
	if oneIsDelete(a, b) {
		return true
	}
	for k, v := range a.Data {
		// Decoded JSON values may be maps or slices, so == is not safe here.
		if bv, ok := b.Data[k]; ok && !reflect.DeepEqual(bv, v) {
			return true
		}
	}
	return false
}
