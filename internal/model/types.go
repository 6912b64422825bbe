package model

import "time"

// EntityType identifies the kind of logical record a sync event targets.
type EntityType string

const (
	EntityConversation EntityType = "conversation"
	EntityTask         EntityType = "task"
	EntityIdea         EntityType = "idea"
	EntityMemory       EntityType = "memory"
)

// KnownEntityType reports whether et is a member of the closed entity set.
func KnownEntityType(et EntityType) bool {
	switch et {
	case EntityConversation, EntityTask, EntityIdea, EntityMemory:
		return true
	}
	return false
}

// EntityTypes lists every member of the closed entity set.
func EntityTypes() []EntityType {
	return []EntityType{EntityConversation, EntityTask, EntityIdea, EntityMemory}
}

// Action is the kind of change a sync event carries.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// KnownAction reports whether a is one of the three change kinds.
func KnownAction(a Action) bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// SyncEvent is a single proposed or applied change to one logical record.
// For updates Data is a sparse patch (changed fields only), for creates a
// full record, for deletes it may be empty. Version is scoped to
// (EntityType, EntityID); zero means the client knows no prior version.
type SyncEvent struct {
	ID         string         `json:"id"`
	EntityType EntityType     `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Action     Action         `json:"action"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"userId,omitempty"`
	DeviceID   string         `json:"deviceId,omitempty"`
	Version    int64          `json:"version,omitempty"`
}

// Clone returns a deep copy. Resolution builds merged events out of copies so
// the inputs stay untouched for replay.
func (e *SyncEvent) Clone() *SyncEvent {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Data != nil {
		cp.Data = make(map[string]any, len(e.Data))
		for k, v := range e.Data {
			cp.Data[k] = v
		}
	}
	return &cp
}

// ConflictType classifies why two events on one entity collide.
type ConflictType string

const (
	ConflictConcurrentUpdate ConflictType = "concurrent_update"
	ConflictDeleteVsUpdate   ConflictType = "delete_vs_update"
	ConflictStaleVersion     ConflictType = "stale_version"
)

// ResolutionStrategy names a deterministic conflict resolution function.
type ResolutionStrategy string

const (
	ResolveLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolveFieldMerge    ResolutionStrategy = "field_merge"
	ResolveDeleteWins    ResolutionStrategy = "delete_wins"
	ResolveManual        ResolutionStrategy = "manual"
)

// KnownStrategy reports whether s names a supported resolution strategy.
func KnownStrategy(s ResolutionStrategy) bool {
	switch s {
	case ResolveLastWriteWins, ResolveFieldMerge, ResolveDeleteWins, ResolveManual:
		return true
	}
	return false
}

// ConflictInfo records two competing events on one entity. Local is the event
// already accepted for the entity's current version; Remote is the newly
// arrived one.
type ConflictInfo struct {
	EntityType EntityType         `json:"entityType"`
	EntityID   string             `json:"entityId"`
	Local      *SyncEvent         `json:"localEvent"`
	Remote     *SyncEvent         `json:"remoteEvent"`
	Type       ConflictType       `json:"conflictType"`
	Strategy   ResolutionStrategy `json:"resolutionStrategy"`
	DetectedAt time.Time          `json:"detectedAt"`
}

// MessageType tags outbound transport messages.
type MessageType string

const (
	MsgSyncApplied    MessageType = "sync_applied"
	MsgConflictNotice MessageType = "conflict_notice"
	MsgSyncError      MessageType = "sync_error"
	MsgPong           MessageType = "pong"
)

// Message is the outbound envelope delivered to connections and queued for
// offline users.
type Message struct {
	Type      MessageType     `json:"type"`
	Event     *SyncEvent      `json:"event,omitempty"`
	Conflict  *ConflictNotice `json:"conflict,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConflictNotice is the broadcast-safe summary of a resolved conflict. It
// carries identifiers only; the resolved payload travels in the accompanying
// sync_applied event.
type ConflictNotice struct {
	EntityType EntityType         `json:"entityType"`
	EntityID   string             `json:"entityId"`
	Type       ConflictType       `json:"conflictType"`
	Strategy   ResolutionStrategy `json:"resolutionStrategy"`
}
