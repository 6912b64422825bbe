// Package storetest holds a compliance suite shared by Applier drivers.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
	"github.com/halcyon-ai/halcyon-sync/internal/store"
)

// Run exercises the Applier contract against a clean, isolated store
// returned by makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Applier) {
	t.Helper()

	a := makeStore(t)
	ctx := context.Background()
	entityID := "task-" + uuid.New().String()[:8]

	// Unknown entity: no version, no event, no error.
	v, last, err := a.LastVersion(ctx, model.EntityTask, entityID)
	if err != nil || v != 0 || last != nil {
		t.Fatalf("LastVersion on empty store: v=%d last=%v err=%v", v, last, err)
	}

	ts := time.Now().UTC().Truncate(time.Millisecond)
	first := &model.SyncEvent{
		ID:         uuid.New().String(),
		EntityType: model.EntityTask,
		EntityID:   entityID,
		Action:     model.ActionCreate,
		Data:       map[string]any{"title": "write spec", "status": "open"},
		Timestamp:  ts,
		UserID:     "u1",
		DeviceID:   "d1",
		Version:    1,
	}
	if err := a.Apply(ctx, first); err != nil {
		t.Fatalf("Apply v1: %v", err)
	}

	v, last, err = a.LastVersion(ctx, model.EntityTask, entityID)
	if err != nil {
		t.Fatalf("LastVersion after v1: %v", err)
	}
	if v != 1 || last == nil || last.ID != first.ID || last.Action != model.ActionCreate {
		t.Fatalf("LastVersion after v1: v=%d last=%+v", v, last)
	}
	if got := last.Data["title"]; got != "write spec" {
		t.Fatalf("round-tripped data: got title=%v", got)
	}
	if !last.Timestamp.Equal(ts) {
		t.Fatalf("round-tripped timestamp: got %v want %v", last.Timestamp, ts)
	}

	second := &model.SyncEvent{
		ID:         uuid.New().String(),
		EntityType: model.EntityTask,
		EntityID:   entityID,
		Action:     model.ActionUpdate,
		Data:       map[string]any{"status": "done"},
		Timestamp:  ts.Add(time.Second),
		Version:    2,
	}
	if err := a.Apply(ctx, second); err != nil {
		t.Fatalf("Apply v2: %v", err)
	}
	if v, last, _ = a.LastVersion(ctx, model.EntityTask, entityID); v != 2 || last.ID != second.ID {
		t.Fatalf("LastVersion after v2: v=%d last=%+v", v, last)
	}

	// The same version for one entity must not be accepted twice.
	dup := second.Clone()
	dup.ID = uuid.New().String()
	if err := a.Apply(ctx, dup); err == nil {
		t.Fatal("Apply duplicate version: want error, got nil")
	}

	// Versions are scoped per entity; another entity starts fresh.
	otherID := "task-" + uuid.New().String()[:8]
	if v, last, err = a.LastVersion(ctx, model.EntityTask, otherID); err != nil || v != 0 || last != nil {
		t.Fatalf("LastVersion other entity: v=%d last=%v err=%v", v, last, err)
	}

	// Delete events with no data round-trip cleanly.
	del := &model.SyncEvent{
		ID:         uuid.New().String(),
		EntityType: model.EntityTask,
		EntityID:   entityID,
		Action:     model.ActionDelete,
		Timestamp:  ts.Add(2 * time.Second),
		Version:    3,
	}
	if err := a.Apply(ctx, del); err != nil {
		t.Fatalf("Apply delete: %v", err)
	}
	if v, last, _ = a.LastVersion(ctx, model.EntityTask, entityID); v != 3 || last.Action != model.ActionDelete {
		t.Fatalf("LastVersion after delete: v=%d last=%+v", v, last)
	}
}
