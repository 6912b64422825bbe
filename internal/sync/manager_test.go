package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

// memApplier is an in-memory persistence collaborator for manager tests.
type memApplier struct {
	mu      gosync.Mutex
	applied []*model.SyncEvent
	last    map[string]*model.SyncEvent
	failErr error
}

func newMemApplier() *memApplier {
	return &memApplier{last: make(map[string]*model.SyncEvent)}
}

func key(et model.EntityType, id string) string { return string(et) + "/" + id }

func (m *memApplier) Apply(_ context.Context, e *model.SyncEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.applied = append(m.applied, e.Clone())
	m.last[key(e.EntityType, e.EntityID)] = e.Clone()
	return nil
}

func (m *memApplier) LastVersion(_ context.Context, et model.EntityType, id string) (int64, *model.SyncEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.last[key(et, id)]
	if !ok {
		return 0, nil, nil
	}
	return e.Version, e.Clone(), nil
}

func (m *memApplier) appliedEvents() []*model.SyncEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.SyncEvent, len(m.applied))
	copy(out, m.applied)
	return out
}

// seed installs a last-applied event without going through Ingest.
func (m *memApplier) seed(e *model.SyncEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[key(e.EntityType, e.EntityID)] = e.Clone()
}

type broadcastCall struct {
	msg     *model.Message
	exclude string
	et      model.EntityType
}

type recordingHub struct {
	mu    gosync.Mutex
	calls []broadcastCall
}

func (h *recordingHub) Broadcast(msg *model.Message, excludeConnID string, et model.EntityType) {
	h.mu.Lock()
	h.calls = append(h.calls, broadcastCall{msg: msg, exclude: excludeConnID, et: et})
	h.mu.Unlock()
}

func (h *recordingHub) byType(mt model.MessageType) []broadcastCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []broadcastCall
	for _, c := range h.calls {
		if c.msg.Type == mt {
			out = append(out, c)
		}
	}
	return out
}

func newTestManager(applier *memApplier, hub Broadcaster, opts Options) *Manager {
	return NewManager(applier, hub, zerolog.Nop(), opts)
}

func taskEvent(id string, version int64, data map[string]any) *model.SyncEvent {
	return &model.SyncEvent{
		ID:         id,
		EntityType: model.EntityTask,
		EntityID:   "task-1",
		Action:     model.ActionUpdate,
		Data:       data,
		Timestamp:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Version:    version,
		UserID:     "u1",
		DeviceID:   "d1",
	}
}

func TestIngest_FirstWrite(t *testing.T) {
	applier := newMemApplier()
	hub := &recordingHub{}
	mgr := newTestManager(applier, hub, Options{})

	e := taskEvent("e1", 0, map[string]any{"title": "buy milk"})
	e.Action = model.ActionCreate
	res, err := mgr.Ingest(context.Background(), e, "conn-a")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Applied == nil || res.Applied.Version != 1 {
		t.Fatalf("first write version = %+v, want 1", res.Applied)
	}
	if res.Conflict != nil {
		t.Fatalf("unexpected conflict: %+v", res.Conflict)
	}
	if got := mgr.Version(model.EntityTask, "task-1"); got != 1 {
		t.Fatalf("tracked version = %d, want 1", got)
	}
}

// A client that saw the latest version sends the next change: applied, the
// counter advances, and everyone but the origin connection hears about it.
func TestIngest_CleanUpdateAdvancesAndBroadcasts(t *testing.T) {
	applier := newMemApplier()
	applier.seed(taskEvent("prior", 3, map[string]any{"title": "write report"}))
	hub := &recordingHub{}
	mgr := newTestManager(applier, hub, Options{})

	res, err := mgr.Ingest(context.Background(), taskEvent("e2", 3, map[string]any{"status": "done"}), "conn-x")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Conflict != nil {
		t.Fatalf("unexpected conflict: %+v", res.Conflict)
	}
	if res.Applied.Version != 4 {
		t.Fatalf("applied version = %d, want 4", res.Applied.Version)
	}

	applied := hub.byType(model.MsgSyncApplied)
	if len(applied) != 1 {
		t.Fatalf("sync_applied broadcasts = %d, want 1", len(applied))
	}
	if applied[0].exclude != "conn-x" || applied[0].et != model.EntityTask {
		t.Fatalf("broadcast exclude=%q et=%q", applied[0].exclude, applied[0].et)
	}
	if len(hub.byType(model.MsgConflictNotice)) != 0 {
		t.Fatal("conflict notice broadcast without a conflict")
	}
}

// Two devices race disjoint patches against the same base version. The
// second one is behind by the time it lands; resolution merges the two
// patches so both edits survive, and a conflict notice goes out.
func TestIngest_ConcurrentPatchesConverge(t *testing.T) {
	applier := newMemApplier()
	applier.seed(&model.SyncEvent{
		ID: "prior", EntityType: model.EntityIdea, EntityID: "idea-7",
		Action: model.ActionCreate, Data: map[string]any{"owner": "u1"},
		Timestamp: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), Version: 5,
	})
	hub := &recordingHub{}
	mgr := newTestManager(applier, hub, Options{})
	ctx := context.Background()

	ideaEvent := func(id string, data map[string]any, offset time.Duration) *model.SyncEvent {
		return &model.SyncEvent{
			ID: id, EntityType: model.EntityIdea, EntityID: "idea-7",
			Action: model.ActionUpdate, Data: data,
			Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Add(offset),
			Version:   5,
		}
	}

	if _, err := mgr.Ingest(ctx, ideaEvent("dev-a", map[string]any{"title": "A"}, 0), "conn-a"); err != nil {
		t.Fatalf("first device: %v", err)
	}
	res, err := mgr.Ingest(ctx, ideaEvent("dev-b", map[string]any{"body": "B"}, time.Second), "conn-b")
	if err != nil {
		t.Fatalf("second device: %v", err)
	}
	if res.Conflict == nil {
		t.Fatal("want conflict on second device")
	}
	if res.Conflict.Strategy != model.ResolveFieldMerge {
		t.Fatalf("strategy = %s, want field_merge", res.Conflict.Strategy)
	}
	if res.Applied.Data["title"] != "A" || res.Applied.Data["body"] != "B" {
		t.Fatalf("merged data = %v, want both edits", res.Applied.Data)
	}

	notices := hub.byType(model.MsgConflictNotice)
	if len(notices) != 1 {
		t.Fatalf("conflict notices = %d, want 1", len(notices))
	}
	if notices[0].msg.Conflict.Strategy != model.ResolveFieldMerge {
		t.Fatalf("notice strategy = %s", notices[0].msg.Conflict.Strategy)
	}

	// Applied versions stay strictly increasing.
	events := applier.appliedEvents()
	if len(events) != 2 || events[0].Version >= events[1].Version {
		t.Fatalf("versions not strictly increasing: %+v", events)
	}
}

func TestIngest_BenignVersionGap(t *testing.T) {
	applier := newMemApplier()
	applier.seed(taskEvent("prior", 3, map[string]any{"title": "x"}))
	mgr := newTestManager(applier, &recordingHub{}, Options{})

	res, err := mgr.Ingest(context.Background(), taskEvent("ahead", 9, map[string]any{"status": "done"}), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Conflict != nil {
		t.Fatalf("gap treated as conflict: %+v", res.Conflict)
	}
	if res.Applied.Version != 9 {
		t.Fatalf("counter did not advance to match: %d", res.Applied.Version)
	}
}

func TestIngest_DeletePrecedence(t *testing.T) {
	applier := newMemApplier()
	applier.seed(taskEvent("prior-upd", 5, map[string]any{"status": "open"}))
	hub := &recordingHub{}
	mgr := newTestManager(applier, hub, Options{})

	del := taskEvent("del", 5, nil)
	del.Action = model.ActionDelete
	del.Timestamp = del.Timestamp.Add(-time.Hour) // delete is older, still wins
	res, err := mgr.Ingest(context.Background(), del, "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Conflict == nil || res.Conflict.Type != model.ConflictDeleteVsUpdate {
		t.Fatalf("conflict = %+v, want delete_vs_update", res.Conflict)
	}
	if res.Applied.Action != model.ActionDelete {
		t.Fatalf("applied action = %s, want delete", res.Applied.Action)
	}
}

func TestIngest_InvalidEvent(t *testing.T) {
	applier := newMemApplier()
	hub := &recordingHub{}
	mgr := newTestManager(applier, hub, Options{})

	e := taskEvent("bad", 1, map[string]any{"x": "y"})
	e.EntityType = "playlist"
	_, err := mgr.Ingest(context.Background(), e, "")
	if !errors.Is(err, model.ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
	if len(applier.appliedEvents()) != 0 {
		t.Fatal("invalid event reached persistence")
	}
	if len(hub.byType(model.MsgSyncApplied)) != 0 {
		t.Fatal("invalid event was broadcast")
	}
	if mgr.Stats().EventsRejected != 1 {
		t.Fatalf("rejected counter = %d", mgr.Stats().EventsRejected)
	}
}

func TestIngest_PersistenceFailure(t *testing.T) {
	applier := newMemApplier()
	hub := &recordingHub{}
	mgr := newTestManager(applier, hub, Options{})

	applier.failErr = fmt.Errorf("disk full")
	_, err := mgr.Ingest(context.Background(), taskEvent("e1", 0, map[string]any{"a": "b"}), "")
	if !errors.Is(err, model.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if len(hub.byType(model.MsgSyncApplied)) != 0 {
		t.Fatal("failed apply was broadcast")
	}

	// The counter did not advance; a retry succeeds with the same version.
	applier.failErr = nil
	res, err := mgr.Ingest(context.Background(), taskEvent("e1", 0, map[string]any{"a": "b"}), "")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Applied.Version != 1 {
		t.Fatalf("retry version = %d, want 1", res.Applied.Version)
	}
}

func TestIngest_ManualConflictRetained(t *testing.T) {
	applier := newMemApplier()
	applier.seed(taskEvent("prior", 5, map[string]any{"status": "open"}))
	hub := &recordingHub{}
	mgr := newTestManager(applier, hub, Options{
		StrategyOverrides: map[model.EntityType]model.ResolutionStrategy{
			model.EntityTask: model.ResolveManual,
		},
	})

	res, err := mgr.Ingest(context.Background(), taskEvent("clash", 5, map[string]any{"status": "done"}), "")
	if !errors.Is(err, model.ErrConflictUnresolved) {
		t.Fatalf("err = %v, want ErrConflictUnresolved", err)
	}
	if res == nil || res.Conflict == nil {
		t.Fatal("conflict info missing from result")
	}
	if len(applier.appliedEvents()) != 0 {
		t.Fatal("manual conflict was applied")
	}
	if len(hub.calls) != 0 {
		t.Fatal("manual conflict was broadcast")
	}

	retained := mgr.UnresolvedConflicts()
	if len(retained) != 1 || retained[0].Type != model.ConflictConcurrentUpdate {
		t.Fatalf("retained conflicts = %+v", retained)
	}

	// Unrelated entities keep flowing.
	other := taskEvent("ok", 0, map[string]any{"title": "new"})
	other.EntityID = "task-2"
	other.Action = model.ActionCreate
	if _, err := mgr.Ingest(context.Background(), other, ""); err != nil {
		t.Fatalf("unrelated entity blocked: %v", err)
	}
}

func TestIngest_UnresolvedSetBounded(t *testing.T) {
	applier := newMemApplier()
	applier.seed(taskEvent("prior", 5, map[string]any{"status": "open"}))
	mgr := newTestManager(applier, nil, Options{
		DefaultStrategy: model.ResolveManual,
		MaxUnresolved:   3,
	})

	for i := 0; i < 5; i++ {
		e := taskEvent(fmt.Sprintf("c%d", i), 5, map[string]any{"status": fmt.Sprintf("s%d", i)})
		_, _ = mgr.Ingest(context.Background(), e, "")
	}
	retained := mgr.UnresolvedConflicts()
	if len(retained) != 3 {
		t.Fatalf("retained = %d, want cap 3", len(retained))
	}
	// Oldest dropped, newest kept.
	if retained[2].Remote.ID != "c4" {
		t.Fatalf("newest conflict missing: %s", retained[2].Remote.ID)
	}
}

func TestIngest_MonotonicVersionsUnderConcurrency(t *testing.T) {
	applier := newMemApplier()
	mgr := newTestManager(applier, nil, Options{})
	ctx := context.Background()

	var wg gosync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := taskEvent(fmt.Sprintf("e%d", i), 0, map[string]any{"n": fmt.Sprintf("%d", i)})
			e.Action = model.ActionCreate
			_, _ = mgr.Ingest(ctx, e, "")
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	var prev int64
	for _, e := range applier.appliedEvents() {
		if seen[e.Version] {
			t.Fatalf("duplicate applied version %d", e.Version)
		}
		seen[e.Version] = true
		if e.Version <= prev {
			t.Fatalf("applied versions not strictly increasing: %d after %d", e.Version, prev)
		}
		prev = e.Version
	}
	if got := mgr.Version(model.EntityTask, "task-1"); got != 32 {
		t.Fatalf("final version = %d, want 32", got)
	}
}

// Broadcasts for one entity must leave the manager in the order the events
// were applied. The hub's offline queue is fed by the same fan-out path, so
// an inversion here would also corrupt reconnect replay.
func TestIngest_BroadcastOrderMatchesApplyOrder(t *testing.T) {
	applier := newMemApplier()
	hub := &recordingHub{}
	mgr := newTestManager(applier, hub, Options{})
	ctx := context.Background()

	var wg gosync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := taskEvent(fmt.Sprintf("e%d", i), 0, map[string]any{"n": fmt.Sprintf("%d", i)})
			e.Action = model.ActionCreate
			_, _ = mgr.Ingest(ctx, e, "")
		}(i)
	}
	wg.Wait()

	applied := hub.byType(model.MsgSyncApplied)
	if len(applied) != 16 {
		t.Fatalf("sync_applied broadcasts = %d, want 16", len(applied))
	}
	var prev int64
	for _, call := range applied {
		if call.msg.Event.Version <= prev {
			t.Fatalf("broadcast order inverted: version %d delivered after %d", call.msg.Event.Version, prev)
		}
		prev = call.msg.Event.Version
	}
	if prev != 16 {
		t.Fatalf("last broadcast version = %d, want 16", prev)
	}
}

func TestStats_Snapshot(t *testing.T) {
	applier := newMemApplier()
	mgr := newTestManager(applier, nil, Options{})
	ctx := context.Background()

	c := taskEvent("c1", 0, map[string]any{"title": "x"})
	c.Action = model.ActionCreate
	_, _ = mgr.Ingest(ctx, c, "")
	_, _ = mgr.Ingest(ctx, taskEvent("u1", 1, map[string]any{"status": "done"}), "")

	idea := &model.SyncEvent{
		ID: "i1", EntityType: model.EntityIdea, EntityID: "idea-1",
		Action: model.ActionCreate, Data: map[string]any{"t": "v"},
		Timestamp: time.Now(), Version: 0,
	}
	_, _ = mgr.Ingest(ctx, idea, "")

	s := mgr.Stats()
	if s.EventsApplied != 3 {
		t.Fatalf("applied = %d, want 3", s.EventsApplied)
	}
	if s.ByAction[model.ActionCreate] != 2 || s.ByAction[model.ActionUpdate] != 1 {
		t.Fatalf("by action = %v", s.ByAction)
	}
	if s.ByEntityType[model.EntityTask] != 2 || s.ByEntityType[model.EntityIdea] != 1 {
		t.Fatalf("by entity = %v", s.ByEntityType)
	}
	if s.TrackedEntities != 2 {
		t.Fatalf("tracked entities = %d, want 2", s.TrackedEntities)
	}

	// Snapshot is detached from live counters.
	s.ByAction[model.ActionCreate] = 99
	if mgr.Stats().ByAction[model.ActionCreate] != 2 {
		t.Fatal("snapshot aliases internal maps")
	}
}
