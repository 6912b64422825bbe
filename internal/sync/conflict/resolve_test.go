package conflict

import (
	"reflect"
	"testing"
	"time"

	"github.com/halcyon-ai/halcyon-sync/internal/model"
)

func conflictOf(local, remote *model.SyncEvent, ct model.ConflictType) *model.ConflictInfo {
	return &model.ConflictInfo{
		EntityType: local.EntityType,
		EntityID:   local.EntityID,
		Local:      local.Clone(),
		Remote:     remote.Clone(),
		Type:       ct,
	}
}

func TestResolve_FieldMergeUnion(t *testing.T) {
	// Two patches on the same base: the union survives, original values
	// preserved for non-overlapping keys.
	local := evt("a", model.ActionUpdate, 5, map[string]any{"title": "A"})
	remote := evt("b", model.ActionUpdate, 5, map[string]any{"body": "B"})
	remote.Timestamp = local.Timestamp.Add(time.Second)

	r := NewResolver(model.ResolveLastWriteWins, nil)
	c := conflictOf(local, remote, model.ConflictConcurrentUpdate)
	out, strategy, ok := r.Resolve(c)
	if !ok || strategy != model.ResolveFieldMerge {
		t.Fatalf("want field_merge, got strategy=%s ok=%v", strategy, ok)
	}
	want := map[string]any{"title": "A", "body": "B"}
	if !reflect.DeepEqual(out.Data, want) {
		t.Fatalf("merged data = %v, want %v", out.Data, want)
	}
	if out.Version != 6 {
		t.Fatalf("merged version = %d, want 6", out.Version)
	}
}

func TestResolve_FieldMergeOverlapByTimestamp(t *testing.T) {
	local := evt("a", model.ActionUpdate, 5, map[string]any{"title": "old", "body": "keep"})
	remote := evt("b", model.ActionUpdate, 5, map[string]any{"title": "new"})
	remote.Timestamp = local.Timestamp.Add(time.Second)

	r := NewResolver(model.ResolveLastWriteWins, nil)
	out, _, _ := r.Resolve(conflictOf(local, remote, model.ConflictConcurrentUpdate))
	if out.Data["title"] != "new" {
		t.Fatalf("later write lost: title=%v", out.Data["title"])
	}
	if out.Data["body"] != "keep" {
		t.Fatalf("non-overlapping field dropped: body=%v", out.Data["body"])
	}
}

func TestResolve_LastWriteWinsTiebreak(t *testing.T) {
	// Identical timestamps: lexical id comparison decides, so the outcome
	// never depends on arrival order.
	local := evt("aaa", model.ActionCreate, 5, map[string]any{"title": "local"})
	remote := evt("zzz", model.ActionCreate, 5, map[string]any{"title": "remote"})

	r := NewResolver(model.ResolveLastWriteWins, nil)
	c := conflictOf(local, remote, model.ConflictConcurrentUpdate)
	out, strategy, ok := r.Resolve(c)
	if !ok || strategy != model.ResolveLastWriteWins {
		t.Fatalf("want last_write_wins, got strategy=%s ok=%v", strategy, ok)
	}
	if out.Data["title"] != "remote" {
		t.Fatalf("tiebreak picked %v, want remote (greater id)", out.Data["title"])
	}

	// Swapped sides, same outcome.
	out2, _, _ := r.Resolve(conflictOf(remote, local, model.ConflictConcurrentUpdate))
	if out2.Data["title"] != "remote" {
		t.Fatalf("tiebreak depends on side order: %v", out2.Data["title"])
	}
}

func TestResolve_DeletePrecedence(t *testing.T) {
	upd := evt("a", model.ActionUpdate, 5, map[string]any{"title": "A"})
	del := evt("b", model.ActionDelete, 5, nil)
	// The update is newer than the delete; delete still wins.
	upd.Timestamp = del.Timestamp.Add(time.Minute)

	r := NewResolver(model.ResolveLastWriteWins, nil)
	for name, c := range map[string]*model.ConflictInfo{
		"delete local":  conflictOf(del, upd, model.ConflictDeleteVsUpdate),
		"delete remote": conflictOf(upd, del, model.ConflictDeleteVsUpdate),
	} {
		out, strategy, ok := r.Resolve(c)
		if !ok || strategy != model.ResolveDeleteWins {
			t.Fatalf("%s: want delete_wins, got strategy=%s ok=%v", name, strategy, ok)
		}
		if out.Action != model.ActionDelete {
			t.Fatalf("%s: resolved action = %s, want delete", name, out.Action)
		}
		if !out.Timestamp.Equal(upd.Timestamp) {
			t.Fatalf("%s: resolved timestamp %v, want the later %v", name, out.Timestamp, upd.Timestamp)
		}
	}
}

func TestResolve_Manual(t *testing.T) {
	r := NewResolver(model.ResolveManual, nil)
	local := evt("a", model.ActionUpdate, 5, map[string]any{"title": "A"})
	remote := evt("b", model.ActionUpdate, 5, map[string]any{"title": "B"})
	out, strategy, ok := r.Resolve(conflictOf(local, remote, model.ConflictConcurrentUpdate))
	if ok || out != nil || strategy != model.ResolveManual {
		t.Fatalf("manual must not merge: out=%v strategy=%s ok=%v", out, strategy, ok)
	}
}

func TestResolve_PerEntityOverride(t *testing.T) {
	r := NewResolver(model.ResolveLastWriteWins, map[model.EntityType]model.ResolutionStrategy{
		model.EntityIdea: model.ResolveManual,
	})
	local := evt("a", model.ActionUpdate, 5, map[string]any{"title": "A"})
	remote := evt("b", model.ActionUpdate, 5, map[string]any{"title": "B"})
	if _, strategy, ok := r.Resolve(conflictOf(local, remote, model.ConflictConcurrentUpdate)); ok || strategy != model.ResolveManual {
		t.Fatalf("idea override ignored: strategy=%s ok=%v", strategy, ok)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	local := evt("a", model.ActionUpdate, 5, map[string]any{"title": "A", "n": "1"})
	remote := evt("b", model.ActionUpdate, 5, map[string]any{"title": "B", "body": "x"})
	remote.Timestamp = local.Timestamp.Add(time.Second)

	r := NewResolver(model.ResolveLastWriteWins, nil)
	c := conflictOf(local, remote, model.ConflictConcurrentUpdate)

	first, s1, ok1 := r.Resolve(c)
	second, s2, ok2 := r.Resolve(c)
	if ok1 != ok2 || s1 != s2 || !reflect.DeepEqual(first, second) {
		t.Fatalf("resolution not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
