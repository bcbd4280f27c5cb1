package postgres

import (
	"testing"

	"github.com/reflux-run/reflux/internal/domain/flow"
)

func TestFlowStoreCreateGetListRollback(t *testing.T) {
	store, ctx := newTestStore(t)

	spec := flow.FlowSpec{Nodes: []flow.Node{{ID: "a", Type: "transform.execute"}}}
	f, err := store.Flows().Create(ctx, flow.Flow{Name: "demo", Version: "1.0.0", Spec: spec, IsActive: true})
	if err != nil {
		t.Fatalf("create flow: %v", err)
	}
	if f.ID == "" {
		t.Fatalf("expected generated id")
	}

	got, err := store.Flows().Get(ctx, f.ID)
	if err != nil {
		t.Fatalf("get flow: %v", err)
	}
	if got.Name != "demo" {
		t.Fatalf("unexpected name %q", got.Name)
	}

	f.Spec.Nodes = append(f.Spec.Nodes, flow.Node{ID: "b", Type: "condition.execute"})
	f.Version = "1.1.0"
	updated, err := store.Flows().Update(ctx, f)
	if err != nil {
		t.Fatalf("update flow: %v", err)
	}
	if len(updated.Spec.Nodes) != 2 {
		t.Fatalf("expected 2 nodes after update, got %d", len(updated.Spec.Nodes))
	}

	versions, err := store.Flows().ListVersions(ctx, f.ID, 10)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 prior version snapshot, got %d", len(versions))
	}

	rolled, err := store.Flows().Rollback(ctx, f.ID, versions[0].ID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(rolled.Spec.Nodes) != 1 {
		t.Fatalf("expected rollback to restore 1-node spec, got %d", len(rolled.Spec.Nodes))
	}

	versionsAfterRollback, err := store.Flows().ListVersions(ctx, f.ID, 10)
	if err != nil {
		t.Fatalf("list versions after rollback: %v", err)
	}
	if len(versionsAfterRollback) != 3 {
		t.Fatalf("expected 3 version snapshots after rollback, got %d", len(versionsAfterRollback))
	}
}

func TestFlowStoreDuplicateNameVersionRejected(t *testing.T) {
	store, ctx := newTestStore(t)

	spec := flow.FlowSpec{Nodes: []flow.Node{{ID: "a", Type: "transform.execute"}}}
	if _, err := store.Flows().Create(ctx, flow.Flow{Name: "dup", Version: "1.0.0", Spec: spec}); err != nil {
		t.Fatalf("create flow: %v", err)
	}
	if _, err := store.Flows().Create(ctx, flow.Flow{Name: "dup", Version: "1.0.0", Spec: spec}); err == nil {
		t.Fatalf("expected duplicate name/version to be rejected")
	}
}
