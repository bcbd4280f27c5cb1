package postgres

import (
	"testing"
	"time"

	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/run"
)

func TestRunStoreMarkCompletedIsIdempotent(t *testing.T) {
	store, ctx := newTestStore(t)

	f, err := store.Flows().Create(ctx, flow.Flow{
		Name: "seed", Version: "1.0.0",
		Spec: flow.FlowSpec{Nodes: []flow.Node{{ID: "a", Type: "transform.execute"}}},
	})
	if err != nil {
		t.Fatalf("create flow: %v", err)
	}

	r, err := store.Runs().Create(ctx, run.Run{FlowID: f.ID, FlowVersion: f.Version})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	completed, err := store.Runs().MarkCompleted(ctx, r.ID, map[string]any{"x": 1.0})
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if completed.Status != run.StatusCompleted {
		t.Fatalf("expected completed status, got %s", completed.Status)
	}
	firstDuration := completed.DurationMs

	// A later MarkFailed must not flip an already-completed run to failed
	// or overwrite its error/duration_ms.
	if _, err := store.Runs().MarkFailed(ctx, r.ID, "late failure"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	reloaded, err := store.Runs().Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if reloaded.Status != run.StatusCompleted {
		t.Fatalf("expected status to remain completed, got %s", reloaded.Status)
	}
	if reloaded.Error != "" {
		t.Fatalf("expected error to remain unset, got %q", reloaded.Error)
	}
	if firstDuration == nil || reloaded.DurationMs == nil || *firstDuration != *reloaded.DurationMs {
		t.Fatalf("expected duration_ms to be unchanged by the no-op transition")
	}
}

func TestRunStoreDeleteCompletedBeforeRespectsBatchSize(t *testing.T) {
	store, ctx := newTestStore(t)

	f, err := store.Flows().Create(ctx, flow.Flow{
		Name: "batch", Version: "1.0.0",
		Spec: flow.FlowSpec{Nodes: []flow.Node{{ID: "a", Type: "transform.execute"}}},
	})
	if err != nil {
		t.Fatalf("create flow: %v", err)
	}

	for i := 0; i < 5; i++ {
		r, err := store.Runs().Create(ctx, run.Run{FlowID: f.ID, FlowVersion: f.Version})
		if err != nil {
			t.Fatalf("create run: %v", err)
		}
		if _, err := store.Runs().MarkCompleted(ctx, r.ID, nil); err != nil {
			t.Fatalf("mark completed: %v", err)
		}
	}

	deleted, err := store.Runs().DeleteCompletedBefore(ctx, time.Now().UTC().Add(time.Hour), 3)
	if err != nil {
		t.Fatalf("delete completed before: %v", err)
	}
	if deleted != 3 {
		t.Fatalf("expected batch size to cap deletion at 3, got %d", deleted)
	}
}
