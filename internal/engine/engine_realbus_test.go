package engine

import (
	"context"
	"testing"
	"time"

	"github.com/reflux-run/reflux/internal/bus"
	"github.com/reflux-run/reflux/internal/bus/nodes"
	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/run"
	"github.com/reflux-run/reflux/internal/storage/memory"
)

// TestExecuteRunLinearThreeStepAgainstRealTransformAndConditionHandlers
// proves spec §8 scenario S1 end-to-end through the real node handlers
// (only nodes.http.request is stubbed, to avoid a real network call), not
// the fully-stubbed dispatcher TestExecuteRunLinearThreeStep uses. It
// guards against S1's literal transform code ("outputs.y = inputs.a.data.n
// * 2") silently failing to resolve "inputs.a" against the real
// transformHandler.
func TestExecuteRunLinearThreeStepAgainstRealTransformAndConditionHandlers(t *testing.T) {
	store := memory.New()
	fl, rn := seedRun(t, store)

	b := bus.New(time.Second)
	b.Register("nodes.http.request", bus.DefaultVersion, func(ctx context.Context, params map[string]any, meta bus.Meta) (map[string]any, error) {
		return map[string]any{"status": 200, "data": map[string]any{"n": float64(3)}}, nil
	}, bus.Schema{Name: "nodes.http.request"})
	nodes.RegisterTransform(b)
	nodes.RegisterCondition(b)

	e := New(store, b, nil, nil)

	spec := flow.FlowSpec{
		Nodes: []flow.Node{
			{ID: "a", Type: "nodes.http.request", Params: map[string]any{"url": "https://example.test/x", "method": "GET"}},
			{ID: "b", Type: "nodes.transform.execute", Params: map[string]any{"code": "outputs.y = inputs.a.data.n * 2"}},
			{ID: "c", Type: "nodes.condition.execute", Params: map[string]any{"condition": "b.y > 4"}},
		},
		Edges: []flow.Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}

	result, err := e.ExecuteRun(context.Background(), rn.ID, fl.ID, fl.Version, spec, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bOut := result.Nodes["b"].(map[string]any)["output"].(map[string]any)
	if bOut["y"] != int64(6) && bOut["y"] != float64(6) {
		t.Fatalf("expected nodes.b.output.y=6, got %#v", bOut["y"])
	}
	cOut := result.Nodes["c"].(map[string]any)["output"].(map[string]any)
	if cOut["result"] != true {
		t.Fatalf("expected nodes.c.output.result=true, got %#v", cOut)
	}

	updated, err := store.Runs().Get(context.Background(), rn.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if updated.Status != run.StatusCompleted {
		t.Fatalf("expected run status completed, got %s", updated.Status)
	}
}
