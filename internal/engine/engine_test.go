package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/bus"
	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/run"
	"github.com/reflux-run/reflux/internal/storage/memory"
)

// stubDispatcher answers dispatch calls from a canned table keyed by node
// type, optionally delaying or failing, so engine tests never touch a real
// bus or network.
type stubDispatcher struct {
	mu       sync.Mutex
	byType   map[string]func(params map[string]any, meta bus.Meta) (map[string]any, error)
	delay    time.Duration
	callLog  []string
}

func (s *stubDispatcher) Dispatch(ctx context.Context, name, version string, params map[string]any, meta bus.Meta) (map[string]any, error) {
	s.mu.Lock()
	s.callLog = append(s.callLog, meta.StepID)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fn, ok := s.byType[name]
	if !ok {
		return map[string]any{}, nil
	}
	return fn(params, meta)
}

func seedRun(t *testing.T, store *memory.Store) (flow.Flow, run.Run) {
	t.Helper()
	fl, err := store.Flows().Create(context.Background(), flow.Flow{Name: "f", Version: "1.0.0"})
	if err != nil {
		t.Fatalf("create flow: %v", err)
	}
	rn, err := store.Runs().Create(context.Background(), run.Run{FlowID: fl.ID, FlowVersion: fl.Version, Status: run.StatusPending})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return fl, rn
}

// TestExecuteRunLinearThreeStep mirrors the documented linear three-step
// scenario: http -> transform -> condition, three levels of one node each.
func TestExecuteRunLinearThreeStep(t *testing.T) {
	store := memory.New()
	fl, rn := seedRun(t, store)

	dispatcher := &stubDispatcher{byType: map[string]func(params map[string]any, meta bus.Meta) (map[string]any, error){
		"nodes.http.request": func(params map[string]any, meta bus.Meta) (map[string]any, error) {
			return map[string]any{"data": map[string]any{"n": float64(3)}}, nil
		},
		"nodes.transform.execute": func(params map[string]any, meta bus.Meta) (map[string]any, error) {
			return map[string]any{"y": float64(6)}, nil
		},
		"nodes.condition.execute": func(params map[string]any, meta bus.Meta) (map[string]any, error) {
			return map[string]any{"result": true}, nil
		},
	}}

	e := New(store, dispatcher, nil, nil)

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

	aOut := result.Nodes["a"].(map[string]any)["output"].(map[string]any)
	if aOut["data"].(map[string]any)["n"] != float64(3) {
		t.Fatalf("expected nodes.a.output.data.n=3, got %#v", aOut)
	}
	bOut := result.Nodes["b"].(map[string]any)["output"].(map[string]any)
	if bOut["y"] != float64(6) {
		t.Fatalf("expected nodes.b.output.y=6, got %#v", bOut)
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

func TestExecuteRunAggregatesAllFailuresInAFailingLevel(t *testing.T) {
	store := memory.New()
	fl, rn := seedRun(t, store)

	dispatcher := &stubDispatcher{byType: map[string]func(params map[string]any, meta bus.Meta) (map[string]any, error){
		"nodes.http.request": func(params map[string]any, meta bus.Meta) (map[string]any, error) {
			if meta.StepID == "fail1" {
				return nil, apperr.NewExecutionError("boom one")
			}
			if meta.StepID == "fail2" {
				return nil, apperr.NewTimeoutError("boom two")
			}
			return map[string]any{}, nil
		},
	}}

	e := New(store, dispatcher, nil, nil)

	spec := flow.FlowSpec{
		Nodes: []flow.Node{
			{ID: "fail1", Type: "nodes.http.request", Params: map[string]any{"url": "x"}},
			{ID: "fail2", Type: "nodes.http.request", Params: map[string]any{"url": "y"}},
			{ID: "ok", Type: "nodes.http.request", Params: map[string]any{"url": "z"}},
		},
	}

	_, err := e.ExecuteRun(context.Background(), rn.ID, fl.ID, fl.Version, spec, map[string]any{})
	if err == nil {
		t.Fatalf("expected an aggregated failure error")
	}
	msg := err.Error()
	if !containsAll(msg, "fail1", "fail2", "boom one", "boom two") {
		t.Fatalf("expected aggregated message to mention both failed nodes, got: %s", msg)
	}

	updated, err := store.Runs().Get(context.Background(), rn.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if updated.Status != run.StatusFailed {
		t.Fatalf("expected run status failed, got %s", updated.Status)
	}
}

func TestExecuteRunRejectsCyclicSpec(t *testing.T) {
	store := memory.New()
	fl, rn := seedRun(t, store)
	dispatcher := &stubDispatcher{byType: map[string]func(params map[string]any, meta bus.Meta) (map[string]any, error){}}
	e := New(store, dispatcher, nil, nil)

	spec := flow.FlowSpec{
		Nodes: []flow.Node{{ID: "a", Type: "nodes.http.request"}, {ID: "b", Type: "nodes.http.request"}},
		Edges: []flow.Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}

	_, err := e.ExecuteRun(context.Background(), rn.ID, fl.ID, fl.Version, spec, map[string]any{})
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error for cyclic spec, got %v", err)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
