package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/reflux-run/reflux/internal/apperr"
)

func newTestRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	local := New(time.Second)
	rb := NewRedis(local, rdb, "test:bus:")
	t.Cleanup(rb.Close)
	return rb
}

func TestRedisBusDispatchRoundTrip(t *testing.T) {
	rb := newTestRedisBus(t)
	rb.Register("nodes.echo", "1.0.0", func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error) {
		return map[string]any{"got": params["x"]}, nil
	}, Schema{Name: "nodes.echo"})

	if err := rb.StartWorkers(context.Background()); err != nil {
		t.Fatalf("start workers: %v", err)
	}

	out, err := rb.Dispatch(context.Background(), "nodes.echo", "1.0.0", map[string]any{"x": "hi"}, Meta{RunID: "r1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["got"] != "hi" {
		t.Fatalf("expected got=hi, got %#v", out)
	}
}

func TestRedisBusDispatchUnadvertisedAddressIsNotFound(t *testing.T) {
	rb := newTestRedisBus(t)
	_, err := rb.Dispatch(context.Background(), "nodes.nonexistent", "", nil, Meta{})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestRedisBusDispatchPropagatesHandlerError(t *testing.T) {
	rb := newTestRedisBus(t)
	rb.Register("nodes.fail", "", func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error) {
		return nil, apperr.NewExecutionError("boom")
	}, Schema{Name: "nodes.fail"})
	if err := rb.StartWorkers(context.Background()); err != nil {
		t.Fatalf("start workers: %v", err)
	}

	_, err := rb.Dispatch(context.Background(), "nodes.fail", "", nil, Meta{})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom error, got %v", err)
	}
}

func TestRedisBusMetaReachesHandlerUnchanged(t *testing.T) {
	rb := newTestRedisBus(t)
	var gotRunID, gotStepID string
	rb.Register("nodes.meta-echo", "", func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error) {
		gotRunID = meta.RunID
		gotStepID = meta.StepID
		return nil, nil
	}, Schema{Name: "nodes.meta-echo"})
	if err := rb.StartWorkers(context.Background()); err != nil {
		t.Fatalf("start workers: %v", err)
	}

	_, err := rb.Dispatch(context.Background(), "nodes.meta-echo", "", nil, Meta{RunID: "run-1", StepID: "step-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRunID != "run-1" || gotStepID != "step-1" {
		t.Fatalf("meta did not reach handler unchanged: run=%s step=%s", gotRunID, gotStepID)
	}
}
