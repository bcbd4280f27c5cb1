package bus

import (
	"context"
	"testing"
	"time"

	"github.com/reflux-run/reflux/internal/apperr"
)

func TestDispatchRewritesLatestToDefaultVersion(t *testing.T) {
	b := New(time.Second)
	b.Register("nodes.http.request", "1.0.0", func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}, Schema{Name: "nodes.http.request"})

	out, err := b.Dispatch(context.Background(), "nodes.http.request", "latest", nil, Meta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["ok"] != true {
		t.Fatalf("expected ok=true, got %#v", out)
	}
}

func TestDispatchUnregisteredAddressIsNotFound(t *testing.T) {
	b := New(time.Second)
	_, err := b.Dispatch(context.Background(), "nodes.nonexistent", "", nil, Meta{})
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDispatchTimesOutSlowHandler(t *testing.T) {
	b := New(10 * time.Millisecond)
	b.Register("nodes.slow", "", func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error) {
		time.Sleep(time.Second)
		return nil, nil
	}, Schema{Name: "nodes.slow"})

	_, err := b.Dispatch(context.Background(), "nodes.slow", "", nil, Meta{})
	if !apperr.IsTimeout(err) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
}

func TestMetaReachesHandlerUnchanged(t *testing.T) {
	b := New(time.Second)
	var gotRunID, gotStepID string
	b.Register("nodes.echo", "", func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error) {
		gotRunID = meta.RunID
		gotStepID = meta.StepID
		return nil, nil
	}, Schema{Name: "nodes.echo"})

	_, err := b.Dispatch(context.Background(), "nodes.echo", "", nil, Meta{RunID: "run-1", StepID: "step-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRunID != "run-1" || gotStepID != "step-1" {
		t.Fatalf("meta did not reach handler unchanged: run=%s step=%s", gotRunID, gotStepID)
	}
}

func TestListAddressesReturnsRegisteredSchemas(t *testing.T) {
	b := New(time.Second)
	b.Register("nodes.a", "", func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error) {
		return nil, nil
	}, Schema{Name: "nodes.a"})
	b.Register("nodes.b", "", func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error) {
		return nil, nil
	}, Schema{Name: "nodes.b"})

	schemas := b.ListAddresses()
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}
}
