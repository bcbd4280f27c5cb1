package nodes

import (
	"context"
	"testing"

	"github.com/reflux-run/reflux/internal/bus"
)

func TestTransformHandlerComputesOutputsFromInputs(t *testing.T) {
	meta := bus.Meta{
		Inputs: map[string]any{},
		Nodes: map[string]any{
			"a": map[string]any{"output": map[string]any{"data": map[string]any{"n": float64(3)}}},
		},
	}

	out, err := transformHandler(context.Background(), map[string]any{
		"code": "outputs.y = nodes.a.output.data.n * 2",
	}, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["y"] != int64(6) && out["y"] != float64(6) {
		t.Fatalf("expected y=6, got %#v", out["y"])
	}
}

// TestTransformHandlerResolvesUpstreamNodeOutputsUnderInputs mirrors spec
// §8 scenario S1's literal transform code, which addresses upstream node
// "a"'s output as inputs.a rather than nodes.a.output.
func TestTransformHandlerResolvesUpstreamNodeOutputsUnderInputs(t *testing.T) {
	meta := bus.Meta{
		Inputs: map[string]any{},
		Nodes: map[string]any{
			"a": map[string]any{"output": map[string]any{"data": map[string]any{"n": float64(3)}}},
		},
	}

	out, err := transformHandler(context.Background(), map[string]any{
		"code": "outputs.y = inputs.a.data.n * 2",
	}, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["y"] != int64(6) && out["y"] != float64(6) {
		t.Fatalf("expected y=6, got %#v", out["y"])
	}
}

func TestTransformHandlerRequiresCode(t *testing.T) {
	if _, err := transformHandler(context.Background(), map[string]any{}, bus.Meta{}); err == nil {
		t.Fatalf("expected error for missing code")
	}
}

func TestTransformHandlerRejectsInvalidScript(t *testing.T) {
	if _, err := transformHandler(context.Background(), map[string]any{"code": "outputs.y = ("}, bus.Meta{}); err == nil {
		t.Fatalf("expected error for invalid script")
	}
}
