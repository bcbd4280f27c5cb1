package nodes

import (
	"context"
	"testing"

	"github.com/reflux-run/reflux/internal/bus"
)

func TestConditionHandlerEvaluatesNumericComparisonAgainstNodeOutput(t *testing.T) {
	meta := bus.Meta{
		Nodes: map[string]any{
			"b": map[string]any{"output": map[string]any{"y": float64(6)}},
		},
	}

	out, err := conditionHandler(context.Background(), map[string]any{"condition": "b.y > 4"}, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["result"] != true {
		t.Fatalf("expected result=true, got %#v", out["result"])
	}
}

func TestConditionHandlerSupportsBooleanAndNotOperators(t *testing.T) {
	meta := bus.Meta{
		Nodes: map[string]any{
			"a": map[string]any{"output": map[string]any{"ok": true}},
			"b": map[string]any{"output": map[string]any{"n": float64(2)}},
		},
	}

	out, err := conditionHandler(context.Background(), map[string]any{"condition": "a.ok && !(b.n > 10)"}, meta)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["result"] != true {
		t.Fatalf("expected result=true, got %#v", out["result"])
	}
}

func TestConditionHandlerRequiresCondition(t *testing.T) {
	if _, err := conditionHandler(context.Background(), map[string]any{}, bus.Meta{}); err == nil {
		t.Fatalf("expected error for missing condition")
	}
}

func TestConditionHandlerUnknownPathIsFalsyNotError(t *testing.T) {
	out, err := conditionHandler(context.Background(), map[string]any{"condition": "missing.x === 1"}, bus.Meta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["result"] != false {
		t.Fatalf("expected result=false for unknown path, got %#v", out["result"])
	}
}
