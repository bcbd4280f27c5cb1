package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dop251/goja"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/bus"
)

// TransformBudget bounds a transform.execute script's wall-clock execution
// time, enforced via goja's Interrupt mechanism rather than a context
// cancellation the VM can't observe mid-loop.
const TransformBudget = 5 * time.Second

// RegisterTransform binds the transform.execute handler.
func RegisterTransform(b *bus.Bus) {
	b.Register("nodes.transform.execute", bus.DefaultVersion, transformHandler, transformSchema())
}

// mergedInputs builds the "inputs" value transform code actually runs
// against: the run's trigger inputs plus every upstream node's output
// flattened onto the same object, keyed by node id. This matches the
// literal grammar spec §8 scenario S1 uses ("outputs.y = inputs.a.data.n *
// 2" for upstream node "a"), which addresses a prior node's output as
// inputs.<nodeId> rather than through the separate "nodes" variable (that
// variable is kept too, for nodes.<id>.output.<path>-style access).
func mergedInputs(meta bus.Meta) map[string]any {
	merged := make(map[string]any, len(meta.Inputs)+len(meta.Nodes))
	for k, v := range meta.Inputs {
		merged[k] = v
	}
	for nodeID, entry := range meta.Nodes {
		nodeMap, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if out, ok := nodeMap["output"]; ok {
			merged[nodeID] = out
		}
	}
	return merged
}

func transformHandler(ctx context.Context, params map[string]any, meta bus.Meta) (map[string]any, error) {
	code, _ := params["code"].(string)
	if code == "" {
		return nil, apperr.NewValidationError("nodes.transform.execute: code is required")
	}

	vm := goja.New()

	timer := time.AfterFunc(TransformBudget, func() {
		vm.Interrupt("transform exceeded its execution budget")
	})
	defer timer.Stop()

	outputs := vm.NewObject()
	if err := vm.Set("outputs", outputs); err != nil {
		return nil, apperr.NewExecutionError("nodes.transform.execute: %s", err)
	}
	if err := vm.Set("inputs", vm.ToValue(mergedInputs(meta))); err != nil {
		return nil, apperr.NewExecutionError("nodes.transform.execute: %s", err)
	}
	if err := vm.Set("nodes", vm.ToValue(meta.Nodes)); err != nil {
		return nil, apperr.NewExecutionError("nodes.transform.execute: %s", err)
	}
	var logs []string
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		for _, arg := range call.Arguments {
			logs = append(logs, arg.String())
		}
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	if _, err := vm.RunString(code); err != nil {
		return nil, apperr.NewExecutionError("nodes.transform.execute: %s", err)
	}

	exported := outputs.Export()
	result, ok := exported.(map[string]any)
	if !ok {
		raw, err := json.Marshal(exported)
		if err != nil {
			return nil, apperr.NewExecutionError("nodes.transform.execute: outputs is not serializable: %s", err)
		}
		_ = json.Unmarshal(raw, &result)
	}
	return result, nil
}

func transformSchema() bus.Schema {
	return bus.Schema{
		Name:        "nodes.transform.execute",
		Version:     bus.DefaultVersion,
		Description: "Runs a sandboxed JS expression over inputs (run inputs plus upstream node outputs keyed by node id), writing results to the outputs bag.",
		Params: []bus.ParamSpec{
			{Name: "code", Type: bus.ParamString, Required: true, Description: "JS statements; read inputs/nodes, assign outputs.*"},
		},
		Output: []bus.ParamSpec{
			{Name: "", Type: bus.ParamObject, Description: "Whatever the code assigned to outputs"},
		},
	}
}
