package nodes

import (
	"context"
	"strings"

	"github.com/PaesslerAG/jsonpath"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/bus"
)

// RegisterCondition binds the condition.execute handler.
func RegisterCondition(b *bus.Bus) {
	b.Register("nodes.condition.execute", bus.DefaultVersion, conditionHandler, conditionSchema())
}

func conditionHandler(ctx context.Context, params map[string]any, meta bus.Meta) (map[string]any, error) {
	cond, _ := params["condition"].(string)
	if cond == "" {
		return nil, apperr.NewValidationError("nodes.condition.execute: condition is required")
	}

	result, err := evalCondition(cond, func(path string) (any, bool) {
		return lookupNodeProperty(path, meta)
	})
	if err != nil {
		return nil, apperr.NewExecutionError("nodes.condition.execute: %s", err)
	}

	return map[string]any{"result": result}, nil
}

// lookupNodeProperty resolves a bare dotted path (e.g. "b.y") against
// meta.Nodes["b"]["output"]["y"], matching the short form used in condition
// strings (spec example: "b.y > 4" against node "b"'s output). Paths
// starting with "$" fall back to a full JSONPath expression (e.g.
// "$.nodes.b.output.y") evaluated against the whole execution context, for
// conditions that need wildcards or bracket indexing the short form can't
// express. The condition tokenizer splits on parentheses and operator
// characters, so JSONPath filter expressions ("[?(...)]") do not parse.
func lookupNodeProperty(path string, meta bus.Meta) (any, bool) {
	if strings.HasPrefix(path, "$") {
		return lookupJSONPath(path, meta)
	}

	segs := strings.Split(path, ".")
	if len(segs) == 0 {
		return nil, false
	}
	node, ok := meta.Nodes[segs[0]]
	if !ok {
		return nil, false
	}
	nodeMap, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	current, ok := nodeMap["output"]
	if !ok {
		return nil, false
	}
	for _, seg := range segs[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// lookupJSONPath evaluates a JSONPath expression against the run's full
// node/input context, used as the condition grammar's escape hatch for
// anything the short "node.field" form can't express.
func lookupJSONPath(path string, meta bus.Meta) (any, bool) {
	root := map[string]any{"nodes": meta.Nodes, "inputs": meta.Inputs}
	v, err := jsonpath.Get(path, root)
	if err != nil {
		return nil, false
	}
	return v, true
}

func conditionSchema() bus.Schema {
	return bus.Schema{
		Name:        "nodes.condition.execute",
		Version:     bus.DefaultVersion,
		Description: "Evaluates a small fixed boolean/comparison grammar over prior node outputs.",
		Params: []bus.ParamSpec{
			{Name: "condition", Type: bus.ParamString, Required: true},
		},
		Output: []bus.ParamSpec{
			{Name: "result", Type: bus.ParamBoolean},
		},
	}
}
