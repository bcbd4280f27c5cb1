package engine

import "github.com/reflux-run/reflux/internal/domain/flow"

// ComputeLevels groups a FlowSpec's nodes into execution levels using
// Kahn's algorithm: level 0 holds every node with no incoming edge, level
// 1 holds nodes whose dependencies are all satisfied by level 0, and so
// on. Nodes within a level carry no ordering guarantee and are dispatched
// concurrently by the engine. The caller must have already validated the
// spec is acyclic (flow.FlowSpec.Validate); ComputeLevels does not
// re-detect cycles.
func ComputeLevels(spec flow.FlowSpec) [][]string {
	inDegree := make(map[string]int, len(spec.Nodes))
	children := make(map[string][]string, len(spec.Nodes))
	for _, n := range spec.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range spec.Edges {
		inDegree[e.To]++
		children[e.From] = append(children[e.From], e.To)
	}

	var levels [][]string
	remaining := inDegree
	for len(remaining) > 0 {
		var level []string
		for id, deg := range remaining {
			if deg == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			// Unreachable if the spec was validated acyclic; guard against
			// silently dropping nodes if it wasn't.
			break
		}
		for _, id := range level {
			delete(remaining, id)
		}
		for _, id := range level {
			for _, child := range children[id] {
				if _, ok := remaining[child]; ok {
					remaining[child]--
				}
			}
		}
		levels = append(levels, level)
	}
	return levels
}
