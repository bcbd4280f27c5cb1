// Package flow holds the Flow, FlowVersion, and FlowSpec entities (spec §3).
package flow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/reflux-run/reflux/internal/apperr"
)

// Flow is a named, versioned workflow definition.
type Flow struct {
	ID          string
	Name        string
	Version     string
	Description string
	Spec        FlowSpec
	Tags        []string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Version is an immutable snapshot of a Flow's spec, written whenever a
// flow is updated or rolled back.
type Version struct {
	ID        string
	FlowID    string
	Version   string
	Spec      FlowSpec
	CreatedAt time.Time
	CreatedBy string
	Changelog string
}

// Node is one vertex of a FlowSpec's DAG.
type Node struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Edge is a directed dependency between two node ids.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FlowSpec is the JSON document describing a flow's DAG.
type FlowSpec struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// MarshalSpec serializes a FlowSpec for storage.
func MarshalSpec(s FlowSpec) ([]byte, error) { return json.Marshal(s) }

// UnmarshalSpec parses a FlowSpec from storage.
func UnmarshalSpec(data []byte) (FlowSpec, error) {
	var s FlowSpec
	if err := json.Unmarshal(data, &s); err != nil {
		return FlowSpec{}, fmt.Errorf("unmarshal flow spec: %w", err)
	}
	return s, nil
}

// Validate checks the structural invariants from spec §3: non-empty nodes,
// unique node ids, edges referencing declared nodes, and an acyclic graph.
// It does not compute a schedule; see internal/engine for that.
func (s FlowSpec) Validate() error {
	if len(s.Nodes) == 0 {
		return apperr.NewValidationError("flow spec must declare at least one node")
	}

	seen := make(map[string]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.ID == "" {
			return apperr.NewValidationError("node id must not be empty")
		}
		if seen[n.ID] {
			return apperr.NewValidationError("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}

	for _, e := range s.Edges {
		if !seen[e.From] {
			return apperr.NewValidationError("edge references unknown node %q", e.From)
		}
		if !seen[e.To] {
			return apperr.NewValidationError("edge references unknown node %q", e.To)
		}
	}

	if hasCycle(s) {
		return apperr.NewValidationError("Workflow contains a cycle")
	}
	return nil
}

func hasCycle(s FlowSpec) bool {
	adj := make(map[string][]string, len(s.Nodes))
	for _, e := range s.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(s.Nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, n := range s.Nodes {
		if color[n.ID] == white {
			if visit(n.ID) {
				return true
			}
		}
	}
	return false
}
