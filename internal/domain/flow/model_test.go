package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsEmptySpec(t *testing.T) {
	err := FlowSpec{}.Validate()
	require.Error(t, err)
}

func TestValidateRejectsDuplicateNodeID(t *testing.T) {
	spec := FlowSpec{Nodes: []Node{{ID: "a"}, {ID: "a"}}}
	require.Error(t, spec.Validate())
}

func TestValidateRejectsUnknownEdgeTarget(t *testing.T) {
	spec := FlowSpec{
		Nodes: []Node{{ID: "a"}},
		Edges: []Edge{{From: "a", To: "missing"}},
	}
	require.Error(t, spec.Validate())
}

func TestValidateRejectsCycle(t *testing.T) {
	spec := FlowSpec{
		Nodes: []Node{{ID: "a"}, {ID: "b"}},
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	err := spec.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateAcceptsLinearSpec(t *testing.T) {
	spec := FlowSpec{
		Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	}
	assert.NoError(t, spec.Validate())
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	spec := FlowSpec{
		Nodes: []Node{{ID: "a", Type: "nodes.http.request", Params: map[string]any{"url": "https://example.test"}}},
	}
	data, err := MarshalSpec(spec)
	require.NoError(t, err)

	round, err := UnmarshalSpec(data)
	require.NoError(t, err)
	assert.Equal(t, spec.Nodes[0].ID, round.Nodes[0].ID)
	assert.Equal(t, spec.Nodes[0].Type, round.Nodes[0].Type)
}
