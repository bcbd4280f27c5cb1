package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ctxFixture() Context {
	return Context{
		Inputs: map[string]any{
			"url": "https://example.test/x",
			"n":   float64(3),
			"obj": map[string]any{"a": float64(1)},
			"arr": []any{"x", "y", "z"},
			"items": []any{
				map[string]any{"name": "first"},
				map[string]any{"name": "second"},
			},
		},
		Nodes: map[string]any{
			"a": map[string]any{
				"output": map[string]any{
					"data": map[string]any{"n": float64(3)},
				},
			},
		},
	}
}

func TestFullStringScalarPreservesType(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, float64(3), Resolve("{{inputs.n}}", ctx))
	assert.Equal(t, "https://example.test/x", Resolve("{{inputs.url}}", ctx))
}

func TestFullStringObjectAndArrayPreserveType(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, map[string]any{"a": float64(1)}, Resolve("{{inputs.obj}}", ctx))
	assert.Equal(t, []any{"x", "y", "z"}, Resolve("{{inputs.arr}}", ctx))
}

func TestInlineTemplateStringifies(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, "value-3-end", Resolve("value-{{inputs.n}}-end", ctx))
}

func TestInlineUnknownPathStringifiesEmpty(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, "a--b", Resolve("a-{{inputs.missing}}-b", ctx))
}

func TestFullStringUnknownPathYieldsNil(t *testing.T) {
	ctx := ctxFixture()
	assert.Nil(t, Resolve("{{inputs.missing}}", ctx))
}

func TestBracketIndexIntoArrayOfObjects(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, "first", Resolve("{{inputs.items[0].name}}", ctx))
	assert.Equal(t, "second", Resolve("{{inputs.items[1].name}}", ctx))
}

func TestNodesOutputPath(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, float64(3), Resolve("{{nodes.a.output.data.n}}", ctx))
}

func TestStepsAliasForNodes(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, float64(3), Resolve("{{steps.a.output.data.n}}", ctx))
}

func TestRecursiveResolutionOverNestedObject(t *testing.T) {
	ctx := ctxFixture()
	params := map[string]any{
		"url":    "{{inputs.url}}",
		"method": "GET",
		"nested": map[string]any{
			"list": []any{"{{inputs.n}}", "literal"},
		},
	}
	resolved := Resolve(params, ctx).(map[string]any)
	assert.Equal(t, "https://example.test/x", resolved["url"])
	assert.Equal(t, "GET", resolved["method"])
	nested := resolved["nested"].(map[string]any)
	list := nested["list"].([]any)
	assert.Equal(t, float64(3), list[0])
	assert.Equal(t, "literal", list[1])
}

func TestNonStringScalarsPassThrough(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, true, Resolve(true, ctx))
	assert.Equal(t, float64(42), Resolve(float64(42), ctx))
	assert.Nil(t, Resolve(nil, ctx))
}

func TestInputPrefixAlias(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, float64(3), Resolve("{{input.n}}", ctx))
}

func TestMultipleInlineExpressionsConcatenate(t *testing.T) {
	ctx := ctxFixture()
	assert.Equal(t, "3-first", Resolve("{{inputs.n}}-{{inputs.items[0].name}}", ctx))
}
