// Package template implements the {{...}} substitution grammar used by the
// DAG execution engine to resolve node params against the run's execution
// context before dispatch (spec §4.1). Resolution is a recursive walk over
// a typed sum of JSON values (map[string]any | []any | string | float64 |
// bool | nil) — no reflection.
package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Context is the execution context a template resolves against:
// {{inputs.x}} reads from Inputs, {{nodes.n.output.y}} reads from Nodes.
type Context struct {
	Inputs map[string]any
	Nodes  map[string]any // nodeId -> map with at least an "output" key
}

// Resolve walks value recursively, substituting every string leaf through
// the template grammar. Arrays and objects are resolved depth-first;
// non-string scalars pass through unchanged.
func Resolve(value any, ctx Context) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = Resolve(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = Resolve(val, ctx)
		}
		return out
	case string:
		return resolveString(v, ctx)
	default:
		return v
	}
}

// resolveString implements the full-string vs. inline distinction: a
// string that is exactly one "{{ ... }}" expression yields the resolved
// value's native type; a string with surrounding or interleaved text
// stringifies every substitution and concatenates.
func resolveString(s string, ctx Context) any {
	if expr, ok := fullStringExpr(s); ok {
		val, _ := lookup(expr, ctx)
		return val
	}

	var b strings.Builder
	i := 0
	for i < len(s) {
		start := strings.Index(s[i:], "{{")
		if start < 0 {
			b.WriteString(s[i:])
			break
		}
		start += i
		b.WriteString(s[i:start])

		end := strings.Index(s[start:], "}}")
		if end < 0 {
			b.WriteString(s[start:])
			break
		}
		end += start

		expr := strings.TrimSpace(s[start+2 : end])
		val, _ := lookup(expr, ctx)
		b.WriteString(stringify(val))
		i = end + 2
	}
	return b.String()
}

// fullStringExpr reports whether s is exactly one "{{ ... }}" expression
// with nothing else around it, returning the trimmed inner expression.
func fullStringExpr(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := trimmed[2 : len(trimmed)-2]
	// Reject if the string contains more than this one expression, e.g.
	// "{{a}} {{b}}" must be treated as inline, not full-string.
	if strings.Contains(inner, "}}") || strings.Contains(inner, "{{") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

// lookup resolves a dotted path expression against ctx. The prefix selects
// the root: inputs/input read Context.Inputs, nodes/steps read
// Context.Nodes, walking the node's map directly, so a node's output is
// read as nodes.<id>.output.<rest> with ".output" written out.
// Unknown or unresolved paths return (nil, false); callers never treat
// this as an error.
func lookup(expr string, ctx Context) (any, bool) {
	segments := splitPath(expr)
	if len(segments) == 0 {
		return nil, false
	}

	prefix := segments[0].key
	rest := segments[1:]

	switch prefix {
	case "inputs", "input":
		return walk(ctx.Inputs, rest)
	case "nodes", "steps":
		if len(rest) == 0 {
			return nil, false
		}
		nodeID := rest[0].key
		node, ok := ctx.Nodes[nodeID]
		if !ok {
			return nil, false
		}
		return walk(node, rest[1:])
	default:
		return nil, false
	}
}

type segment struct {
	key   string
	index []int // zero or more bracket indices applied after key, in order
}

// splitPath parses a dot-separated path where each segment may carry one or
// more trailing bracket indices, e.g. "items[0].name" or "a.b[0][1].c".
func splitPath(expr string) []segment {
	parts := strings.Split(expr, ".")
	segments := make([]segment, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		seg := segment{}
		for {
			lb := strings.IndexByte(p, '[')
			if lb < 0 {
				if seg.key == "" {
					seg.key = p
				}
				break
			}
			rb := strings.IndexByte(p[lb:], ']')
			if rb < 0 {
				if seg.key == "" {
					seg.key = p
				}
				break
			}
			rb += lb
			if seg.key == "" {
				seg.key = p[:lb]
			}
			idxStr := p[lb+1 : rb]
			if n, err := strconv.Atoi(idxStr); err == nil {
				seg.index = append(seg.index, n)
			}
			p = p[rb+1:]
		}
		segments = append(segments, seg)
	}
	return segments
}

// walk descends into root following segments, applying any bracket indices
// after each key lookup. If the walk reaches a raw JSON string before
// segments are exhausted (e.g. a webhook body whose content-type wasn't
// recognized as JSON and so was stored as text rather than decoded), the
// remaining path continues via gjson against that string instead of
// failing outright.
func walk(root any, segments []segment) (any, bool) {
	current := root
	for i, seg := range segments {
		if seg.key != "" {
			m, ok := current.(map[string]any)
			if !ok {
				if s, isStr := current.(string); isStr {
					return gjsonWalk(s, segments[i:])
				}
				return nil, false
			}
			current, ok = m[seg.key]
			if !ok {
				return nil, false
			}
		}
		for _, idx := range seg.index {
			arr, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			current = arr[idx]
		}
	}
	return current, true
}

// gjsonWalk resolves the remaining path segments against a raw JSON string
// using github.com/tidwall/gjson as a read-only path accessor.
func gjsonWalk(raw string, segments []segment) (any, bool) {
	res := gjson.Get(raw, pathExpr(segments))
	if !res.Exists() {
		return nil, false
	}
	return res.Value(), true
}

func pathExpr(segments []segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		p := seg.key
		for _, idx := range seg.index {
			p += fmt.Sprintf(".%d", idx)
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ".")
}

// stringify renders a resolved value for inline concatenation. nil and
// "not found" both render as empty string, per spec §4.1.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return ""
	}
}
