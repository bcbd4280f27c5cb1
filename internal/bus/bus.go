// Package bus implements the node dispatch bus (spec §4.2): a name- and
// version-addressed request/reply RPC that decouples the DAG execution
// engine from node handler implementations. Addresses have the shape
// "<version>.<name>.execute"; "latest" is rewritten to "1.0.0" before
// lookup. Grounded on the teacher's lifecycle-managed service pattern
// (internal/app/services/oracle/dispatcher.go) generalized from a polling
// loop to a synchronous registry lookup + invoke, since the bus itself has
// no background loop — only the handlers it wraps may.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reflux-run/reflux/internal/apperr"
)

// DefaultVersion is substituted for the "latest" pseudo-version, a
// documented simplification (spec §9 open question 1): a full
// implementation would resolve "latest" against the newest active
// version registered per node name.
const DefaultVersion = "1.0.0"

// DefaultTimeout bounds a single dispatch call absent a per-call override.
const DefaultTimeout = 30 * time.Second

// Meta carries the execution context passed alongside a node's resolved
// params: the run and step identifiers plus read-only views of the run's
// inputs and the outputs produced by already-completed nodes.
type Meta struct {
	RunID  string
	StepID string
	Inputs map[string]any
	Nodes  map[string]any
}

// Handler executes one node invocation and returns its output bag.
type Handler func(ctx context.Context, params map[string]any, meta Meta) (map[string]any, error)

// ParamType is one entry of the registry introspection alphabet (spec
// §4.2): the set of shapes a node parameter can take for UI form
// generation.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
	ParamAny     ParamType = "any"
)

// ParamSpec documents one parameter of a registered node for schema
// introspection.
type ParamSpec struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description string
	Enum        []string
	Min         *float64
	Max         *float64
}

// Schema is the introspectable contract of one registered node type.
type Schema struct {
	Name        string
	Version     string
	Description string
	Params      []ParamSpec
	Output      []ParamSpec
}

type registration struct {
	handler Handler
	schema  Schema
}

// Bus is the in-process dispatch table. The same process hosts both the
// client (the engine) and the handlers (internal/bus/nodes), satisfying
// spec §4.2's transport note that client and handler may share a process.
type Bus struct {
	mu      sync.RWMutex
	entries map[string]registration
	timeout time.Duration
}

// New constructs an empty Bus. timeout bounds every Dispatch call unless
// overridden per-call via context; zero selects DefaultTimeout.
func New(timeout time.Duration) *Bus {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Bus{entries: make(map[string]registration), timeout: timeout}
}

// Register binds a handler and its schema under name@version. Re-registering
// the same address overwrites the prior handler, supporting hot-reload of
// node implementations in dev mode.
func (b *Bus) Register(name, version string, handler Handler, schema Schema) {
	if version == "" {
		version = DefaultVersion
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[address(name, version)] = registration{handler: handler, schema: schema}
}

// Dispatch invokes the handler registered for name@version with params and
// meta, enforcing the bus's per-call timeout. version == "latest" resolves
// to DefaultVersion. Returns a NotFoundError if no handler is registered.
func (b *Bus) Dispatch(ctx context.Context, name, version string, params map[string]any, meta Meta) (map[string]any, error) {
	if version == "" || version == "latest" {
		version = DefaultVersion
	}

	b.mu.RLock()
	reg, ok := b.entries[address(name, version)]
	b.mu.RUnlock()
	if !ok {
		return nil, apperr.NewNotFoundError("node handler", address(name, version))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		out map[string]any
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := reg.handler(callCtx, params, meta)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-callCtx.Done():
		return nil, apperr.NewTimeoutError("dispatch %s timed out", address(name, version))
	}
}

// ListAddresses returns every registered address's schema, sorted by
// address, for the node schema introspection endpoint.
func (b *Bus) ListAddresses() []Schema {
	b.mu.RLock()
	defer b.mu.RUnlock()
	addrs := make([]string, 0, len(b.entries))
	for addr := range b.entries {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	out := make([]Schema, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, b.entries[addr].schema)
	}
	return out
}

func address(name, version string) string {
	return fmt.Sprintf("%s.%s.execute", version, name)
}
