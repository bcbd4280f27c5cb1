// Package core holds small cross-cutting helpers shared by engine, bus, and
// retention: service descriptors, retry policy, list-limit clamping, and a
// tracing span hook that defaults to a no-op.
package core

// Layer describes the architectural slice a lifecycle-managed component
// belongs to.
type Layer string

const (
	LayerIngress Layer = "ingress"
	LayerEngine  Layer = "engine"
	LayerData    Layer = "data"
)

// Descriptor advertises a component's placement and capabilities. It does
// not change runtime behavior; it lets the HTTP system-status endpoint and
// docs reason about components uniformly.
type Descriptor struct {
	Name         string
	Domain       string
	Layer        Layer
	Capabilities []string
}

// WithCapabilities returns a copy of the descriptor with additional
// capabilities appended.
func (d Descriptor) WithCapabilities(caps ...string) Descriptor {
	if len(caps) == 0 {
		return d
	}
	combined := make([]string, 0, len(d.Capabilities)+len(caps))
	combined = append(combined, d.Capabilities...)
	combined = append(combined, caps...)
	d.Capabilities = combined
	return d
}
