package core

import "context"

// Tracer brackets a named span around an operation without requiring a hard
// OpenTelemetry dependency in the core packages; OTEL wiring itself is an
// external collaborator composed at cmd/refluxd's entrypoint.
type Tracer interface {
	// StartSpan begins a span and returns a derived context plus a finish
	// function that must be called with the operation's resulting error
	// (nil on success).
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))
}

// NoopTracer is the default Tracer; it does nothing.
var NoopTracer Tracer = noopTracer{}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}
