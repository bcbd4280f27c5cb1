package nodes

import (
	"context"
	"time"

	"github.com/reflux-run/reflux/internal/bus"
)

// RegisterWebhook binds the webhook.trigger passthrough handler. The actual
// HTTP method+path matching that creates the run lives in internal/httpapi;
// this handler only echoes the body and headers from the run's inputs back
// as its output, plus a timestamp, so downstream nodes can read the
// triggering request via
// {{nodes.<id>.output...}} the same way any other node's output is read.
func RegisterWebhook(b *bus.Bus) {
	b.Register("nodes.webhook.trigger", bus.DefaultVersion, webhookTriggerHandler, webhookTriggerSchema())
}

func webhookTriggerHandler(ctx context.Context, params map[string]any, meta bus.Meta) (map[string]any, error) {
	out := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if meta.Inputs != nil {
		if body, ok := meta.Inputs["body"]; ok {
			out["body"] = body
		}
		if headers, ok := meta.Inputs["headers"]; ok {
			out["headers"] = headers
		}
	}
	return out, nil
}

func webhookTriggerSchema() bus.Schema {
	return bus.Schema{
		Name:        "nodes.webhook.trigger",
		Version:     bus.DefaultVersion,
		Description: "Passthrough node marking a flow's HTTP trigger point.",
		Params: []bus.ParamSpec{
			{Name: "method", Type: bus.ParamString, Default: "POST"},
			{Name: "path", Type: bus.ParamString, Required: true},
		},
		Output: []bus.ParamSpec{
			{Name: "body", Type: bus.ParamAny},
			{Name: "headers", Type: bus.ParamObject},
			{Name: "timestamp", Type: bus.ParamString},
		},
	}
}
