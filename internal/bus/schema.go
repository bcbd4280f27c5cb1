package bus

// PortType is the documentation-layer type vocabulary for the node schema
// registry (spec §4.2) — richer than ParamType, which only covers the
// dispatch-time parameter alphabet used for form generation.
type PortType string

const (
	PortString       PortType = "string"
	PortNumber       PortType = "number"
	PortBoolean      PortType = "boolean"
	PortObject       PortType = "object"
	PortArray        PortType = "array"
	PortAny          PortType = "any"
	PortJSON         PortType = "json"
	PortHTTPRequest  PortType = "http.request"
	PortHTTPResponse PortType = "http.response"
	PortOpenAIMsg    PortType = "openai.message"
	PortWebhook      PortType = "webhook.payload"
)

// Port is one named slot of a node's typed contract.
type Port struct {
	Name        string
	Type        PortType
	Required    bool
	Description string
}

// NodeSchema is a node type's documentation-layer port contract, distinct
// from the dispatch-time Schema used for parameter validation/form
// generation: NodeSchema exists so UI tooling can validate edges between
// nodes by type compatibility.
type NodeSchema struct {
	Type     string
	Category string
	Inputs   []Port
	Outputs  []Port
}

// nodeSchemas is the static catalog of built-in node port contracts.
var nodeSchemas = map[string]NodeSchema{
	"nodes.http.request": {
		Type: "nodes.http.request", Category: "network",
		Inputs: []Port{
			{Name: "url", Type: PortString, Required: true},
			{Name: "method", Type: PortString},
			{Name: "headers", Type: PortObject},
			{Name: "body", Type: PortAny},
		},
		Outputs: []Port{
			{Name: "status", Type: PortNumber},
			{Name: "headers", Type: PortObject},
			{Name: "data", Type: PortHTTPResponse},
		},
	},
	"nodes.transform.execute": {
		Type: "nodes.transform.execute", Category: "logic",
		Inputs:  []Port{{Name: "code", Type: PortString, Required: true}},
		Outputs: []Port{{Name: "outputs", Type: PortJSON}},
	},
	"nodes.condition.execute": {
		Type: "nodes.condition.execute", Category: "logic",
		Inputs:  []Port{{Name: "condition", Type: PortString, Required: true}},
		Outputs: []Port{{Name: "result", Type: PortBoolean}},
	},
	"nodes.database.query": {
		Type: "nodes.database.query", Category: "storage",
		Inputs: []Port{
			{Name: "connectionString", Type: PortString},
			{Name: "query", Type: PortString, Required: true},
			{Name: "params", Type: PortArray},
		},
		Outputs: []Port{
			{Name: "rows", Type: PortArray},
			{Name: "rowCount", Type: PortNumber},
			{Name: "fields", Type: PortArray},
		},
	},
	"nodes.email.send": {
		Type: "nodes.email.send", Category: "communication",
		Inputs: []Port{
			{Name: "to", Type: PortArray, Required: true},
			{Name: "subject", Type: PortString, Required: true},
			{Name: "text", Type: PortString},
			{Name: "html", Type: PortString},
		},
		Outputs: []Port{
			{Name: "messageId", Type: PortString},
			{Name: "accepted", Type: PortArray},
			{Name: "rejected", Type: PortArray},
		},
	},
	"nodes.openai.chat": {
		Type: "nodes.openai.chat", Category: "ai",
		Inputs: []Port{
			{Name: "model", Type: PortString, Required: true},
			{Name: "prompt", Type: PortString, Required: true},
		},
		Outputs: []Port{
			{Name: "content", Type: PortOpenAIMsg},
			{Name: "usage", Type: PortObject},
		},
	},
	"nodes.webhook.trigger": {
		Type: "nodes.webhook.trigger", Category: "trigger",
		Inputs: []Port{
			{Name: "method", Type: PortString},
			{Name: "path", Type: PortString, Required: true},
		},
		Outputs: []Port{
			{Name: "body", Type: PortWebhook},
			{Name: "headers", Type: PortObject},
		},
	},
}

// PortSchema returns the documentation-layer port contract for a built-in
// node type.
func PortSchema(nodeType string) (NodeSchema, bool) {
	s, ok := nodeSchemas[nodeType]
	return s, ok
}

// ListNodeSchemas returns every built-in node's port contract, for the
// GET /api/nodes/schema endpoint.
func ListNodeSchemas() []NodeSchema {
	out := make([]NodeSchema, 0, len(nodeSchemas))
	for _, s := range nodeSchemas {
		out = append(out, s)
	}
	return out
}

// PortsCompatible reports whether a value of type from may flow into a port
// of type to, per spec §4.2's compatibility rules: any is bidirectionally
// compatible with everything; equal types are always compatible; json is
// compatible with object/array; http.response and webhook.payload widen to
// object; openai.message widens to string; object/json/webhook.payload may
// additionally narrow to string/number to support templating.
func PortsCompatible(from, to PortType) bool {
	if from == PortAny || to == PortAny {
		return true
	}
	if from == to {
		return true
	}
	switch {
	case from == PortJSON && (to == PortObject || to == PortArray):
		return true
	case (from == PortHTTPResponse || from == PortWebhook) && to == PortObject:
		return true
	case from == PortOpenAIMsg && to == PortString:
		return true
	case (from == PortObject || from == PortJSON || from == PortWebhook) && (to == PortString || to == PortNumber):
		return true
	}
	return false
}
