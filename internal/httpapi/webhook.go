// Webhook matching, the one non-thin handler in internal/httpapi (spec
// §4.5): an inbound request's method+path is matched against every active
// flow's "nodes.webhook.trigger" node params; on a match a run is created
// and dispatched asynchronously, matching the REST execute endpoint's
// fire-and-forget shape.
package httpapi

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/run"
)

const webhookTriggerType = "nodes.webhook.trigger"

type webhookRunResponse struct {
	RunID  string `json:"runId"`
	FlowID string `json:"flowId"`
}

// webhook handles every request under /webhook/, registered in router.go
// as a gorilla/mux PathPrefix("/webhook/") catch-all.
func (h *handler) webhook(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/webhook")
	if path == "" {
		path = "/"
	}

	flows, err := h.deps.Store.Flows().ListActive(r.Context())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	matchedFlow, matchedNode, ok := matchWebhook(flows, r.Method, path)
	if !ok {
		writeError(w, http.StatusNotFound, apperr.NewNotFoundError("webhook route", r.Method+" "+path))
		return
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	defer r.Body.Close()

	headers := make(map[string]any, len(r.Header))
	for k, v := range r.Header {
		if len(v) == 1 {
			headers[k] = v[0]
		} else {
			headers[k] = v
		}
	}
	query := make(map[string]any, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) == 1 {
			query[k] = v[0]
		} else {
			query[k] = v
		}
	}

	inputs := map[string]any{
		"method":  r.Method,
		"path":    path,
		"headers": headers,
		"query":   query,
		"body":    decodeWebhookBody(r.Header.Get("Content-Type"), body),
		"params":  matchedNode.Params,
	}

	created, err := h.deps.Store.Runs().Create(r.Context(), run.Run{
		ID:          uuid.NewString(),
		FlowID:      matchedFlow.ID,
		FlowVersion: matchedFlow.Version,
		Status:      run.StatusPending,
		Inputs:      inputs,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	go h.dispatchRun(created.ID, matchedFlow, inputs)

	writeJSON(w, http.StatusAccepted, webhookRunResponse{RunID: created.ID, FlowID: matchedFlow.ID})
}

// matchWebhook finds the first active flow with a nodes.webhook.trigger
// node whose params.path equals path and whose method matches per spec
// §4.5 ("method matches OR trigger has no method OR trigger method is
// POST").
func matchWebhook(flows []flow.Flow, method, path string) (flow.Flow, flow.Node, bool) {
	for _, f := range flows {
		for _, n := range f.Spec.Nodes {
			if n.Type != webhookTriggerType {
				continue
			}
			nodePath, _ := n.Params["path"].(string)
			if nodePath != path {
				continue
			}
			nodeMethod, _ := n.Params["method"].(string)
			if nodeMethod == "" || strings.EqualFold(nodeMethod, method) || strings.EqualFold(nodeMethod, http.MethodPost) {
				return f, n, true
			}
		}
	}
	return flow.Flow{}, flow.Node{}, false
}

// decodeWebhookBody returns the raw body as a string for non-JSON content
// types, or the parsed value for application/json, so downstream node
// templates can address {{inputs.body.field}} directly for JSON payloads.
func decodeWebhookBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		if v, ok := tryParseJSON(body); ok {
			return v
		}
	}
	return string(body)
}
