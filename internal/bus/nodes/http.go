// Package nodes implements the built-in leaf node handlers registered on
// the dispatch bus at startup: http, transform, condition, database,
// email, openai, webhook. Each file registers one address via
// bus.Bus.Register and is otherwise self-contained.
package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/bus"
)

// HTTPRequestAddress is the dispatch address for the http.request node.
const HTTPRequestAddress = "nodes.http.request"

// RegisterHTTP binds the http.request handler. client's timeout, if set,
// bounds the underlying HTTP call independently of the bus's own dispatch
// timeout; a nil client gets one built from timeout.
func RegisterHTTP(b *bus.Bus, client *http.Client, timeout time.Duration) {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	b.Register("nodes.http.request", bus.DefaultVersion, httpRequestHandler(client), httpRequestSchema())
}

func httpRequestHandler(client *http.Client) bus.Handler {
	return func(ctx context.Context, params map[string]any, meta bus.Meta) (map[string]any, error) {
		url, _ := params["url"].(string)
		if url == "" {
			return nil, apperr.NewValidationError("nodes.http.request: url is required")
		}
		method, _ := params["method"].(string)
		if method == "" {
			method = http.MethodGet
		}

		var bodyReader io.Reader
		if body, ok := params["body"]; ok && body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return nil, apperr.NewValidationError("nodes.http.request: body is not JSON-serializable: %s", err)
			}
			bodyReader = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bodyReader)
		if err != nil {
			return nil, apperr.NewValidationError("nodes.http.request: %s", err)
		}
		if bodyReader != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if headers, ok := params["headers"].(map[string]any); ok {
			for k, v := range headers {
				if s, ok := v.(string); ok {
					req.Header.Set(k, s)
				}
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, apperr.NewExecutionError("nodes.http.request: %s", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apperr.NewExecutionError("nodes.http.request: reading response: %s", err)
		}

		var data any
		if len(raw) > 0 && json.Valid(raw) {
			_ = json.Unmarshal(raw, &data)
		} else {
			data = string(raw)
		}

		respHeaders := make(map[string]any, len(resp.Header))
		for k, v := range resp.Header {
			if len(v) == 1 {
				respHeaders[k] = v[0]
			} else {
				respHeaders[k] = v
			}
		}

		return map[string]any{
			"status":  resp.StatusCode,
			"headers": respHeaders,
			"data":    data,
		}, nil
	}
}

func httpRequestSchema() bus.Schema {
	return bus.Schema{
		Name:        "nodes.http.request",
		Version:     bus.DefaultVersion,
		Description: "Issues an HTTP request and returns status, headers, and parsed data.",
		Params: []bus.ParamSpec{
			{Name: "url", Type: bus.ParamString, Required: true},
			{Name: "method", Type: bus.ParamString, Default: "GET", Enum: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"}},
			{Name: "headers", Type: bus.ParamObject},
			{Name: "body", Type: bus.ParamAny},
		},
		Output: []bus.ParamSpec{
			{Name: "status", Type: bus.ParamNumber},
			{Name: "headers", Type: bus.ParamObject},
			{Name: "data", Type: bus.ParamAny},
		},
	}
}
