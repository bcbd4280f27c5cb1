package nodes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reflux-run/reflux/internal/bus"
)

func TestHTTPRequestHandlerReturnsStatusHeadersAndData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"n":3}`))
	}))
	defer srv.Close()

	handler := httpRequestHandler(srv.Client())
	out, err := handler(context.Background(), map[string]any{"url": srv.URL, "method": "GET"}, bus.Meta{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out["status"] != http.StatusOK {
		t.Fatalf("expected status 200, got %#v", out["status"])
	}
	data, ok := out["data"].(map[string]any)
	if !ok || data["n"] != float64(3) {
		t.Fatalf("expected data.n=3, got %#v", out["data"])
	}
}

func TestHTTPRequestHandlerRequiresURL(t *testing.T) {
	handler := httpRequestHandler(http.DefaultClient)
	if _, err := handler(context.Background(), map[string]any{}, bus.Meta{}); err == nil {
		t.Fatalf("expected error for missing url")
	}
}
