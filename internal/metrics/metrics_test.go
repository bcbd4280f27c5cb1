package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalPathCollapsesIDs(t *testing.T) {
	assert.Equal(t, "/api/runs/:id", canonicalPath("/api/runs/3fa85f64-5717-4562-b3fc-2c963f66afa6"))
	assert.Equal(t, "/api/flows", canonicalPath("/api/flows"))
}

func TestInstrumentHandlerRecordsRequest(t *testing.T) {
	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/ask-ai", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	families, err := Registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecordCleanupSkipsZeroCategories(t *testing.T) {
	// exercised for side effects only; must not panic on zero counts
	RecordCleanup("manual", true, map[string]int64{"runs.successful": 0, "runs.failed": 3})
}
