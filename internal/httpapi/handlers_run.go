package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reflux-run/reflux/internal/core"
	"github.com/reflux-run/reflux/internal/domain/run"
)

const maxRunLogLimit = 10000

func (h *handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), core.DefaultListLimit, core.MaxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var runs []run.Run
	if flowID := r.URL.Query().Get("flowId"); flowID != "" {
		runs, err = h.deps.Store.Runs().ListByFlow(r.Context(), flowID, limit)
	} else {
		runs, err = h.deps.Store.Runs().List(r.Context(), limit)
	}
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *handler) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rn, err := h.deps.Store.Runs().Get(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rn)
}

func (h *handler) listRunLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), core.DefaultListLimit, maxRunLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logs, err := h.deps.Store.RunLogs().ListByRun(r.Context(), id, limit)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// runWithLogs bundles a run and its logs for the "with-logs" convenience
// endpoint, avoiding a second round trip for callers that always want both.
type runWithLogs struct {
	run.Run
	Logs []run.Log `json:"logs"`
}

func (h *handler) getRunWithLogs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), core.DefaultListLimit, maxRunLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rn, err := h.deps.Store.Runs().Get(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	logs, err := h.deps.Store.RunLogs().ListByRun(r.Context(), id, limit)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runWithLogs{Run: rn, Logs: logs})
}
