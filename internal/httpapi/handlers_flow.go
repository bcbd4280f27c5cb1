package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/reflux-run/reflux/internal/apperr"
	"github.com/reflux-run/reflux/internal/core"
	"github.com/reflux-run/reflux/internal/domain/flow"
	"github.com/reflux-run/reflux/internal/domain/run"
)

// flowRequest is the wire shape accepted by create/update; ID and
// timestamps are server-assigned.
type flowRequest struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Spec        flow.FlowSpec  `json:"spec"`
	Tags        []string       `json:"tags"`
	IsActive    *bool          `json:"isActive"`
}

func (h *handler) createFlow(w http.ResponseWriter, r *http.Request) {
	var req flowRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, apperr.NewValidationError("name is required"))
		return
	}
	if err := req.Spec.Validate(); err != nil {
		writeClassifiedError(w, err)
		return
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}
	version := req.Version
	if version == "" {
		version = "1.0.0"
	}

	f := flow.Flow{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Version:     version,
		Description: req.Description,
		Spec:        req.Spec,
		Tags:        req.Tags,
		IsActive:    isActive,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	created, err := h.deps.Store.Flows().Create(r.Context(), f)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listFlows(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), core.DefaultListLimit, core.MaxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var (
		flows []flow.Flow
	)
	if r.URL.Query().Get("active") == "true" {
		flows, err = h.deps.Store.Flows().ListActive(r.Context())
	} else {
		flows, err = h.deps.Store.Flows().List(r.Context(), limit)
	}
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flows)
}

func (h *handler) getFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	f, err := h.deps.Store.Flows().Get(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (h *handler) updateFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	existing, err := h.deps.Store.Flows().Get(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	var req flowRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Spec.Validate(); err != nil {
		writeClassifiedError(w, err)
		return
	}

	existing.Spec = req.Spec
	if req.Name != "" {
		existing.Name = req.Name
	}
	if req.Version != "" {
		existing.Version = req.Version
	}
	if req.Description != "" {
		existing.Description = req.Description
	}
	if req.Tags != nil {
		existing.Tags = req.Tags
	}
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	existing.UpdatedAt = time.Now().UTC()

	updated, err := h.deps.Store.Flows().Update(r.Context(), existing)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.deps.Store.Flows().Delete(r.Context(), id); err != nil {
		writeClassifiedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listFlowVersions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), core.DefaultListLimit, core.MaxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	versions, err := h.deps.Store.Flows().ListVersions(r.Context(), id, limit)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (h *handler) getFlowVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	v, err := h.deps.Store.Flows().GetVersion(r.Context(), vars["id"], vars["vid"])
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// flowVersionDiff is the comparison endpoint's response: the two requested
// versions plus a coarse node/edge-count diff, since FlowSpec carries no
// semantic diff of its own.
type flowVersionDiff struct {
	Version1    flow.Version `json:"version1"`
	Version2    flow.Version `json:"version2"`
	NodesAdded  int          `json:"nodesAdded"`
	NodesRemoved int         `json:"nodesRemoved"`
	EdgesAdded  int          `json:"edgesAdded"`
	EdgesRemoved int         `json:"edgesRemoved"`
}

func (h *handler) compareFlowVersions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	v1ID := r.URL.Query().Get("version1")
	v2ID := r.URL.Query().Get("version2")
	if v1ID == "" || v2ID == "" {
		writeError(w, http.StatusBadRequest, apperr.NewValidationError("version1 and version2 query params are required"))
		return
	}

	v1, err := h.deps.Store.Flows().GetVersion(r.Context(), id, v1ID)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	v2, err := h.deps.Store.Flows().GetVersion(r.Context(), id, v2ID)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	diff := flowVersionDiff{Version1: v1, Version2: v2}
	added, removed := diffNodeIDs(v1.Spec, v2.Spec)
	diff.NodesAdded, diff.NodesRemoved = added, removed
	added, removed = diffEdgeKeys(v1.Spec, v2.Spec)
	diff.EdgesAdded, diff.EdgesRemoved = added, removed

	writeJSON(w, http.StatusOK, diff)
}

func diffNodeIDs(a, b flow.FlowSpec) (added, removed int) {
	inA := make(map[string]bool, len(a.Nodes))
	for _, n := range a.Nodes {
		inA[n.ID] = true
	}
	inB := make(map[string]bool, len(b.Nodes))
	for _, n := range b.Nodes {
		inB[n.ID] = true
		if !inA[n.ID] {
			added++
		}
	}
	for id := range inA {
		if !inB[id] {
			removed++
		}
	}
	return added, removed
}

func diffEdgeKeys(a, b flow.FlowSpec) (added, removed int) {
	key := func(e flow.Edge) string { return e.From + "->" + e.To }
	inA := make(map[string]bool, len(a.Edges))
	for _, e := range a.Edges {
		inA[key(e)] = true
	}
	inB := make(map[string]bool, len(b.Edges))
	for _, e := range b.Edges {
		inB[key(e)] = true
		if !inA[key(e)] {
			added++
		}
	}
	for k := range inA {
		if !inB[k] {
			removed++
		}
	}
	return added, removed
}

func (h *handler) rollbackFlow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	restored, err := h.deps.Store.Flows().Rollback(r.Context(), vars["id"], vars["vid"])
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, restored)
}

// executeRequest is the body of POST /api/flows/{id}/execute.
type executeRequest struct {
	Inputs map[string]any `json:"inputs"`
}

func (h *handler) executeFlow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	f, err := h.deps.Store.Flows().Get(r.Context(), id)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	var req executeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	created, err := h.deps.Store.Runs().Create(r.Context(), run.Run{
		ID:          uuid.NewString(),
		FlowID:      f.ID,
		FlowVersion: f.Version,
		Status:      run.StatusPending,
		Inputs:      req.Inputs,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	go h.dispatchRun(created.ID, f, req.Inputs)

	writeJSON(w, http.StatusOK, created)
}

// dispatchRun runs the engine detached from the triggering request, per
// spec §4.5/§6: the HTTP response returns as soon as the run row is
// persisted in "pending".
func (h *handler) dispatchRun(runID string, f flow.Flow, inputs map[string]any) {
	ctx, cancel := detachedContext()
	defer cancel()
	if _, err := h.deps.Engine.ExecuteRun(ctx, runID, f.ID, f.Version, f.Spec, inputs); err != nil {
		h.deps.Log.WithError(err).WithField("run_id", runID).Warn("flow execution failed")
	}
}
