package httpapi

import (
	"errors"
	"net/http"

	"github.com/reflux-run/reflux/internal/core"
	"github.com/reflux-run/reflux/internal/domain/cleanupaudit"
	"github.com/reflux-run/reflux/internal/retention"
)

func (h *handler) retentionPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Retention.Policy().Snapshot())
}

func (h *handler) retentionPreview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.deps.Retention.Preview(r.Context())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *handler) retentionHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), core.DefaultListLimit, core.MaxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	history, err := h.deps.Store.CleanupAudits().List(r.Context(), limit)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *handler) retentionLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.deps.Store.CleanupAudits().Latest(r.Context())
	if err != nil {
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

// retentionStatsResponse summarizes recent cleanup history for an
// at-a-glance dashboard view, distinct from /latest (one audit row) and
// /history (the full paginated list).
type retentionStatsResponse struct {
	TotalRuns      int                  `json:"totalRuns"`
	SuccessfulRuns int                  `json:"successfulRuns"`
	FailedRuns     int                  `json:"failedRuns"`
	TotalDeleted   cleanupaudit.Counts  `json:"totalDeleted"`
	Latest         *cleanupaudit.Audit  `json:"latest,omitempty"`
}

func (h *handler) retentionStats(w http.ResponseWriter, r *http.Request) {
	history, err := h.deps.Store.CleanupAudits().List(r.Context(), core.MaxListLimit)
	if err != nil {
		writeClassifiedError(w, err)
		return
	}

	stats := retentionStatsResponse{TotalRuns: len(history)}
	for i, a := range history {
		if a.Success {
			stats.SuccessfulRuns++
		} else {
			stats.FailedRuns++
		}
		stats.TotalDeleted.RunsSuccessful += a.Deleted.RunsSuccessful
		stats.TotalDeleted.RunsFailed += a.Deleted.RunsFailed
		stats.TotalDeleted.RunsCancelled += a.Deleted.RunsCancelled
		stats.TotalDeleted.LogsDebug += a.Deleted.LogsDebug
		stats.TotalDeleted.LogsInfo += a.Deleted.LogsInfo
		stats.TotalDeleted.LogsWarn += a.Deleted.LogsWarn
		stats.TotalDeleted.LogsError += a.Deleted.LogsError
		stats.TotalDeleted.Artifacts += a.Deleted.Artifacts
		stats.TotalDeleted.FlowVersions += a.Deleted.FlowVersions
		stats.TotalDeleted.MetricsRaw += a.Deleted.MetricsRaw
		if i == 0 {
			latest := a
			stats.Latest = &latest
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

type cleanupRequest struct {
	DryRun bool `json:"dryRun"`
}

func (h *handler) retentionCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	result, err := h.deps.Retention.Cleanup(r.Context(), retention.Request{
		DryRun:      req.DryRun,
		TriggeredBy: cleanupaudit.TriggeredManual,
	})
	if err != nil {
		if errors.Is(err, retention.ErrLockHeld) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeClassifiedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
