package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/reflux-run/reflux/internal/engine"
	"github.com/reflux-run/reflux/internal/metrics"
	"github.com/reflux-run/reflux/internal/retention"
	"github.com/reflux-run/reflux/internal/storage"
	"github.com/reflux-run/reflux/pkg/logger"
)

// Deps bundles the collaborators the HTTP surface is constructed against.
// Every field but Log is required; Log defaults to logger.NewDefault like
// the rest of the teacher's lifecycle-managed constructors.
type Deps struct {
	Store     storage.Store
	Engine    *engine.Engine
	Retention *retention.Service
	Log       *logger.Logger

	// WebhookRateLimit caps webhook trigger requests per second per
	// process; zero selects DefaultWebhookRate.
	WebhookRateLimit rate.Limit
	WebhookRateBurst int
}

// NewRouter builds the complete REFLUX HTTP surface: REST CRUD over flows,
// runs, and retention admin, the dynamic webhook matcher, and /metrics.
// Grounded on the teacher's internal/app/httpapi/handler.go NewHandler
// constructor, rebuilt on gorilla/mux for path variables.
func NewRouter(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = logger.NewDefault("httpapi")
	}
	h := &handler{deps: deps}

	r := mux.NewRouter()
	r.Use(accessLogMiddleware(deps.Log))

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/flows", h.createFlow).Methods(http.MethodPost)
	api.HandleFunc("/flows", h.listFlows).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}", h.getFlow).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}", h.updateFlow).Methods(http.MethodPut)
	api.HandleFunc("/flows/{id}", h.deleteFlow).Methods(http.MethodDelete)
	api.HandleFunc("/flows/{id}/execute", h.executeFlow).Methods(http.MethodPost)
	api.HandleFunc("/flows/{id}/versions", h.listFlowVersions).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}/versions/compare", h.compareFlowVersions).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}/versions/{vid}", h.getFlowVersion).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}/versions/{vid}/rollback", h.rollbackFlow).Methods(http.MethodPost)

	api.HandleFunc("/runs", h.listRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", h.getRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/logs", h.listRunLogs).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/with-logs", h.getRunWithLogs).Methods(http.MethodGet)

	admin := api.PathPrefix("/admin/retention").Subrouter()
	admin.HandleFunc("/policy", h.retentionPolicy).Methods(http.MethodGet)
	admin.HandleFunc("/preview", h.retentionPreview).Methods(http.MethodGet)
	admin.HandleFunc("/history", h.retentionHistory).Methods(http.MethodGet)
	admin.HandleFunc("/latest", h.retentionLatest).Methods(http.MethodGet)
	admin.HandleFunc("/stats", h.retentionStats).Methods(http.MethodGet)
	admin.HandleFunc("/cleanup", h.retentionCleanup).Methods(http.MethodPost)

	limiter := newWebhookLimiter(deps.WebhookRateLimit, deps.WebhookRateBurst)
	r.PathPrefix("/webhook/").Handler(limiter.wrap(http.HandlerFunc(h.webhook)))

	return metrics.InstrumentHandler(r)
}

const defaultAccessLogSlowThreshold = 500 * time.Millisecond
