package httpapi

import (
	"net/http"
	"time"
)

// handler bundles every REST/webhook method. It is unexported: callers only
// ever see the http.Handler NewRouter returns.
type handler struct {
	deps Deps
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Timestamp: time.Now().UTC()})
}
