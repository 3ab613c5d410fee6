package api

import (
	"context"
	"net/http"
	"time"
)

// Health reports API liveness plus the reachability of the datastore and the
// session store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	checks := map[string]string{}
	if h.Store != nil {
		if err := h.Store.Ping(ctx); err != nil {
			status = "degraded"
			checks["storage"] = err.Error()
		} else {
			checks["storage"] = "ok"
		}
	}
	if err := h.sessionManager().Ping(ctx); err != nil {
		status = "degraded"
		checks["sessions"] = err.Error()
	} else {
		checks["sessions"] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"status": status, "checks": checks})
}
