package httpserver

import "net/http"

// health handles GET /api/health ("200/503").
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	h.healthReady(w, r)
}

// healthLive handles GET /api/health/live: the process is up and able
// to serve requests, independent of its dependencies.
func (h *handlers) healthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "live"})
}

// healthReady handles GET /api/health/ready: the store must answer a
// trivial ping for the process to be considered ready to take traffic.
func (h *handlers) healthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
