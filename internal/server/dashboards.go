package server

import (
	"net/http"
)

// DashboardsHandler serves dashboard JSON from an in-memory map keyed by the
// full request path.
func DashboardsHandler(dashboards map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := dashboards[r.URL.Path]
		if !ok {
			writeJSON(w, http.StatusNotFound, errorBody("dashboard not found"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
