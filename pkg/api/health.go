package api

import (
	"net/http"
)

// handleHealthz is a liveness probe: it never touches the database or the
// upstream pool, so it answers even while both are degraded.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz additionally checks the store and the session pool, matching
// the readiness convention of checking every downstream dependency the
// process actually depends on to serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	ready := true

	if _, err := s.Store.ListObjectSyncConfigs(r.Context()); err != nil {
		checks["store"] = err.Error()
		ready = false
	} else {
		checks["store"] = "ok"
	}

	if s.Pool != nil {
		if s.Pool.Available() == 0 {
			checks["session_pool"] = "no idle sessions"
		} else {
			checks["session_pool"] = "ok"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": ready, "checks": checks})
}
