package server

import (
	"net/http"

	"github.com/burrowsocial/burrow/internal/version"
)

// HandleHealth serves GET /health with liveness info and which scheduling
// backend the process bound at startup.
func (s *BurrowServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	dbStatus := "ok"
	if s.db == nil {
		dbStatus = "unavailable"
	} else if err := s.db.PingContext(r.Context()); err != nil {
		dbStatus = "unreachable"
	}

	backend := s.scheduler.BackendType()
	if backend == "" {
		backend = "starting"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"version":           version.Version,
		"database":          dbStatus,
		"scheduler_backend": backend,
		"clients":           s.clientCount(),
	})
}

func (s *BurrowServer) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
