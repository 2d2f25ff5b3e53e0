package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/burrowsocial/burrow/scheduler"
)

// scheduleRequest is the POST /api/scheduled-posts body
type scheduleRequest struct {
	Content string    `json:"content"`
	RunAt   time.Time `json:"run_at"`
}

// HandleScheduledPosts serves GET (list for caller) and POST (schedule) on
// /api/scheduled-posts. The caller identity comes from the X-Burrow-User
// header.
func (s *BurrowServer) HandleScheduledPosts(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req scheduleRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}

		job, err := s.scheduler.Schedule(r.Context(), user, req.Content, req.RunAt)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		s.logger.Infow("Scheduled post created",
			"job_id", job.ID,
			"owner_id", user,
			"run_at", job.RunAt.Format(time.RFC3339))
		writeJSON(w, http.StatusCreated, job)

	case http.MethodGet:
		jobs, err := s.scheduler.ListForOwner(r.Context(), user)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if jobs == nil {
			jobs = []*scheduler.Job{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"scheduled_posts": jobs,
			"count":           len(jobs),
		})
	}
}

// HandleScheduledPost serves DELETE /api/scheduled-posts/{id}: cancellation
// of a not-yet-published post.
func (s *BurrowServer) HandleScheduledPost(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}

	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/scheduled-posts/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "scheduled post id is required")
		return
	}

	if err := s.scheduler.Cancel(r.Context(), id, user); err != nil {
		writeServiceError(w, err)
		return
	}

	s.logger.Infow("Scheduled post cancelled", "job_id", shortID(id), "owner_id", user)
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "cancelled",
		"id":     id,
	})
}

// HandleSchedulerStats serves GET /api/scheduled-posts/stats: queue counts
// and the backend the startup probe bound.
func (s *BurrowServer) HandleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := s.scheduler.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
