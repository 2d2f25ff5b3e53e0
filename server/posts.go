package server

import (
	"net/http"
	"strconv"

	"github.com/burrowsocial/burrow/post"
)

const defaultPostListLimit = 50

// createPostRequest is the POST /api/posts body
type createPostRequest struct {
	Content string `json:"content"`
}

// HandlePosts serves POST (publish immediately) and GET (list the caller's
// posts) on /api/posts.
func (s *BurrowServer) HandlePosts(w http.ResponseWriter, r *http.Request) {
	if !requireMethods(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req createPostRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}

		created, err := s.posts.CreatePost(r.Context(), user, req.Content)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		s.logger.Infow("Post published", "post_id", shortID(created.ID), "author_id", user)
		writeJSON(w, http.StatusCreated, created)

	case http.MethodGet:
		limit := defaultPostListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		posts, err := s.posts.ListByAuthor(r.Context(), user, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if posts == nil {
			posts = []*post.Post{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"posts": posts,
			"count": len(posts),
		})
	}
}
