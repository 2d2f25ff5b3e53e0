// Package post provides the post entity and its persistence. The scheduler
// publishes through this package's store when a scheduled post comes due.
package post

import (
	"time"

	"github.com/google/uuid"
)

// Post represents a published post
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPost creates a post for the given author with a fresh identifier.
func NewPost(authorID, content string) *Post {
	now := time.Now()
	return &Post{
		ID:        "post-" + uuid.NewString(),
		AuthorID:  authorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
